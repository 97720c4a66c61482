package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/api"
	"github.com/spacemeshos/pose/challenge"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/roles"
	"github.com/spacemeshos/pose/service"
	"github.com/spacemeshos/pose/shared"
)

const maxBodySize = 8 << 20

type handler struct {
	svc *service.Service
}

func newRouter(svc *service.Service, logger *zap.Logger) http.Handler {
	h := &handler{svc: svc}
	router := mux.NewRouter()
	router.Use(requestLogger(logger))

	pose := router.PathPrefix("/pose").Subrouter()
	pose.HandleFunc("/info", h.info).Methods(http.MethodGet)
	pose.HandleFunc("/epochs", h.startEpoch).Methods(http.MethodPost)
	pose.HandleFunc("/epochs/{epoch}/close", h.closeEpoch).Methods(http.MethodPost)
	pose.HandleFunc("/epochs/{epoch}/rewards", h.computeRewards).Methods(http.MethodPost)
	pose.HandleFunc("/epochs/{epoch}/batch", h.getBatch).Methods(http.MethodGet)
	pose.HandleFunc("/challenge", h.issueChallenge).Methods(http.MethodPost)
	pose.HandleFunc("/receipt", h.submitReceipt).Methods(http.MethodPost)
	pose.HandleFunc("/batch", h.processBatch).Methods(http.MethodPost)
	pose.HandleFunc("/batch/{batch}/finalize", h.finalizeBatch).Methods(http.MethodPost)
	pose.HandleFunc("/nodes/{node}/penalty", h.penalty).Methods(http.MethodGet)
	pose.HandleFunc("/disputes", h.disputes).Methods(http.MethodGet)
	pose.HandleFunc("/disputes/summary", h.disputeSummary).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger attaches a logger tagged with a fresh request id to every request.
func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			logger := logger.Named(route).With(zap.Stringer("request_id", uuid.New()))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(logging.NewContext(r.Context(), logger)))

			requestsMetric.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			logger.Debug("request served",
				zap.String("method", r.Method),
				zap.Int("status", rec.status),
				zap.Duration("took", time.Since(start)),
			)
			if rec.status >= http.StatusInternalServerError {
				logger.Info("FAILURE", zap.Int("status", rec.status))
			}
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeReason(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, api.ErrorResponse{OK: false, Reason: reason})
}

// writeError maps a service error to a status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownChallenge),
		errors.Is(err, service.ErrUnknownEpoch),
		errors.Is(err, aggregation.ErrNotFound),
		errors.Is(err, dispute.ErrUnknownBatch):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoEpoch),
		errors.Is(err, service.ErrEpochStarted),
		errors.Is(err, service.ErrStaleEpoch),
		errors.Is(err, service.ErrEpochClosed),
		errors.Is(err, service.ErrNotChallenger),
		errors.Is(err, dispute.ErrBatchDisputed):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNodePenalized):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidBatch),
		errors.Is(err, service.ErrUnexpectedAggregator),
		errors.Is(err, challenge.ErrInvalidType),
		errors.Is(err, roles.ErrNoValidators):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeReason(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeReason(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return false
	}
	return true
}

func epochVar(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["epoch"], 10, 64)
	if err != nil {
		writeReason(w, http.StatusBadRequest, "invalid epoch")
		return 0, false
	}
	return epoch, true
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	resp := api.InfoResponse{NodeID: h.svc.NodeID()}
	if epoch, ok := h.svc.CurrentEpoch(); ok {
		resp.CurrentEpoch = &epoch
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) startEpoch(w http.ResponseWriter, r *http.Request) {
	var req api.StartEpochRequest
	if !decode(w, r, &req) {
		return
	}
	assignment, err := h.svc.StartEpoch(r.Context(), req.EpochID, req.BlockHash, req.Validators)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.StartEpochResponse{
		EpochID:    req.EpochID,
		Challenger: assignment.Challenger,
		Aggregator: assignment.Aggregator,
	})
}

func (h *handler) closeEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochVar(w, r)
	if !ok {
		return
	}
	batch, err := h.svc.CloseEpoch(r.Context(), epoch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CloseEpochResponse{EpochID: epoch, Batch: batch})
}

func (h *handler) computeRewards(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochVar(w, r)
	if !ok {
		return
	}
	var req api.ComputeRewardsRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.ComputeRewards(r.Context(), epoch, req.Pool, req.Stats)
	if err != nil {
		writeReason(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// getBatch serves the batch of the given aggregator, or of the epoch's
// assigned aggregator when none is given.
func (h *handler) getBatch(w http.ResponseWriter, r *http.Request) {
	epoch, ok := epochVar(w, r)
	if !ok {
		return
	}
	var aggregator shared.NodeID
	if raw := r.URL.Query().Get("aggregator"); raw != "" {
		id, err := shared.NodeIDFromHex(raw)
		if err != nil {
			writeReason(w, http.StatusBadRequest, "invalid aggregator id")
			return
		}
		aggregator = id
	} else if assignment, ok := h.svc.Assignment(epoch); ok {
		aggregator = assignment.Aggregator
	} else {
		writeReason(w, http.StatusBadRequest, "aggregator required for an unknown epoch")
		return
	}

	batch, err := h.svc.Batch(r.Context(), epoch, aggregator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *handler) issueChallenge(w http.ResponseWriter, r *http.Request) {
	var req api.IssueChallengeRequest
	if !decode(w, r, &req) {
		return
	}
	ch, reason, err := h.svc.IssueChallenge(r.Context(), service.IssueRequest{
		NodeID:    req.NodeID,
		Type:      req.ChallengeType,
		QuerySpec: req.QuerySpec,
	})
	switch {
	case err != nil:
		writeError(w, r, err)
	case reason != challenge.ReasonNone:
		writeJSON(w, http.StatusTooManyRequests, api.IssueChallengeResponse{Reason: string(reason)})
	default:
		writeJSON(w, http.StatusOK, api.IssueChallengeResponse{OK: true, Challenge: ch})
	}
}

func (h *handler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	var rc shared.ReceiptMessage
	if !decode(w, r, &rc) {
		return
	}
	sub, err := h.svc.SubmitReceipt(r.Context(), &rc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !sub.Result.OK {
		writeJSON(w, http.StatusUnprocessableEntity, api.SubmitReceiptResponse{
			Reason:   string(sub.Result.Reason),
			Evidence: sub.Evidence,
			Penalty:  sub.Penalty,
		})
		return
	}
	bodyHash := sub.Result.ResponseBodyHash
	writeJSON(w, http.StatusOK, api.SubmitReceiptResponse{OK: true, ResponseBodyHash: &bodyHash})
}

func (h *handler) processBatch(w http.ResponseWriter, r *http.Request) {
	var batch shared.ReceiptBatch
	if !decode(w, r, &batch) {
		return
	}
	flags, processed, err := h.svc.ProcessBatch(r.Context(), &batch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := api.ProcessBatchResponse{
		OK:        len(flags) == 0,
		Processed: processed,
		BatchID:   batch.ID(),
		Status:    h.svc.BatchStatus(batch.ID(), batch.EpochID),
		Flags:     flags,
	}
	if resp.Flags == nil {
		resp.Flags = []dispute.Flag{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) finalizeBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := shared.HashFromHex(mux.Vars(r)["batch"])
	if err != nil {
		writeReason(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	var req api.FinalizeBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.FinalizeBatch(r.Context(), batchID, req.EpochID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FinalizeBatchResponse{OK: true, Status: h.svc.BatchStatus(batchID, req.EpochID)})
}

func (h *handler) penalty(w http.ResponseWriter, r *http.Request) {
	node, err := shared.NodeIDFromHex(mux.Vars(r)["node"])
	if err != nil {
		writeReason(w, http.StatusBadRequest, "invalid node id")
		return
	}
	state, ok := h.svc.Penalty(node)
	if !ok {
		state = dispute.NodePenaltyState{NodeID: node, Records: []dispute.PenaltyRecord{}}
	}
	writeJSON(w, http.StatusOK, state)
}

// disputes filters the event log by the type, node, epoch, from, to and limit
// query parameters.
func (h *handler) disputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := dispute.Filter{Type: dispute.EventType(q.Get("type"))}
	if raw := q.Get("node"); raw != "" {
		node, err := shared.NodeIDFromHex(raw)
		if err != nil {
			writeReason(w, http.StatusBadRequest, "invalid node id")
			return
		}
		filter.NodeID = &node
	}
	uints := []struct {
		name string
		dst  *uint64
	}{{"from", &filter.FromMs}, {"to", &filter.ToMs}}
	for _, p := range uints {
		if raw := q.Get(p.name); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeReason(w, http.StatusBadRequest, "invalid "+p.name)
				return
			}
			*p.dst = v
		}
	}
	if raw := q.Get("epoch"); raw != "" {
		epoch, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeReason(w, http.StatusBadRequest, "invalid epoch")
			return
		}
		filter.EpochID = &epoch
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeReason(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	writeJSON(w, http.StatusOK, api.DisputesResponse{Events: h.svc.Disputes(filter)})
}

func (h *handler) disputeSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.DisputeSummaryResponse{Counts: h.svc.DisputeSummary()})
}
