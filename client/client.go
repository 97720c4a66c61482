// Package client talks to the posed HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/spacemeshos/pose/api"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/rewards"
	"github.com/spacemeshos/pose/shared"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("unavailable")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrRejected       = errors.New("rejected")
)

// Error is a non-200 answer of the API.
type Error struct {
	StatusCode int
	Reason     string
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("response status code %d: %s", e.StatusCode, e.Reason)
}

func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusTooManyRequests, http.StatusUnprocessableEntity:
		return ErrRejected
	}
	return nil
}

// HTTPClient is a retrying client of a posed node.
type HTTPClient struct {
	baseURL *url.URL
	client  *retryablehttp.Client
}

type clientOptions struct {
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	logger       *zap.Logger
}

type ClientOption func(*clientOptions)

func WithRetries(retryMax int, waitMin, waitMax time.Duration) ClientOption {
	return func(opts *clientOptions) {
		opts.retryMax = retryMax
		opts.retryWaitMin = waitMin
		opts.retryWaitMax = waitMax
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(opts *clientOptions) {
		opts.logger = logger
	}
}

// NewHTTPClient returns a client of the node at baseUrl.
func NewHTTPClient(baseUrl string, opts ...ClientOption) (*HTTPClient, error) {
	baseURL, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}

	options := clientOptions{
		retryMax:     4,
		retryWaitMin: 100 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = options.retryMax
	client.RetryWaitMin = options.retryWaitMin
	client.RetryWaitMax = options.retryWaitMax
	client.Logger = &retryLogger{options.logger.Sugar()}
	client.CheckRetry = checkRetry

	return &HTTPClient{
		baseURL: baseURL,
		client:  client,
	}, nil
}

// checkRetry retries connection errors and server failures. Quota
// rejections are answers, not failures.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

type retryLogger struct {
	log *zap.SugaredLogger
}

func (l *retryLogger) Error(msg string, keysAndValues ...any) { l.log.Errorw(msg, keysAndValues...) }
func (l *retryLogger) Info(msg string, keysAndValues ...any)  { l.log.Infow(msg, keysAndValues...) }
func (l *retryLogger) Debug(msg string, keysAndValues ...any) { l.log.Debugw(msg, keysAndValues...) }
func (l *retryLogger) Warn(msg string, keysAndValues ...any)  { l.log.Warnw(msg, keysAndValues...) }

func (c *HTTPClient) Info(ctx context.Context) (*api.InfoResponse, error) {
	resBody := api.InfoResponse{}
	if err := c.req(ctx, http.MethodGet, "/pose/info", nil, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting node info: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPClient) StartEpoch(
	ctx context.Context,
	epoch uint64,
	blockHash shared.Hash32,
	validators []shared.NodeID,
) (*api.StartEpochResponse, error) {
	request := api.StartEpochRequest{EpochID: epoch, BlockHash: blockHash, Validators: validators}
	resBody := api.StartEpochResponse{}
	if err := c.req(ctx, http.MethodPost, "/pose/epochs", nil, &request, &resBody); err != nil {
		return nil, fmt.Errorf("starting epoch %d: %w", epoch, err)
	}
	return &resBody, nil
}

// IssueChallenge asks the node for a challenge. A quota or rate rejection is
// returned as a reason with a nil challenge and nil error.
func (c *HTTPClient) IssueChallenge(
	ctx context.Context,
	node shared.NodeID,
	typ shared.ChallengeType,
	querySpec shared.Body,
) (*shared.ChallengeMessage, string, error) {
	request := api.IssueChallengeRequest{NodeID: node, ChallengeType: typ, QuerySpec: querySpec}
	resBody := api.IssueChallengeResponse{}
	err := c.req(ctx, http.MethodPost, "/pose/challenge", nil, &request, &resBody)
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		return nil, apiErr.Reason, nil
	case err != nil:
		return nil, "", fmt.Errorf("issuing challenge: %w", err)
	}
	return resBody.Challenge, "", nil
}

// SubmitReceipt sends a receipt. Verification failures are reported in the
// response, not as an error.
func (c *HTTPClient) SubmitReceipt(ctx context.Context, rc *shared.ReceiptMessage) (*api.SubmitReceiptResponse, error) {
	resBody := api.SubmitReceiptResponse{}
	err := c.req(ctx, http.MethodPost, "/pose/receipt", nil, rc, &resBody)
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity:
		if err := json.Unmarshal(apiErr.Body, &resBody); err != nil {
			return nil, fmt.Errorf("decoding rejection: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("submitting receipt: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPClient) CloseEpoch(ctx context.Context, epoch uint64) (*shared.ReceiptBatch, error) {
	resBody := api.CloseEpochResponse{}
	path := fmt.Sprintf("/pose/epochs/%d/close", epoch)
	if err := c.req(ctx, http.MethodPost, path, nil, struct{}{}, &resBody); err != nil {
		return nil, fmt.Errorf("closing epoch %d: %w", epoch, err)
	}
	return resBody.Batch, nil
}

func (c *HTTPClient) ComputeRewards(
	ctx context.Context,
	epoch uint64,
	pool uint64,
	stats []rewards.NodeStats,
) (*rewards.EpochRewardResult, error) {
	request := api.ComputeRewardsRequest{Pool: pool, Stats: stats}
	resBody := rewards.EpochRewardResult{}
	path := fmt.Sprintf("/pose/epochs/%d/rewards", epoch)
	if err := c.req(ctx, http.MethodPost, path, nil, &request, &resBody); err != nil {
		return nil, fmt.Errorf("computing rewards of epoch %d: %w", epoch, err)
	}
	return &resBody, nil
}

// Batch fetches a stored batch. A nil aggregator selects the epoch's assigned one.
func (c *HTTPClient) Batch(ctx context.Context, epoch uint64, aggregator *shared.NodeID) (*shared.ReceiptBatch, error) {
	query := url.Values{}
	if aggregator != nil {
		query.Set("aggregator", aggregator.Hex())
	}
	resBody := shared.ReceiptBatch{}
	path := fmt.Sprintf("/pose/epochs/%d/batch", epoch)
	if err := c.req(ctx, http.MethodGet, path, query, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting batch of epoch %d: %w", epoch, err)
	}
	return &resBody, nil
}

func (c *HTTPClient) ProcessBatch(ctx context.Context, batch *shared.ReceiptBatch) (*api.ProcessBatchResponse, error) {
	resBody := api.ProcessBatchResponse{}
	if err := c.req(ctx, http.MethodPost, "/pose/batch", nil, batch, &resBody); err != nil {
		return nil, fmt.Errorf("processing batch: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPClient) FinalizeBatch(ctx context.Context, batchID shared.Hash32, epoch uint64) error {
	request := api.FinalizeBatchRequest{EpochID: epoch}
	path := fmt.Sprintf("/pose/batch/%s/finalize", batchID.Hex())
	if err := c.req(ctx, http.MethodPost, path, nil, &request, &api.FinalizeBatchResponse{}); err != nil {
		return fmt.Errorf("finalizing batch %s: %w", batchID, err)
	}
	return nil
}

func (c *HTTPClient) Penalty(ctx context.Context, node shared.NodeID) (*dispute.NodePenaltyState, error) {
	resBody := dispute.NodePenaltyState{}
	path := fmt.Sprintf("/pose/nodes/%s/penalty", node.Hex())
	if err := c.req(ctx, http.MethodGet, path, nil, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting penalty of %s: %w", node.ShortString(), err)
	}
	return &resBody, nil
}

func (c *HTTPClient) Disputes(ctx context.Context, filter dispute.Filter) ([]dispute.Event, error) {
	query := url.Values{}
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	if filter.NodeID != nil {
		query.Set("node", filter.NodeID.Hex())
	}
	if filter.EpochID != nil {
		query.Set("epoch", strconv.FormatUint(*filter.EpochID, 10))
	}
	if filter.FromMs != 0 {
		query.Set("from", strconv.FormatUint(filter.FromMs, 10))
	}
	if filter.ToMs != 0 {
		query.Set("to", strconv.FormatUint(filter.ToMs, 10))
	}
	if filter.Limit != 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	resBody := api.DisputesResponse{}
	if err := c.req(ctx, http.MethodGet, "/pose/disputes", query, nil, &resBody); err != nil {
		return nil, fmt.Errorf("querying disputes: %w", err)
	}
	return resBody.Events, nil
}

func (c *HTTPClient) DisputeSummary(ctx context.Context) (map[dispute.EventType]int, error) {
	resBody := api.DisputeSummaryResponse{}
	if err := c.req(ctx, http.MethodGet, "/pose/disputes/summary", nil, nil, &resBody); err != nil {
		return nil, fmt.Errorf("querying dispute summary: %w", err)
	}
	return resBody.Counts, nil
}

func (c *HTTPClient) req(ctx context.Context, method, path string, query url.Values, reqBody, resBody any) error {
	var body io.Reader
	if reqBody != nil {
		jsonReqBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(jsonReqBody)
	}

	target := c.baseURL.JoinPath(path)
	target.RawQuery = query.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response body (%w)", err)
	}

	if res.StatusCode != http.StatusOK {
		apiErr := &Error{StatusCode: res.StatusCode, Reason: res.Status, Body: data}
		var reason api.ErrorResponse
		if json.Unmarshal(data, &reason) == nil && reason.Reason != "" {
			apiErr.Reason = reason.Reason
		}
		return apiErr
	}

	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}
