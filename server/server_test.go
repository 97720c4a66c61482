package server_test

// End to end tests running a posed server and interacting with it via
// its HTTP API.

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/pose/client"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/receipt"
	"github.com/spacemeshos/pose/rewards"
	"github.com/spacemeshos/pose/server"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

const randomHost = "localhost:0"

func spawnPose(t *testing.T) (*server.Server, *client.HTTPClient) {
	t.Helper()
	req := require.New(t)
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))

	srv, err := server.New(ctx, *newConfig(t, t.TempDir()))
	req.NoError(err)

	var eg errgroup.Group
	eg.Go(func() error { return srv.Start(ctx) })
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, eg.Wait())
		assert.NoError(t, srv.Close())
	})

	c, err := client.NewHTTPClient(
		srv.RestAddr().String(),
		client.WithRetries(3, 10*time.Millisecond, 100*time.Millisecond),
		client.WithLogger(zaptest.NewLogger(t)),
	)
	req.NoError(err)
	return srv, c
}

func TestPoseStart(t *testing.T) {
	t.Parallel()
	srv, c := spawnPose(t)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, srv.NodeID(), info.NodeID)
	require.Nil(t, info.CurrentEpoch)
}

// Drives one epoch through the API: the server is the only validator so it
// challenges and aggregates.
func TestEpochRoundTrip(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	ctx := context.Background()
	srv, c := spawnPose(t)

	node, err := signing.GenerateEdSigner(rand.Reader)
	req.NoError(err)

	assignment, err := c.StartEpoch(ctx, 1, shared.HashConcat([]byte("block 1")), []shared.NodeID{srv.NodeID()})
	req.NoError(err)
	req.Equal(srv.NodeID(), assignment.Challenger)
	req.Equal(srv.NodeID(), assignment.Aggregator)

	ch, reason, err := c.IssueChallenge(ctx, node.NodeID(), shared.Uptime, nil)
	req.NoError(err)
	req.Empty(reason)
	req.NotNil(ch)
	req.Equal(node.NodeID(), ch.NodeID)

	_, reason, err = c.IssueChallenge(ctx, node.NodeID(), shared.Uptime, nil)
	req.NoError(err)
	req.Equal("rate limited", reason)

	rc, err := receipt.SignReceipt(node, ch, receipt.UptimeResponse(ch), uint64(time.Now().UnixMilli()))
	req.NoError(err)
	res, err := c.SubmitReceipt(ctx, rc)
	req.NoError(err)
	req.True(res.OK, res.Reason)

	resent, err := c.SubmitReceipt(ctx, rc)
	req.NoError(err)
	req.False(resent.OK)
	req.Equal("nonce replay detected", resent.Reason)
	req.Nil(resent.Evidence)

	other, err := receipt.SignReceipt(node, ch, receipt.UptimeResponse(ch), rc.ResponseAtMs+1)
	req.NoError(err)
	replayed, err := c.SubmitReceipt(ctx, other)
	req.NoError(err)
	req.False(replayed.OK)
	req.Equal("nonce replay detected", replayed.Reason)
	req.NotNil(replayed.Evidence)

	penalty, err := c.Penalty(ctx, node.NodeID())
	req.NoError(err)
	req.EqualValues(20, penalty.TotalPoints)

	batch, err := c.CloseEpoch(ctx, 1)
	req.NoError(err)
	req.NotNil(batch)
	req.Len(batch.LeafHashes, 1)

	fetched, err := c.Batch(ctx, 1, nil)
	req.NoError(err)
	req.Equal(batch.ID(), fetched.ID())

	_, err = c.Batch(ctx, 9, nil)
	req.ErrorIs(err, client.ErrInvalidRequest)

	processed, err := c.ProcessBatch(ctx, batch)
	req.NoError(err)
	req.True(processed.OK)
	req.Empty(processed.Flags)
	req.NoError(c.FinalizeBatch(ctx, batch.ID(), 1))

	result, err := c.ComputeRewards(ctx, 1, 100_000, []rewards.NodeStats{
		{NodeID: srv.NodeID(), UptimeBps: 9000},
	})
	req.NoError(err)
	req.EqualValues(60_000, result.Rewards[srv.NodeID()])

	slashes, err := c.Disputes(ctx, dispute.Filter{Type: dispute.EventSlash})
	req.NoError(err)
	req.Len(slashes, 1)
	req.Equal(node.NodeID(), slashes[0].NodeID)

	summary, err := c.DisputeSummary(ctx)
	req.NoError(err)
	req.Equal(1, summary[dispute.EventSlash])

	_, _, err = c.IssueChallenge(ctx, node.NodeID(), shared.Uptime, nil)
	req.ErrorIs(err, client.ErrConflict)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, c := spawnPose(t)
	_, err := c.Info(context.Background())
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.RestAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pose_http_requests_total")
}

func newConfig(t *testing.T, dir string) *server.Config {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.PoseDir = dir
	cfg.RawRESTListener = randomHost
	cfg.SweepInterval = 0
	cfg, err := server.SetupConfig(cfg)
	require.NoError(t, err)
	return cfg
}

func TestNodeKeyFromEnvironment(t *testing.T) {
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), zaptest.NewLogger(t)))
	defer cancel()
	dir := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	t.Setenv(server.KeyEnvVar, base64.StdEncoding.EncodeToString(priv))

	srv, err := server.New(ctx, *newConfig(t, dir))
	require.NoError(t, err)
	require.Equal(t, shared.NodeID(pub), srv.NodeID())

	var eg errgroup.Group
	eg.Go(func() error { return srv.Start(ctx) })
	cancel()
	require.NoError(t, eg.Wait())
	require.NoError(t, srv.Close())

	// the key is persisted and a different one is refused
	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	t.Setenv(server.KeyEnvVar, base64.StdEncoding.EncodeToString(other))
	_, err = server.New(context.Background(), *newConfig(t, dir))
	require.ErrorIs(t, err, server.ErrKeyMismatch)
}

func TestNewReleasesListenerOnError(t *testing.T) {
	l, err := net.Listen("tcp", randomHost)
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	t.Setenv(server.KeyEnvVar, "not b64")
	cfg := newConfig(t, t.TempDir())
	cfg.RawRESTListener = addr
	_, err = server.New(context.Background(), *cfg)
	require.ErrorIs(t, err, server.ErrInvalidKey)

	l, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
