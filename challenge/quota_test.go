package challenge

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/util"
)

var nodeA = shared.NodeID{0xaa}

func TestQuotaExceeded(t *testing.T) {
	cfg := DefaultConfig()
	q := NewQuota(cfg)

	now := uint64(10_000)
	for i := 0; i < cfg.UptimeMaxPerEpoch; i++ {
		ok, reason := q.CanIssue(nodeA, 1, shared.Uptime, now)
		require.True(t, ok, "issuance %d", i)
		require.Equal(t, ReasonNone, reason)
		require.NoError(t, q.CommitIssue(nodeA, 1, shared.Uptime, now))
		now += uint64(cfg.UptimeMinInterval.Milliseconds())
	}

	ok, reason := q.CanIssue(nodeA, 1, shared.Uptime, now)
	require.False(t, ok)
	require.Equal(t, ReasonQuotaExceeded, reason)
	require.Equal(t, cfg.UptimeMaxPerEpoch, q.Count(nodeA, 1, shared.Uptime))

	// independent keys are unaffected
	ok, _ = q.CanIssue(nodeA, 2, shared.Uptime, now)
	require.True(t, ok)
	ok, _ = q.CanIssue(nodeA, 1, shared.Storage, now)
	require.True(t, ok)
	ok, _ = q.CanIssue(shared.NodeID{0xbb}, 1, shared.Uptime, now)
	require.True(t, ok)
}

func TestQuotaRateLimited(t *testing.T) {
	q := NewQuota(DefaultConfig())
	require.NoError(t, q.CommitIssue(nodeA, 1, shared.Storage, 1000))

	ok, reason := q.CanIssue(nodeA, 1, shared.Storage, 5999)
	require.False(t, ok)
	require.Equal(t, ReasonRateLimited, reason)

	// clock went backwards
	ok, reason = q.CanIssue(nodeA, 1, shared.Storage, 500)
	require.False(t, ok)
	require.Equal(t, ReasonRateLimited, reason)

	ok, reason = q.CanIssue(nodeA, 1, shared.Storage, 6000)
	require.True(t, ok)
	require.Equal(t, ReasonNone, reason)
}

func TestQuotaCanIssueDoesNotMutate(t *testing.T) {
	q := NewQuota(DefaultConfig())
	for i := 0; i < 100; i++ {
		ok, _ := q.CanIssue(nodeA, 1, shared.Relay, uint64(i))
		require.True(t, ok)
	}
	require.Zero(t, q.Count(nodeA, 1, shared.Relay))
}

func TestQuotaZeroLimitDisablesType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelayMaxPerEpoch = 0
	q := NewQuota(cfg)
	ok, reason := q.CanIssue(nodeA, 1, shared.Relay, 0)
	require.False(t, ok)
	require.Equal(t, ReasonQuotaExceeded, reason)
}

func TestQuotaPruneEpochsBefore(t *testing.T) {
	q := NewQuota(DefaultConfig())
	for epoch := uint64(1); epoch <= 4; epoch++ {
		require.NoError(t, q.CommitIssue(nodeA, epoch, shared.Uptime, 0))
	}
	require.Equal(t, 2, q.PruneEpochsBefore(3))
	require.Zero(t, q.Count(nodeA, 1, shared.Uptime))
	require.Equal(t, 1, q.Count(nodeA, 3, shared.Uptime))
}

func TestPersistentQuotaSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quota.log")
	cfg := DefaultConfig()
	cfg.QuotaLogTTL = time.Hour
	clock := util.WithClock(func() time.Time { return time.UnixMilli(2_000) })

	q, err := OpenPersistentQuota(path, cfg, clock)
	require.NoError(t, err)
	require.NoError(t, q.CommitIssue(nodeA, 7, shared.Storage, 1000))
	require.NoError(t, q.CommitIssue(nodeA, 7, shared.Storage, 1500))
	require.NoError(t, q.Close())

	q, err = OpenPersistentQuota(path, cfg, clock)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, q.Close()) })
	require.Equal(t, 2, q.Count(nodeA, 7, shared.Storage))

	// last issuance restored as well
	ok, reason := q.CanIssue(nodeA, 7, shared.Storage, 2000)
	require.False(t, ok)
	require.Equal(t, ReasonRateLimited, reason)
}

func TestQuotaKeyRoundTrip(t *testing.T) {
	key := quotaKey{node: nodeA, epoch: 99, typ: shared.Relay}
	parsed, err := parseQuotaKey(key.String())
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	for _, bad := range []string{"", "a:b", nodeA.Hex() + ":x:1", nodeA.Hex() + ":1:9"} {
		_, err := parseQuotaKey(bad)
		require.ErrorIs(t, err, ErrMalformedQuotaEntry)
	}
}
