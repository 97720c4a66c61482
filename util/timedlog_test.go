package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestTimedLogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	l, err := OpenTimedLog(path, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Append(uint64(1000+i), fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	l, err = OpenTimedLog(path, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	require.Equal(t, []LogEntry{
		{TimestampMs: 1000, Key: "key-0"},
		{TimestampMs: 1001, Key: "key-1"},
		{TimestampMs: 1002, Key: "key-2"},
	}, l.Entries())
}

func TestTimedLogPrunesByTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	l, err := OpenTimedLog(path, time.Second, 0, WithClock(fixedClock(10_000)))
	require.NoError(t, err)
	_, err = l.Append(8_000, "old")
	require.NoError(t, err)
	_, err = l.Append(9_500, "fresh")
	require.NoError(t, err)

	removed, err := l.Prune()
	require.NoError(t, err)
	require.Equal(t, []LogEntry{{TimestampMs: 8_000, Key: "old"}}, removed)
	require.Equal(t, 1, l.Len())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "9500\tfresh\n", string(data))

	// expired at load time
	l, err = OpenTimedLog(path, time.Second, 0, WithClock(fixedClock(20_000)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	require.Zero(t, l.Len())
}

func TestTimedLogEvictsOldestOverCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.log")
	l, err := OpenTimedLog(path, 0, 2)
	require.NoError(t, err)

	evicted, err := l.Append(1, "a")
	require.NoError(t, err)
	require.Empty(t, evicted)
	_, err = l.Append(2, "b")
	require.NoError(t, err)
	evicted, err = l.Append(3, "c")
	require.NoError(t, err)
	require.Equal(t, []LogEntry{{TimestampMs: 1, Key: "a"}}, evicted)
	require.Equal(t, []LogEntry{{TimestampMs: 2, Key: "b"}, {TimestampMs: 3, Key: "c"}}, l.Entries())

	// the fourth line reaches twice the cap and compacts the file
	_, err = l.Append(4, "d")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "3\tc\n4\td\n", string(data))
}

func TestTimedLogKeepsTimestampOrder(t *testing.T) {
	l, err := OpenTimedLog(filepath.Join(t.TempDir(), "q.log"), 0, 2)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	_, err = l.Append(50, "late")
	require.NoError(t, err)
	_, err = l.Append(10, "early")
	require.NoError(t, err)
	evicted, err := l.Append(60, "latest")
	require.NoError(t, err)
	require.Equal(t, []LogEntry{{TimestampMs: 10, Key: "early"}}, evicted)
}

func TestTimedLogRejectsInvalidKeys(t *testing.T) {
	l, err := OpenTimedLog(filepath.Join(t.TempDir(), "q.log"), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })

	for _, key := range []string{"", "a\tb", "a\nb"} {
		_, err := l.Append(1, key)
		require.ErrorIs(t, err, ErrInvalidKey)
	}
	require.Zero(t, l.Len())
}

func TestTimedLogSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.log")
	content := strings.Join([]string{
		"100\tgood",
		"not-a-number\tbad",
		"missing-tab",
		"200\t",
		"300\talso-good",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	l, err := OpenTimedLog(path, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	require.Equal(t, []LogEntry{
		{TimestampMs: 100, Key: "good"},
		{TimestampMs: 300, Key: "also-good"},
	}, l.Entries())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "100\tgood\n300\talso-good\n", string(data))
}
