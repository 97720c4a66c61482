package util

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

var ErrInvalidKey = errors.New("log key must not contain tabs or newlines")

// LogEntry is one line of a TimedLog.
type LogEntry struct {
	TimestampMs uint64
	Key         string
}

// TimedLog is an append-only file of "timestamp\tkey" lines.
//
// The file is read fully when opened. Entries older than the TTL are dropped and
// at most maxEntries of the newest entries are kept, oldest evicted first. The file
// itself is compacted whenever it grows to twice the entry cap.
// TimedLog is not safe for concurrent use.
type TimedLog struct {
	path       string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	entries   []LogEntry
	file      *os.File
	fileLines int
}

type TimedLogOption func(*TimedLog)

// WithClock overrides the wall clock used for TTL pruning.
func WithClock(now func() time.Time) TimedLogOption {
	return func(l *TimedLog) {
		l.now = now
	}
}

// OpenTimedLog loads the log at path, creating it if missing.
// A zero ttl or maxEntries disables that limit.
func OpenTimedLog(path string, ttl time.Duration, maxEntries int, opts ...TimedLogOption) (*TimedLog, error) {
	l := &TimedLog{
		path:       path,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	entries, lines, err := readLogFile(path)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TimestampMs < entries[j].TimestampMs })
	l.entries = entries
	l.fileLines = lines
	l.pruneExpired()
	l.enforceCap()

	if len(l.entries) != l.fileLines {
		if err := l.compact(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", path, err)
	}
	l.file = f
	return l, nil
}

func readLogFile(path string) ([]LogEntry, int, error) {
	data, err := os.ReadFile(path) //#nosec G304
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, 0, nil
	case err != nil:
		return nil, 0, fmt.Errorf("reading log %s: %w", path, err)
	}

	var entries []LogEntry
	lines := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines++
		ts, key, ok := strings.Cut(scanner.Text(), "\t")
		if !ok || key == "" {
			continue
		}
		ms, err := strconv.ParseUint(ts, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, LogEntry{TimestampMs: ms, Key: key})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scanning log %s: %w", path, err)
	}
	return entries, lines, nil
}

// Entries returns the live entries, oldest first.
func (l *TimedLog) Entries() []LogEntry {
	return append([]LogEntry(nil), l.entries...)
}

func (l *TimedLog) Len() int {
	return len(l.entries)
}

// Append writes a new entry and returns the entries evicted by the cap.
func (l *TimedLog) Append(timestampMs uint64, key string) ([]LogEntry, error) {
	if key == "" || strings.ContainsAny(key, "\t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	line := strconv.FormatUint(timestampMs, 10) + "\t" + key + "\n"
	if _, err := l.file.WriteString(line); err != nil {
		return nil, fmt.Errorf("appending to log %s: %w", l.path, err)
	}
	l.fileLines++
	l.entries = append(l.entries, LogEntry{TimestampMs: timestampMs, Key: key})
	if n := len(l.entries); n > 1 && l.entries[n-2].TimestampMs > timestampMs {
		sort.SliceStable(l.entries, func(i, j int) bool { return l.entries[i].TimestampMs < l.entries[j].TimestampMs })
	}

	evicted := l.enforceCap()
	if l.maxEntries > 0 && l.fileLines >= 2*l.maxEntries {
		if err := l.reopenCompacted(); err != nil {
			return evicted, err
		}
	}
	return evicted, nil
}

// Prune drops entries older than the TTL and returns them.
func (l *TimedLog) Prune() ([]LogEntry, error) {
	removed := l.pruneExpired()
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, l.reopenCompacted()
}

func (l *TimedLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *TimedLog) pruneExpired() []LogEntry {
	if l.ttl <= 0 {
		return nil
	}
	cutoff := l.now().Add(-l.ttl).UnixMilli()
	if cutoff <= 0 {
		return nil
	}
	var removed []LogEntry
	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if e.TimestampMs < uint64(cutoff) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

func (l *TimedLog) enforceCap() []LogEntry {
	if l.maxEntries <= 0 || len(l.entries) <= l.maxEntries {
		return nil
	}
	excess := len(l.entries) - l.maxEntries
	evicted := append([]LogEntry(nil), l.entries[:excess]...)
	l.entries = append(l.entries[:0:0], l.entries[excess:]...)
	return evicted
}

func (l *TimedLog) compact() error {
	var buf bytes.Buffer
	for _, e := range l.entries {
		buf.WriteString(strconv.FormatUint(e.TimestampMs, 10))
		buf.WriteByte('\t')
		buf.WriteString(e.Key)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(l.path, &buf); err != nil {
		return fmt.Errorf("compacting log %s: %w", l.path, err)
	}
	l.fileLines = len(l.entries)
	return nil
}

func (l *TimedLog) reopenCompacted() error {
	if err := l.Close(); err != nil {
		return err
	}
	if err := l.compact(); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopening log %s: %w", l.path, err)
	}
	l.file = f
	return nil
}
