package dispute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/pose/shared"
)

func TestEventLogEvictsOldest(t *testing.T) {
	l := NewEventLog(3)
	for i := uint64(1); i <= 5; i++ {
		e := l.Append(Event{Type: EventSlash, AtMs: i})
		require.Equal(t, i, e.Seq)
	}
	require.Equal(t, 3, l.Len())

	events := l.Query(Filter{})
	require.Len(t, events, 3)
	require.Equal(t, uint64(3), events[0].Seq)
	require.Equal(t, uint64(5), events[2].Seq)
}

func TestEventLogQuery(t *testing.T) {
	l := NewEventLog(0)
	a, b := shared.NodeID{1}, shared.NodeID{2}
	l.Append(Event{Type: EventSlash, NodeID: a, EpochID: 1, AtMs: 100})
	l.Append(Event{Type: EventSuspended, NodeID: a, EpochID: 1, AtMs: 200})
	l.Append(Event{Type: EventSlash, NodeID: b, EpochID: 2, AtMs: 300})
	l.Append(Event{Type: EventDisputeFlag, NodeID: b, EpochID: 2, AtMs: 400})

	require.Len(t, l.Query(Filter{Type: EventSlash}), 2)
	require.Len(t, l.Query(Filter{NodeID: &b}), 2)
	epoch := uint64(1)
	require.Len(t, l.Query(Filter{EpochID: &epoch}), 2)
	require.Len(t, l.Query(Filter{FromMs: 200, ToMs: 300}), 2)
	require.Len(t, l.Query(Filter{Type: EventSlash, NodeID: &a, ToMs: 100}), 1)
	require.Len(t, l.Query(Filter{Limit: 3}), 3)
	require.Empty(t, l.Query(Filter{Type: EventEjected}))
}

func TestEventLogSummary(t *testing.T) {
	l := NewEventLog(2)
	l.Append(Event{Type: EventEjected})
	l.Append(Event{Type: EventSlash})
	l.Append(Event{Type: EventSlash})
	require.Equal(t, map[EventType]int{EventSlash: 2}, l.Summary())
}
