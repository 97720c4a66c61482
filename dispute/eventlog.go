package dispute

import (
	"github.com/spacemeshos/pose/shared"
)

// DefaultEventLogCapacity is the number of events kept before the oldest are evicted.
const DefaultEventLogCapacity = 10_000

type EventType string

const (
	EventSlash          EventType = "slash"
	EventSuspended      EventType = "suspended"
	EventEjected        EventType = "ejected"
	EventDisputeFlag    EventType = "dispute_flag"
	EventBatchAccepted  EventType = "batch_accepted"
	EventBatchFinalized EventType = "batch_finalized"
)

// Event is one audit record.
type Event struct {
	Seq     uint64        `json:"seq,string"`
	Type    EventType     `json:"type"`
	NodeID  shared.NodeID `json:"nodeId"`
	EpochID uint64        `json:"epochId,string"`
	AtMs    uint64        `json:"atMs,string"`
	Reason  string        `json:"reason,omitempty"`
	Ref     shared.Hash32 `json:"ref"`
}

// Filter selects events. Zero fields match everything; ToMs is inclusive.
type Filter struct {
	Type    EventType
	NodeID  *shared.NodeID
	EpochID *uint64
	FromMs  uint64
	ToMs    uint64
	Limit   int
}

func (f *Filter) match(e *Event) bool {
	switch {
	case f.Type != "" && e.Type != f.Type:
		return false
	case f.NodeID != nil && e.NodeID != *f.NodeID:
		return false
	case f.EpochID != nil && e.EpochID != *f.EpochID:
		return false
	case e.AtMs < f.FromMs:
		return false
	case f.ToMs != 0 && e.AtMs > f.ToMs:
		return false
	}
	return true
}

// EventLog is an append-only ring of the most recent events.
type EventLog struct {
	events []Event
	start  int
	size   int
	seq    uint64
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{events: make([]Event, capacity)}
}

// Append stores e, evicting the oldest event when full, and returns it with
// its sequence number set.
func (l *EventLog) Append(e Event) Event {
	l.seq++
	e.Seq = l.seq
	idx := (l.start + l.size) % len(l.events)
	l.events[idx] = e
	if l.size < len(l.events) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.events)
	}
	return e
}

func (l *EventLog) Len() int {
	return l.size
}

func (l *EventLog) at(i int) *Event {
	return &l.events[(l.start+i)%len(l.events)]
}

// Query returns matching events, oldest first.
func (l *EventLog) Query(f Filter) []Event {
	out := []Event{}
	for i := 0; i < l.size; i++ {
		e := l.at(i)
		if !f.match(e) {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Summary counts the retained events by type.
func (l *EventLog) Summary() map[EventType]int {
	counts := make(map[EventType]int)
	for i := 0; i < l.size; i++ {
		counts[l.at(i).Type]++
	}
	return counts
}
