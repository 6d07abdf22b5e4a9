package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// TraceRecorder collects module state transitions for the metrics analyzer.
// Timestamps carry Go's monotonic clock reading, so durations computed from
// them are immune to wall-clock adjustments. Per-module order is
// chronological; events from different modules race and are stored in
// arrival order.
type TraceRecorder struct {
	mu     sync.Mutex
	events []types.TransitionEvent
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{}
}

// Record implements interfaces.TraceSink.
func (t *TraceRecorder) Record(event types.TransitionEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

// Snapshot returns a copy of all recorded events.
func (t *TraceRecorder) Snapshot() []types.TransitionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.TransitionEvent, len(t.events))
	copy(out, t.events)
	return out
}

// ModuleEvents returns the events of one module in chronological order.
func (t *TraceRecorder) ModuleEvents(id types.ModuleID) []types.TransitionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.TransitionEvent
	for _, ev := range t.events {
		if ev.Module == id {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Len returns the number of recorded events.
func (t *TraceRecorder) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// teeSink fans one stream of transition events out to several sinks,
// stamping the event ID first so every sink sees the same event.
type teeSink []interfaces.TraceSink

func (t teeSink) Record(event types.TransitionEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	for _, s := range t {
		s.Record(event)
	}
}
