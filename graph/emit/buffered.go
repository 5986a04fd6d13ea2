package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by run ID.
//
// Useful for tests and for tooling that inspects what happened during a
// run after it returned. It is thread-safe.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter narrows the events returned by HistoryWithFilter.
// Zero-valued fields do not filter.
type HistoryFilter struct {
	NodeID string
	Msg    string
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends the event to its run's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events recorded for runID, in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	return b.HistoryWithFilter(runID, HistoryFilter{})
}

// HistoryWithFilter returns the events for runID that match filter.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[runID]))
	for _, event := range b.events[runID] {
		if filter.NodeID != "" && event.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		result = append(result, event)
	}
	return result
}

// Count returns how many events for runID carry msg.
func (b *BufferedEmitter) Count(runID, msg string) int {
	return len(b.HistoryWithFilter(runID, HistoryFilter{Msg: msg}))
}

// Clear drops the history for runID, or for every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
