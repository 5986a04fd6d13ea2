// Package emit provides event emission and observability for workflow runs.
package emit

import "time"

// Event messages emitted by the engine.
const (
	MsgRunStarted    = "run_started"
	MsgRunResumed    = "run_resumed"
	MsgNodeStarted   = "node_started"
	MsgNodeSucceeded = "node_succeeded"
	MsgNodeRetry     = "node_retry"
	MsgNodeFailed    = "node_failed"
	MsgRunCompleted  = "run_completed"
	MsgRunFailed     = "run_failed"
	MsgRunCancelled  = "run_cancelled"
)

// Event represents an observability event emitted during a run.
//
// Events provide insight into run progress:
//   - Run lifecycle (started, resumed, completed, failed, cancelled)
//   - Node execution (started, succeeded, retried, failed)
//   - Failure classification (Meta["error_kind"], Meta["attempt"])
//
// Events are sent to an Emitter which can log them, record them as
// OpenTelemetry spans, or buffer them for inspection.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the cursor position (node index) when the event occurred.
	Step int

	// NodeID identifies the node that emitted this event.
	// Empty for run-level events.
	NodeID string

	// Msg is the event message, one of the Msg* constants.
	Msg string

	// Time is when the event was produced.
	Time time.Time

	// Meta contains additional structured data specific to this event.
	// Common keys: "attempt", "error", "error_kind", "backoff_ms", "latency_ms".
	Meta map[string]interface{}
}
