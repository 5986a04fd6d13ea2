// Package graph runs durable, resumable workflows: ordered node sequences
// whose progress is checkpointed to a store.Store after every step.
package graph

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a node failure. The set is closed: every kind has an
// entry in the retry table.
type ErrorKind string

// Error kinds.
const (
	// KindModel means a model backend call failed or returned an invalid response.
	KindModel ErrorKind = "model_error"

	// KindTool means a non-model side-effecting step failed.
	KindTool ErrorKind = "tool_error"

	// KindPolicy means a step violated an authorization or compliance rule.
	KindPolicy ErrorKind = "policy_error"
)

var kinds = []ErrorKind{KindModel, KindTool, KindPolicy}

// Kinds returns the closed set of error kinds.
func Kinds() []ErrorKind {
	return append([]ErrorKind(nil), kinds...)
}

// Valid reports whether k is one of Kinds.
func (k ErrorKind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ErrPolicyViolation marks errors that must be classified as KindPolicy.
var ErrPolicyViolation = errors.New("policy violation")

// ErrGraphMismatch indicates persisted state was produced by a different
// graph than the one supplied to Run.
var ErrGraphMismatch = errors.New("persisted state does not match graph")

// Engine error codes.
const (
	CodeInvalidGraph    = "INVALID_GRAPH"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeGraphMismatch   = "GRAPH_MISMATCH"
	CodeUnknownKind     = "UNKNOWN_KIND"
	CodeInvalidSnapshot = "INVALID_SNAPSHOT"
)

// EngineError represents an error from Engine operations that is not a
// node failure: invalid input, graph mismatch, a misbehaving classifier or a
// rejected snapshot.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NodeError is a classified node failure. Executors return it to choose the
// kind explicitly; Details is copied into the persisted ErrorRecord.
type NodeError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.NodeID != "" {
		msg = "node " + e.NodeID + ": " + msg
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// NewNodeError returns a NodeError of the given kind wrapping cause.
func NewNodeError(kind ErrorKind, message string, cause error) *NodeError {
	return &NodeError{Kind: kind, Message: message, Cause: cause}
}

// PolicyViolation returns a policy_error. Policy errors are never retried.
func PolicyViolation(message string, details map[string]any) error {
	return &NodeError{
		Kind:    KindPolicy,
		Message: message,
		Details: details,
		Cause:   ErrPolicyViolation,
	}
}

// TimeoutError reports a node that exceeded its execution timeout.
// It is classified as the node's declared kind.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s exceeded timeout of %v", e.NodeID, e.Timeout)
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match.
func (e *TimeoutError) Unwrap() error {
	return errDeadline
}

// ErrorRecord is the persisted description of a terminal node failure.
type ErrorRecord struct {
	Type     ErrorKind      `json:"type"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	NodeID   string         `json:"nodeId"`
	Attempts int            `json:"attempts"`
}

// WorkflowError is returned by Engine.Run when a node exhausts its retry
// budget. The run's last checkpoint is intact, so the run can be resumed.
type WorkflowError struct {
	RunID    string
	NodeID   string
	Attempts int
	Record   ErrorRecord
	Cause    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("run %s: node %s failed with %s after %d attempt(s): %s",
		e.RunID, e.NodeID, e.Record.Type, e.Attempts, e.Record.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Kind returns the classified kind of the failure.
func (e *WorkflowError) Kind() ErrorKind {
	return e.Record.Type
}

// Classifier maps a node failure to an ErrorKind. declared is the failing
// node's Kind. Returning a kind outside Kinds aborts the run.
type Classifier func(declared ErrorKind, err error) ErrorKind

// DefaultClassifier classifies err in this order: an existing *NodeError
// keeps its kind, ErrPolicyViolation maps to KindPolicy, anything else
// (timeouts included) takes the node's declared kind.
func DefaultClassifier(declared ErrorKind, err error) ErrorKind {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Kind != "" {
		return nodeErr.Kind
	}
	if errors.Is(err, ErrPolicyViolation) {
		return KindPolicy
	}
	return declared
}

// newErrorRecord builds the persisted record for a classified failure.
func newErrorRecord(nodeID string, kind ErrorKind, attempts int, err error) ErrorRecord {
	rec := ErrorRecord{
		Type:     kind,
		Message:  err.Error(),
		NodeID:   nodeID,
		Attempts: attempts,
	}

	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		rec.Message = nodeErr.Message
		if len(nodeErr.Details) > 0 {
			rec.Details = make(map[string]any, len(nodeErr.Details))
			for k, v := range nodeErr.Details {
				rec.Details[k] = v
			}
		}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		if rec.Details == nil {
			rec.Details = map[string]any{}
		}
		rec.Details["timeout"] = timeoutErr.Timeout.String()
	}
	return rec
}
