package graph

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Input is what a node sees when it executes. Context and Results are
// copies; mutating them has no effect on the run.
type Input struct {
	RunID string

	// Attempt is the 1-based attempt number for this node in the current
	// process. It resets when a run is resumed after a restart.
	Attempt int

	Context map[string]any
	Results []Result
}

// Output returns the recorded output of an earlier node.
func (in Input) Output(nodeID string) (any, bool) {
	for _, r := range in.Results {
		if r.NodeID == nodeID {
			return r.Output, true
		}
	}
	return nil, false
}

// Executor performs a node's work.
//
// Executors run at least once per successful step: if the process stops
// after Execute returns but before the checkpoint is saved, the node runs
// again on resume. Side effects must be idempotent.
type Executor interface {
	Execute(ctx context.Context, in Input) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, in Input) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, in Input) (any, error) {
	return f(ctx, in)
}

// Node is one step of a graph.
type Node struct {
	ID string

	// Kind classifies failures the executor does not classify itself,
	// including timeouts.
	Kind ErrorKind

	// Timeout bounds a single attempt. Zero uses the engine default.
	Timeout time.Duration

	Executor Executor
}

// NewNode builds a node from a function.
func NewNode(id string, kind ErrorKind, fn func(ctx context.Context, in Input) (any, error)) Node {
	return Node{ID: id, Kind: kind, Executor: ExecutorFunc(fn)}
}

// WithTimeout returns a copy of n with Timeout set.
func (n Node) WithTimeout(d time.Duration) Node {
	n.Timeout = d
	return n
}

// Graph is an ordered sequence of nodes executed one after another.
type Graph []Node

// Validate rejects empty or duplicate IDs, missing executors, unknown kinds
// and negative timeouts. A graph with no nodes is valid and completes
// immediately.
func (g Graph) Validate() error {
	seen := make(map[string]int, len(g))
	for i, n := range g {
		if strings.TrimSpace(n.ID) == "" {
			return &EngineError{Message: fmt.Sprintf("node %d has an empty ID", i), Code: CodeInvalidGraph}
		}
		if j, dup := seen[n.ID]; dup {
			return &EngineError{Message: fmt.Sprintf("duplicate node ID %q at positions %d and %d", n.ID, j, i), Code: CodeInvalidGraph}
		}
		seen[n.ID] = i

		if n.Executor == nil {
			return &EngineError{Message: "node " + n.ID + " has no executor", Code: CodeInvalidGraph}
		}
		if !n.Kind.Valid() {
			return &EngineError{Message: fmt.Sprintf("node %s has invalid kind %q", n.ID, n.Kind), Code: CodeInvalidGraph}
		}
		if n.Timeout < 0 {
			return &EngineError{Message: "node " + n.ID + " has a negative timeout", Code: CodeInvalidGraph}
		}
	}
	return nil
}

// IDs returns the node IDs in order.
func (g Graph) IDs() []string {
	ids := make([]string, len(g))
	for i, n := range g {
		ids[i] = n.ID
	}
	return ids
}
