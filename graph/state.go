package graph

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the recorded output of one successful node.
type Result struct {
	NodeID string `json:"nodeId"`
	Output any    `json:"output"`
}

// RunState is the persisted progress of a run.
//
// Invariants: 0 <= Cursor <= len(graph), len(Results) == Cursor and
// Results[i].NodeID == graph[i].ID.
type RunState struct {
	RunID     string         `json:"runId"`
	Cursor    int            `json:"cursor"`
	Results   []Result       `json:"results"`
	Context   map[string]any `json:"context"`
	Status    Status         `json:"status,omitempty"`
	LastError *ErrorRecord   `json:"lastError,omitempty"`
}

func newRunState(runID string, runCtx map[string]any) RunState {
	return RunState{
		RunID:   runID,
		Cursor:  0,
		Results: []Result{},
		Context: cloneMap(runCtx),
		Status:  StatusRunning,
	}
}

// Output returns the recorded output of nodeID, if it has completed.
func (s RunState) Output(nodeID string) (any, bool) {
	for _, r := range s.Results {
		if r.NodeID == nodeID {
			return r.Output, true
		}
	}
	return nil, false
}

// checkGraph verifies s could have been produced by g.
func (s RunState) checkGraph(g Graph) error {
	mismatch := func(msg string) error {
		return &EngineError{Message: msg, Code: CodeGraphMismatch, Cause: ErrGraphMismatch}
	}

	if s.Cursor < 0 || s.Cursor > len(g) {
		return mismatch("cursor out of range for graph")
	}
	if len(s.Results) != s.Cursor {
		return mismatch("result count does not match cursor")
	}
	for i, r := range s.Results {
		if r.NodeID != g[i].ID {
			return mismatch("result " + r.NodeID + " recorded where graph has " + g[i].ID)
		}
	}
	return nil
}

// cloneMap copies m, recursing into nested maps and slices so nodes cannot
// mutate persisted context through their Input.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneResults(results []Result) []Result {
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{NodeID: r.NodeID, Output: cloneValue(r.Output)}
	}
	return out
}
