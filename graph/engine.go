package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowstate/graph/emit"
	"github.com/dshills/flowstate/graph/store"
)

// RunRequest identifies a run and the graph it executes.
type RunRequest struct {
	// RunID is caller-assigned and stable across resumes.
	RunID string

	Graph Graph

	// Context is stored when the run is first created. Resuming a run
	// ignores it in favor of the persisted context.
	Context map[string]any
}

// Engine executes graphs and checkpoints progress after every node.
//
// Runs with different IDs are independent and may execute concurrently on
// the same Engine. Concurrent Run calls for the same ID are detected by the
// store's revision check: the loser fails with a *store.StorageError
// wrapping store.ErrConflict.
type Engine struct {
	store store.Store[RunState]
	cfg   engineConfig
}

// New creates an Engine persisting to st.
func New(st store.Store[RunState], opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{store: st, cfg: cfg}
}

// errCancelled signals a cancellation observed at a node boundary or during
// a backoff wait.
var errCancelled = errors.New("run cancelled")

// run holds the mutable state of one Run call.
type run struct {
	e        *Engine
	ctx      context.Context
	graph    Graph
	state    RunState
	revision int
	log      zerologContext
}

// Run executes req.Graph from the run's persisted cursor.
//
// It returns the final state with a nil error when the run completes or is
// cancelled (Status distinguishes the two). When a node exhausts its retry
// budget the failed state is persisted and returned together with a
// *WorkflowError. Storage faults are returned as *store.StorageError and
// invalid input as *EngineError; in both cases the stored state is left as
// it was at the last successful save.
//
// Running a completed run returns the stored state without executing
// any node.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunState, error) {
	if e.store == nil {
		return RunState{}, &EngineError{Message: "engine has no store", Code: CodeInvalidRequest}
	}
	if strings.TrimSpace(req.RunID) == "" {
		return RunState{}, &EngineError{Message: "run ID is required", Code: CodeInvalidRequest}
	}
	if err := req.Graph.Validate(); err != nil {
		return RunState{}, err
	}

	snap, found, err := e.store.Load(ctx, req.RunID)
	if err != nil {
		return RunState{}, err
	}

	r := &run{
		e:     e,
		ctx:   ctx,
		graph: req.Graph,
		log:   newLogContext(e.cfg.logger, req.RunID),
	}

	if found {
		if err := snap.State.checkGraph(req.Graph); err != nil {
			return RunState{}, err
		}
		r.state = snap.State
		r.revision = snap.Revision

		if r.state.Cursor == len(req.Graph) && r.state.Status == StatusCompleted {
			r.log.debug("run already completed")
			return r.state, nil
		}
		r.emit(emit.MsgRunResumed, r.state.Cursor, "", map[string]interface{}{"cursor": r.state.Cursor})
	} else {
		r.state = newRunState(req.RunID, req.Context)
		if err := r.save(); err != nil {
			return RunState{}, err
		}
		r.emit(emit.MsgRunStarted, 0, "", map[string]interface{}{"nodes": len(req.Graph)})
	}

	return r.execute()
}

func (r *run) execute() (RunState, error) {
	for r.state.Cursor < len(r.graph) {
		if r.ctx.Err() != nil {
			return r.cancel()
		}

		node := r.graph[r.state.Cursor]
		output, err := r.runNode(node)
		switch {
		case errors.Is(err, errCancelled):
			return r.cancel()
		case err != nil:
			var wfErr *WorkflowError
			if errors.As(err, &wfErr) {
				return r.fail(wfErr)
			}
			return RunState{}, err
		}

		r.state.Results = append(r.state.Results, Result{NodeID: node.ID, Output: output})
		r.state.Cursor++
		r.state.Status = StatusRunning
		r.state.LastError = nil
		if err := r.save(); err != nil {
			return RunState{}, err
		}
	}

	r.state.Status = StatusCompleted
	if err := r.save(); err != nil {
		return RunState{}, err
	}
	r.emit(emit.MsgRunCompleted, r.state.Cursor, "", map[string]interface{}{"results": len(r.state.Results)})
	r.outcome(StatusCompleted)
	return r.state, nil
}

// runNode executes node until it succeeds or its retry budget is spent.
// The attempt counter lives only in memory.
func (r *run) runNode(node Node) (any, error) {
	cfg := r.e.cfg
	step := r.state.Cursor

	for attempt := 1; ; attempt++ {
		in := Input{
			RunID:   r.state.RunID,
			Attempt: attempt,
			Context: cloneMap(r.state.Context),
			Results: cloneResults(r.state.Results),
		}

		r.emit(emit.MsgNodeStarted, step, node.ID, map[string]interface{}{"attempt": attempt})
		r.inflight(1)
		start := cfg.now()
		output, err := executeNode(r.ctx, node, in, cfg.defaultTimeout)
		latency := cfg.now().Sub(start)
		r.inflight(-1)

		if err == nil {
			r.stepLatency(node.ID, latency, "success")
			r.emit(emit.MsgNodeSucceeded, step, node.ID, map[string]interface{}{
				"attempt":    attempt,
				"latency_ms": latency.Milliseconds(),
			})
			return output, nil
		}

		status := "error"
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			status = "timeout"
		}
		r.stepLatency(node.ID, latency, status)

		kind := cfg.classifier(node.Kind, err)
		policy, ok := cfg.retryTable.Policy(kind)
		if !kind.Valid() || !ok {
			r.log.errorf(node.ID, err, "classifier returned unknown kind %q", kind)
			return nil, &EngineError{
				Message: "node " + node.ID + " classified with unknown kind " + string(kind),
				Code:    CodeUnknownKind,
				Cause:   err,
			}
		}

		if attempt >= policy.Attempts() {
			record := newErrorRecord(node.ID, kind, attempt, err)
			r.emit(emit.MsgNodeFailed, step, node.ID, map[string]interface{}{
				"attempt":    attempt,
				"error_kind": string(kind),
				"error":      err.Error(),
			})
			return nil, &WorkflowError{
				RunID:    r.state.RunID,
				NodeID:   node.ID,
				Attempts: attempt,
				Record:   record,
				Cause:    err,
			}
		}

		delay := policy.Delay(attempt, cfg.maxBackoff)
		r.log.retry(node.ID, attempt, kind, delay, err)
		r.emit(emit.MsgNodeRetry, step, node.ID, map[string]interface{}{
			"attempt":    attempt,
			"error_kind": string(kind),
			"error":      err.Error(),
			"backoff_ms": delay.Milliseconds(),
		})
		if cfg.metrics != nil {
			cfg.metrics.IncrementRetries(r.state.RunID, node.ID, string(kind))
		}

		if delay > 0 {
			if err := cfg.sleep(r.ctx, delay); err != nil {
				return nil, errCancelled
			}
		} else if r.ctx.Err() != nil {
			return nil, errCancelled
		}
	}
}

func (r *run) fail(wfErr *WorkflowError) (RunState, error) {
	record := wfErr.Record
	r.state.Status = StatusFailed
	r.state.LastError = &record
	if err := r.save(); err != nil {
		return RunState{}, err
	}
	r.log.failed(wfErr)
	r.emit(emit.MsgRunFailed, r.state.Cursor, wfErr.NodeID, map[string]interface{}{
		"error_kind": string(record.Type),
		"error":      record.Message,
		"attempt":    record.Attempts,
	})
	r.outcome(StatusFailed)
	return r.state, wfErr
}

func (r *run) cancel() (RunState, error) {
	r.state.Status = StatusCancelled
	if err := r.save(); err != nil {
		return RunState{}, err
	}
	r.log.info("run cancelled", r.state.Cursor)
	r.emit(emit.MsgRunCancelled, r.state.Cursor, "", map[string]interface{}{"cursor": r.state.Cursor})
	r.outcome(StatusCancelled)
	return r.state, nil
}

// save checkpoints r.state. Saves are detached from cancellation: a
// cancelled run still records where it stopped.
func (r *run) save() error {
	if v := r.e.cfg.validator; v != nil {
		if err := v(r.state); err != nil {
			return &EngineError{Message: "snapshot rejected", Code: CodeInvalidSnapshot, Cause: err}
		}
	}

	snap, err := r.e.store.Save(context.WithoutCancel(r.ctx), r.state.RunID, r.state, r.revision)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if c, ok := r.e.cfg.metrics.(interface{ IncrementStorageConflicts() }); ok {
				c.IncrementStorageConflicts()
			}
		}
		r.log.storage(err)
		return err
	}
	r.state = snap.State
	r.revision = snap.Revision
	return nil
}

func (r *run) emit(msg string, step int, nodeID string, meta map[string]interface{}) {
	r.e.cfg.emitter.Emit(emit.Event{
		ID:     uuid.NewString(),
		RunID:  r.state.RunID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Time:   r.e.cfg.now(),
		Meta:   meta,
	})
}

func (r *run) stepLatency(nodeID string, latency time.Duration, status string) {
	if m := r.e.cfg.metrics; m != nil {
		m.RecordStepLatency(r.state.RunID, nodeID, latency, status)
	}
}

func (r *run) outcome(status Status) {
	if m := r.e.cfg.metrics; m != nil {
		m.RecordRunOutcome(status)
	}
}

func (r *run) inflight(delta int) {
	if g, ok := r.e.cfg.metrics.(interface{ AddInflightNodes(int) }); ok {
		g.AddInflightNodes(delta)
	}
}
