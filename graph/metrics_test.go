package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/flowstate/graph/store"
)

func TestPrometheusMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	pm.RecordStepLatency("r", "a", 120*time.Millisecond, "success")
	pm.IncrementRetries("r", "a", string(KindModel))
	pm.IncrementRetries("r", "a", string(KindModel))
	pm.RecordRunOutcome(StatusCompleted)
	pm.IncrementStorageConflicts()
	pm.AddInflightNodes(2)
	pm.AddInflightNodes(-1)

	if got := testutil.ToFloat64(pm.retries.WithLabelValues("r", "a", "model_error")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.runOutcomes.WithLabelValues("completed")); got != 1 {
		t.Errorf("run outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.storageConflicts); got != 1 {
		t.Errorf("storage conflicts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.inflightNodes); got != 1 {
		t.Errorf("inflight = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(pm.stepLatency); got != 1 {
		t.Errorf("expected 1 latency series, got %d", got)
	}

	pm.Reset()
	if got := testutil.ToFloat64(pm.inflightNodes); got != 0 {
		t.Errorf("inflight after reset = %v", got)
	}
}

func TestPrometheusMetrics_Disable(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())

	pm.Disable()
	pm.IncrementRetries("r", "a", "tool_error")
	pm.RecordRunOutcome(StatusFailed)
	if got := testutil.CollectAndCount(pm.retries); got != 0 {
		t.Errorf("disabled metrics recorded %d retry series", got)
	}

	pm.Enable()
	pm.RecordRunOutcome(StatusFailed)
	if got := testutil.ToFloat64(pm.runOutcomes.WithLabelValues("failed")); got != 1 {
		t.Errorf("run outcomes = %v, want 1", got)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	pm := NewPrometheusMetrics(prometheus.NewRegistry())
	st := store.NewMemStore[RunState]()
	engine := New(st, WithMetrics(pm), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	var calls int
	g := Graph{
		NewNode("ok", KindTool, func(context.Context, Input) (any, error) { return 1, nil }),
		NewNode("flaky", KindTool, func(context.Context, Input) (any, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("reset by peer")
			}
			return 2, nil
		}),
	}
	if _, err := engine.Run(context.Background(), RunRequest{RunID: "r", Graph: g}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := testutil.ToFloat64(pm.retries.WithLabelValues("r", "flaky", "tool_error")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.runOutcomes.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed outcomes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.inflightNodes); got != 0 {
		t.Errorf("inflight should return to 0, got %v", got)
	}
	// ok/success, flaky/error, flaky/success
	if got := testutil.CollectAndCount(pm.stepLatency); got != 3 {
		t.Errorf("expected 3 latency series, got %d", got)
	}

	// The node acts as a second writer; the engine's next save conflicts.
	conflicting := Graph{NewNode("x", KindTool, func(ctx context.Context, in Input) (any, error) {
		s, _, _ := st.Load(ctx, in.RunID)
		_, err := st.Save(ctx, in.RunID, s.State, s.Revision)
		return nil, err
	})}
	_, err := engine.Run(context.Background(), RunRequest{RunID: "other", Graph: conflicting})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := testutil.ToFloat64(pm.storageConflicts); got != 1 {
		t.Errorf("storage conflicts = %v, want 1", got)
	}
}
