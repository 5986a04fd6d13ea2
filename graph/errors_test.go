package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorKind_Valid(t *testing.T) {
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	for _, k := range []ErrorKind{"", "network_error", "MODEL_ERROR"} {
		if k.Valid() {
			t.Errorf("%q should be invalid", k)
		}
	}

	// Kinds returns a copy.
	ks := Kinds()
	ks[0] = "mutated"
	if Kinds()[0] != KindModel {
		t.Error("Kinds returned an alias of the internal slice")
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name     string
		declared ErrorKind
		err      error
		want     ErrorKind
	}{
		{"plain error takes declared kind", KindTool, errors.New("boom"), KindTool},
		{"plain error on model node", KindModel, errors.New("boom"), KindModel},
		{"node error keeps its kind", KindTool, NewNodeError(KindModel, "bad output", nil), KindModel},
		{"wrapped node error", KindModel, fmt.Errorf("outer: %w", NewNodeError(KindTool, "x", nil)), KindTool},
		{"policy violation", KindModel, PolicyViolation("denied", nil), KindPolicy},
		{"wrapped policy sentinel", KindTool, fmt.Errorf("acl: %w", ErrPolicyViolation), KindPolicy},
		{"timeout takes declared kind", KindModel, &TimeoutError{NodeID: "n", Timeout: time.Second}, KindModel},
		{"node error without kind falls through", KindTool, &NodeError{Message: "x"}, KindTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultClassifier(tt.declared, tt.err); got != tt.want {
				t.Errorf("DefaultClassifier() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNodeError_Error(t *testing.T) {
	err := &NodeError{Kind: KindTool, Message: "fetch failed", NodeID: "fetch", Cause: errors.New("connection reset")}
	want := "node fetch: tool_error: fetch failed: connection reset"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	// Cause equal to message is not repeated.
	cause := errors.New("same")
	err = &NodeError{Kind: KindModel, Message: "same", Cause: cause}
	if err.Error() != "model_error: same" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("NodeError should unwrap to its cause")
	}
}

func TestEngineError(t *testing.T) {
	cause := errors.New("boom")
	err := &EngineError{Message: "snapshot rejected", Code: CodeInvalidSnapshot, Cause: cause}
	if err.Error() != "INVALID_SNAPSHOT: snapshot rejected: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("EngineError should unwrap to its cause")
	}
}

func TestPolicyViolation(t *testing.T) {
	err := PolicyViolation("tenant mismatch", map[string]any{"tenant": "acme"})

	if !errors.Is(err, ErrPolicyViolation) {
		t.Error("expected ErrPolicyViolation")
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Kind != KindPolicy {
		t.Fatalf("expected policy NodeError, got %v", err)
	}
	if nodeErr.Details["tenant"] != "acme" {
		t.Errorf("details not kept: %v", nodeErr.Details)
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{NodeID: "slow", Timeout: 2 * time.Second}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("TimeoutError should match context.DeadlineExceeded")
	}
	if !strings.Contains(err.Error(), "slow") || !strings.Contains(err.Error(), "2s") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestNewErrorRecord(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		rec := newErrorRecord("n", KindTool, 2, errors.New("refused"))
		if rec.Type != KindTool || rec.Message != "refused" || rec.NodeID != "n" || rec.Attempts != 2 {
			t.Errorf("unexpected record %+v", rec)
		}
		if rec.Details != nil {
			t.Errorf("expected no details, got %v", rec.Details)
		}
	})

	t.Run("node error details are copied", func(t *testing.T) {
		details := map[string]any{"status": 503}
		rec := newErrorRecord("n", KindModel, 3, &NodeError{Kind: KindModel, Message: "generate failed", Details: details})
		if rec.Message != "generate failed" || rec.Details["status"] != 503 {
			t.Errorf("unexpected record %+v", rec)
		}
		details["status"] = 200
		if rec.Details["status"] != 503 {
			t.Error("record aliases the error's details")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		rec := newErrorRecord("n", KindModel, 1, &TimeoutError{NodeID: "n", Timeout: 1500 * time.Millisecond})
		if rec.Details["timeout"] != "1.5s" {
			t.Errorf("expected timeout detail, got %v", rec.Details)
		}
	})
}

func TestWorkflowError(t *testing.T) {
	cause := errors.New("503")
	err := &WorkflowError{
		RunID:    "r",
		NodeID:   "b",
		Attempts: 3,
		Record:   ErrorRecord{Type: KindModel, Message: "upstream 503", NodeID: "b", Attempts: 3},
		Cause:    cause,
	}

	want := "run r: node b failed with model_error after 3 attempt(s): upstream 503"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if err.Kind() != KindModel {
		t.Errorf("Kind() = %s", err.Kind())
	}
	if !errors.Is(err, cause) {
		t.Error("WorkflowError should unwrap to its cause")
	}
}
