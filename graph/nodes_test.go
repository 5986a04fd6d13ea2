package graph

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/dshills/flowstate/graph/model"
	"github.com/dshills/flowstate/graph/store"
	"github.com/dshills/flowstate/graph/tool"
)

func promptBuilder(in Input) (model.Request, error) {
	topic, _ := in.Context["topic"].(string)
	req := model.NewRequest("", model.Message{Role: model.RoleUser, Content: "Summarize " + topic})
	req["max_tokens"] = 4000
	return req, nil
}

func TestModelNode_ShapesAndRecordsUsage(t *testing.T) {
	adapter := &model.MockAdapter{
		Caps: model.CapabilityDescriptor{Limits: model.Limits{MaxOutputTokens: 1024}},
		Responses: []model.Response{{
			"text":  "a summary",
			"usage": map[string]any{"input_tokens": 1000, "output_tokens": 500, "total_tokens": 1500},
		}},
	}
	costs := NewCostTracker()
	node := ModelNode("summarize", adapter, "gpt-4o-mini", promptBuilder, WithCostTracker(costs))

	if node.Kind != KindModel {
		t.Errorf("expected model kind, got %s", node.Kind)
	}

	out, err := node.Executor.Execute(context.Background(), Input{RunID: "r", Context: map[string]any{"topic": "logs"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp, ok := out.(model.Response); !ok || resp.Text() != "a summary" {
		t.Fatalf("unexpected output %#v", out)
	}

	if adapter.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", adapter.CallCount())
	}
	sent := adapter.Calls[0]
	if sent.Model() != "gpt-4o-mini" {
		t.Errorf("default model not applied: %q", sent.Model())
	}
	if n, _ := sent.MaxTokens(); n != 1024 {
		t.Errorf("max_tokens not clamped: %d", n)
	}

	in, outTok, cost := costs.Total("r")
	if in != 1000 || outTok != 500 {
		t.Errorf("unexpected usage %d/%d", in, outTok)
	}
	want := 1000.0/1e6*0.15 + 500.0/1e6*0.60
	if math.Abs(cost-want) > 1e-12 {
		t.Errorf("cost = %v, want %v", cost, want)
	}
}

func TestModelNode_RequirementsRejected(t *testing.T) {
	adapter := &model.MockAdapter{AdapterName: "rest"}
	node := ModelNode("plan", adapter, "m", promptBuilder, WithRequirements(model.Requirements{ToolCalling: true}))

	_, err := node.Executor.Execute(context.Background(), Input{RunID: "r"})
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Kind != KindModel {
		t.Fatalf("expected model NodeError, got %v", err)
	}
	if reasons, _ := nodeErr.Details["reasons"].(string); !strings.Contains(reasons, model.ReasonRequiredToolCallingUnavailable) {
		t.Errorf("unexpected reasons %v", nodeErr.Details["reasons"])
	}
	if nodeErr.Details["adapter"] != "rest" {
		t.Errorf("adapter detail missing: %v", nodeErr.Details)
	}
	if adapter.CallCount() != 0 {
		t.Error("Generate must not be called for a rejected plan")
	}
}

func TestModelNode_Failures(t *testing.T) {
	tests := []struct {
		name       string
		adapter    model.Adapter
		build      RequestBuilder
		wantStatus any
		wantMsg    string
	}{
		{
			name:       "transport error keeps status",
			adapter:    &model.MockAdapter{Errs: []error{&model.TransportError{StatusCode: 429, Body: "slow down"}}},
			build:      promptBuilder,
			wantStatus: 429,
		},
		{
			name:    "capabilities error",
			adapter: &model.MockAdapter{CapsErr: model.ErrUnimplemented},
			build:   promptBuilder,
		},
		{
			name:    "builder error",
			adapter: &model.MockAdapter{},
			build:   func(Input) (model.Request, error) { return nil, errors.New("missing topic") },
		},
		{
			name:    "nil adapter",
			build:   promptBuilder,
			wantMsg: "not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := ModelNode("m", tt.adapter, "gpt-4o", tt.build)
			_, err := node.Executor.Execute(context.Background(), Input{RunID: "r"})

			var nodeErr *NodeError
			if !errors.As(err, &nodeErr) || nodeErr.Kind != KindModel || nodeErr.NodeID != "m" {
				t.Fatalf("expected model NodeError, got %v", err)
			}
			if tt.wantStatus != nil && nodeErr.Details["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %v", nodeErr.Details["status"], tt.wantStatus)
			}
			if tt.wantMsg != "" && !strings.Contains(nodeErr.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", nodeErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestModelNode_RetriedByEngine(t *testing.T) {
	adapter := &model.MockAdapter{
		Errs:      []error{&model.TransportError{StatusCode: 503}, &model.TransportError{StatusCode: 503}},
		Responses: []model.Response{{"text": "done"}},
	}
	engine := New(store.NewMemStore[RunState](), WithSleeper(func(context.Context, time.Duration) error { return nil }))

	state, err := engine.Run(context.Background(), RunRequest{
		RunID: "r",
		Graph: Graph{ModelNode("m", adapter, "gpt-4o", promptBuilder)},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if adapter.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", adapter.CallCount())
	}
	out, _ := state.Output("m")
	if resp, _ := out.(map[string]any); resp["text"] != "done" {
		t.Errorf("unexpected stored output %#v", out)
	}
}

func TestToolNode(t *testing.T) {
	t.Run("default input is the run context", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "search", Responses: []map[string]interface{}{{"hits": 3}}}
		node := ToolNode("search", mock, nil)

		out, err := node.Executor.Execute(context.Background(), Input{Context: map[string]any{"q": "go"}})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if out.(map[string]interface{})["hits"] != 3 {
			t.Errorf("unexpected output %v", out)
		}
		if mock.Calls[0].Input["q"] != "go" {
			t.Errorf("unexpected input %v", mock.Calls[0].Input)
		}
	})

	t.Run("failure is a tool error with status", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "http", Errs: []error{&tool.StatusError{StatusCode: 502, Body: "bad gateway"}}}
		node := ToolNode("fetch", mock, func(Input) (map[string]any, error) {
			return map[string]any{"url": "http://example.invalid"}, nil
		})

		_, err := node.Executor.Execute(context.Background(), Input{})
		var nodeErr *NodeError
		if !errors.As(err, &nodeErr) || nodeErr.Kind != KindTool {
			t.Fatalf("expected tool NodeError, got %v", err)
		}
		if nodeErr.Details["status"] != 502 || nodeErr.Details["tool"] != "http" {
			t.Errorf("unexpected details %v", nodeErr.Details)
		}
	})

	t.Run("rejected code is a policy error", func(t *testing.T) {
		node := ToolNode("run", tool.NewExecTool(), func(Input) (map[string]any, error) {
			return map[string]any{"language": "python", "code": "import socket\nsocket.socket()"}, nil
		})

		_, err := node.Executor.Execute(context.Background(), Input{})
		var nodeErr *NodeError
		if !errors.As(err, &nodeErr) || nodeErr.Kind != KindPolicy || nodeErr.NodeID != "run" {
			t.Fatalf("expected policy NodeError, got %v", err)
		}
		if !errors.Is(err, ErrPolicyViolation) || nodeErr.Details["language"] != "python" {
			t.Errorf("unexpected error %v details %v", err, nodeErr.Details)
		}
		if DefaultClassifier(node.Kind, err) != KindPolicy {
			t.Errorf("expected policy_error classification")
		}
	})

	t.Run("policy violation passes through", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "acl", Errs: []error{PolicyViolation("forbidden", nil)}}
		node := ToolNode("check", mock, nil)

		_, err := node.Executor.Execute(context.Background(), Input{})
		if DefaultClassifier(node.Kind, err) != KindPolicy {
			t.Errorf("expected policy_error, got %v", err)
		}
	})

	t.Run("builder error", func(t *testing.T) {
		mock := &tool.MockTool{ToolName: "x"}
		node := ToolNode("x", mock, func(Input) (map[string]any, error) { return nil, errors.New("no url") })

		_, err := node.Executor.Execute(context.Background(), Input{})
		var nodeErr *NodeError
		if !errors.As(err, &nodeErr) || nodeErr.Kind != KindTool {
			t.Fatalf("expected tool NodeError, got %v", err)
		}
		if mock.CallCount() != 0 {
			t.Error("tool must not be called when input cannot be built")
		}
	})
}

func TestUsageTokens(t *testing.T) {
	tests := []struct {
		name    string
		resp    model.Response
		in, out int
	}{
		{"native layout", model.Response{"usage": map[string]any{"input_tokens": 10, "output_tokens": int64(5)}}, 10, 5},
		{"openai layout", model.Response{"usage": map[string]any{"prompt_tokens": 7.0, "completion_tokens": 3.0}}, 7, 3},
		{"missing", model.Response{}, 0, 0},
	}
	for _, tt := range tests {
		in, out := usageTokens(tt.resp)
		if in != tt.in || out != tt.out {
			t.Errorf("%s: got %d/%d, want %d/%d", tt.name, in, out, tt.in, tt.out)
		}
	}
}
