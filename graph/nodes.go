package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/flowstate/graph/model"
	"github.com/dshills/flowstate/graph/tool"
)

// RequestBuilder derives a model request from a node's input.
type RequestBuilder func(in Input) (model.Request, error)

// ModelNodeOption configures ModelNode.
type ModelNodeOption func(*modelNode)

// WithRequirements negotiates req against the model's capabilities before
// every call. A plan that is not accepted fails the attempt.
func WithRequirements(req model.Requirements) ModelNodeOption {
	return func(n *modelNode) {
		n.requirements = &req
	}
}

// WithCostTracker records token usage of every successful call.
func WithCostTracker(ct *CostTracker) ModelNodeOption {
	return func(n *modelNode) {
		n.costs = ct
	}
}

type modelNode struct {
	id           string
	adapter      model.Adapter
	modelName    string
	build        RequestBuilder
	requirements *model.Requirements
	costs        *CostTracker
}

// ModelNode returns a node that calls adapter. Each attempt discovers the
// model's capabilities, shapes the request to them and calls Generate. The
// response is the node output. Every failure is a model_error.
//
// modelName is used when the built request does not name a model.
func ModelNode(id string, adapter model.Adapter, modelName string, build RequestBuilder, opts ...ModelNodeOption) Node {
	n := &modelNode{id: id, adapter: adapter, modelName: modelName, build: build}
	for _, opt := range opts {
		opt(n)
	}
	return Node{ID: id, Kind: KindModel, Executor: n}
}

func (n *modelNode) Execute(ctx context.Context, in Input) (any, error) {
	if n.adapter == nil || n.build == nil {
		return nil, n.fail("model node is not configured", nil, nil)
	}

	req, err := n.build(in)
	if err != nil {
		return nil, n.fail("failed to build request", nil, err)
	}
	if req == nil {
		req = model.Request{}
	}
	if req.Model() == "" && n.modelName != "" {
		req = req.Clone()
		req["model"] = n.modelName
	}
	modelName := req.Model()

	caps, err := n.adapter.Capabilities(ctx, modelName)
	if err != nil {
		return nil, n.fail("capability discovery failed", map[string]any{"model": modelName}, err)
	}

	if n.requirements != nil {
		plan := model.Negotiate(*n.requirements, caps)
		if !plan.Accepted {
			return nil, n.fail("model cannot satisfy requirements", map[string]any{
				"model":   modelName,
				"reasons": strings.Join(plan.Reasons, ","),
			}, nil)
		}
	}

	resp, err := n.adapter.Generate(ctx, model.Shape(req, caps))
	if err != nil {
		details := map[string]any{"model": modelName}
		var te *model.TransportError
		if errors.As(err, &te) && te.StatusCode != 0 {
			details["status"] = te.StatusCode
		}
		return nil, n.fail("generate failed", details, err)
	}
	if resp == nil {
		return nil, n.fail("adapter returned an empty response", map[string]any{"model": modelName}, nil)
	}

	if n.costs != nil {
		inTok, outTok := usageTokens(resp)
		n.costs.Record(in.RunID, n.id, modelName, inTok, outTok)
	}
	return resp, nil
}

func (n *modelNode) fail(msg string, details map[string]any, cause error) error {
	if details == nil {
		details = map[string]any{}
	}
	if n.adapter != nil {
		details["adapter"] = n.adapter.Name()
	}
	message := msg
	if cause != nil {
		message = msg + ": " + cause.Error()
	}
	return &NodeError{Kind: KindModel, Message: message, Details: details, NodeID: n.id, Cause: cause}
}

// usageTokens reads the "usage" block written by the adapters in
// graph/model.
func usageTokens(resp model.Response) (int, int) {
	usage, _ := resp["usage"].(map[string]any)
	toInt := func(v any) int {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
		return 0
	}
	in := toInt(usage["input_tokens"])
	if in == 0 {
		in = toInt(usage["prompt_tokens"])
	}
	out := toInt(usage["output_tokens"])
	if out == 0 {
		out = toInt(usage["completion_tokens"])
	}
	return in, out
}

// ToolInputBuilder derives tool arguments from a node's input.
type ToolInputBuilder func(in Input) (map[string]any, error)

// ToolNode returns a node that calls t with the arguments produced by build
// (nil build sends the run context). Every failure is a tool_error unless
// the tool itself returns a classified *NodeError or ErrPolicyViolation.
// Code rejected by a tool's validation is a policy_error.
func ToolNode(id string, t tool.Tool, build ToolInputBuilder) Node {
	exec := func(ctx context.Context, in Input) (any, error) {
		if t == nil {
			return nil, &NodeError{Kind: KindTool, Message: "tool node is not configured", NodeID: id}
		}

		args := in.Context
		if build != nil {
			var err error
			if args, err = build(in); err != nil {
				return nil, &NodeError{Kind: KindTool, Message: "failed to build tool input: " + err.Error(), NodeID: id, Cause: err}
			}
		}

		out, err := t.Call(ctx, args)
		if err != nil {
			var nodeErr *NodeError
			if errors.As(err, &nodeErr) || errors.Is(err, ErrPolicyViolation) {
				return nil, err
			}
			var unsafe *tool.UnsafeCodeError
			if errors.As(err, &unsafe) {
				return nil, &NodeError{
					Kind:    KindPolicy,
					Message: err.Error(),
					Details: map[string]any{"tool": t.Name(), "language": unsafe.Language},
					NodeID:  id,
					Cause:   errors.Join(ErrPolicyViolation, err),
				}
			}
			details := map[string]any{"tool": t.Name()}
			var se *tool.StatusError
			if errors.As(err, &se) {
				details["status"] = se.StatusCode
			}
			return nil, &NodeError{
				Kind:    KindTool,
				Message: fmt.Sprintf("tool %s failed: %v", t.Name(), err),
				Details: details,
				NodeID:  id,
				Cause:   err,
			}
		}
		return out, nil
	}
	return Node{ID: id, Kind: KindTool, Executor: ExecutorFunc(exec)}
}
