package model

// Action is a degradation applied when a requirement cannot be met natively.
type Action string

// Degradation actions.
const (
	ActionPlannerExecutorSplit Action = "enable_planner_executor_split"
	ActionSchemaPostValidation Action = "enforce_schema_post_validation"
	ActionPolledNonStreaming   Action = "switch_to_polled_non_streaming"
	ActionSerialToolCalls      Action = "tool_calls_serial_only"
)

// Reasons attached to a Plan.
const (
	ReasonToolCallingUnavailable         = "tool_calling_unavailable"
	ReasonRequiredToolCallingUnavailable = "required_tool_calling_unavailable"
	ReasonStructuredOutputUnavailable    = "native_structured_output_unavailable"
	ReasonStreamingUnavailable           = "streaming_unavailable"
	ReasonParallelToolCallsUnavailable   = "parallel_tool_calls_unavailable"
)

// Requirements are the behaviours a node wants from a model.
type Requirements struct {
	ToolCalling      bool `json:"toolCalling"`
	StructuredOutput bool `json:"structuredOutput"`
	Streaming        bool `json:"streaming"`

	// PlannerExecutorFallback allows replacing native tool calling with a
	// planner/executor split when the model lacks it. Without it, a tool
	// calling requirement on such a model rejects the plan.
	PlannerExecutorFallback bool `json:"plannerExecutorFallback"`
}

// Plan is the outcome of Negotiate.
type Plan struct {
	Accepted bool     `json:"accepted"`
	Actions  []Action `json:"actions"`
	Reasons  []string `json:"reasons"`
}

// Has reports whether the plan contains action a.
func (p Plan) Has(a Action) bool {
	for _, got := range p.Actions {
		if got == a {
			return true
		}
	}
	return false
}

// Negotiate compares req against caps and returns a plan that is accepted
// as-is, accepted with degradations, or rejected when a hard requirement
// cannot be met.
//
// Parallel tool calls are considered available when the model supports
// tool calling with room for more than one tool (MaxTools 0 means
// unbounded).
func Negotiate(req Requirements, caps CapabilityDescriptor) Plan {
	plan := Plan{Accepted: true, Actions: []Action{}, Reasons: []string{}}

	if req.ToolCalling && !caps.Features.ToolCalling {
		if req.PlannerExecutorFallback {
			plan.Actions = append(plan.Actions, ActionPlannerExecutorSplit)
			plan.Reasons = append(plan.Reasons, ReasonToolCallingUnavailable)
		} else {
			plan.Accepted = false
			plan.Reasons = append(plan.Reasons, ReasonRequiredToolCallingUnavailable)
		}
	}

	if req.StructuredOutput && !caps.Features.JSONMode {
		plan.Actions = append(plan.Actions, ActionSchemaPostValidation)
		plan.Reasons = append(plan.Reasons, ReasonStructuredOutputUnavailable)
	}

	if req.Streaming && !caps.Features.Streaming {
		plan.Actions = append(plan.Actions, ActionPolledNonStreaming)
		plan.Reasons = append(plan.Reasons, ReasonStreamingUnavailable)
	}

	parallel := caps.Features.ToolCalling && caps.Limits.MaxTools != 1
	if req.ToolCalling && !parallel {
		plan.Actions = append(plan.Actions, ActionSerialToolCalls)
		plan.Reasons = append(plan.Reasons, ReasonParallelToolCallsUnavailable)
	}

	return plan
}

// Shape returns a copy of req adjusted to fit caps:
//   - max_tokens is clamped to Limits.MaxOutputTokens
//   - messages are trimmed to Limits.MaxContextMessages, keeping every
//     system message and the most recent other messages
//   - tools (and tool_choice) are dropped when tool calling is unsupported,
//     or truncated to Limits.MaxTools
//   - a JSON response_format is dropped when JSON mode is unsupported
//   - stream is dropped when streaming is unsupported
//
// Messages and tools are cut by position; the entries themselves are passed
// through unchanged whatever their layout. req itself is never modified.
func Shape(req Request, caps CapabilityDescriptor) Request {
	out := req.Clone()

	if limit := caps.Limits.MaxOutputTokens; limit > 0 {
		if n, ok := out.MaxTokens(); ok && n > limit {
			out["max_tokens"] = limit
		}
	}

	if limit := caps.Limits.MaxContextMessages; limit > 0 {
		if msgs := rawList(out["messages"]); len(msgs) > limit {
			out["messages"] = trimMessages(msgs, limit)
		}
	}

	if _, ok := out["tools"]; ok {
		switch tools := rawList(out["tools"]); {
		case !caps.Features.ToolCalling:
			delete(out, "tools")
			delete(out, "tool_choice")
		case caps.Limits.MaxTools > 0 && len(tools) > caps.Limits.MaxTools:
			out["tools"] = tools[:caps.Limits.MaxTools:caps.Limits.MaxTools]
		}
	}

	if !caps.Features.JSONMode && out.WantsJSON() {
		delete(out, "response_format")
	}

	if !caps.Features.Streaming {
		delete(out, "stream")
	}

	return out
}

// trimMessages keeps all system messages plus the newest non-system
// messages so that the total does not exceed limit, preserving order.
// When system messages alone exceed limit they are all kept. Tool results
// at the start of the kept window are dropped along with the call they
// answer.
func trimMessages(msgs []any, limit int) []any {
	systems := 0
	for _, m := range msgs {
		if roleOf(m) == RoleSystem {
			systems++
		}
	}
	keep := limit - systems
	if keep < 0 {
		keep = 0
	}

	// Walk backwards to find the cut-off among non-system messages.
	kept := make([]bool, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		switch {
		case roleOf(msgs[i]) == RoleSystem:
			kept[i] = true
		case keep > 0:
			kept[i] = true
			keep--
		}
	}

	leading := true
	out := make([]any, 0, limit)
	for i, m := range msgs {
		if !kept[i] {
			continue
		}
		switch role := roleOf(m); {
		case role == RoleSystem:
		case leading && role == RoleTool:
			continue
		default:
			leading = false
		}
		out = append(out, m)
	}
	return out
}
