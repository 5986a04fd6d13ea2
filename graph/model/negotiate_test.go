package model

import (
	"reflect"
	"testing"
)

func TestNegotiate(t *testing.T) {
	full := CapabilityDescriptor{Features: Features{ToolCalling: true, JSONMode: true, Streaming: true}, Limits: Limits{MaxTools: 128}}
	bare := CapabilityDescriptor{}

	tests := []struct {
		name     string
		req      Requirements
		caps     CapabilityDescriptor
		accepted bool
		actions  []Action
		reasons  []string
	}{
		{
			name:     "everything available",
			req:      Requirements{ToolCalling: true, StructuredOutput: true, Streaming: true},
			caps:     full,
			accepted: true,
			actions:  []Action{},
			reasons:  []string{},
		},
		{
			name:     "tool calling required without fallback",
			req:      Requirements{ToolCalling: true},
			caps:     bare,
			accepted: false,
			actions:  []Action{ActionSerialToolCalls},
			reasons:  []string{ReasonRequiredToolCallingUnavailable, ReasonParallelToolCallsUnavailable},
		},
		{
			name:     "tool calling with planner fallback",
			req:      Requirements{ToolCalling: true, PlannerExecutorFallback: true},
			caps:     bare,
			accepted: true,
			actions:  []Action{ActionPlannerExecutorSplit, ActionSerialToolCalls},
			reasons:  []string{ReasonToolCallingUnavailable, ReasonParallelToolCallsUnavailable},
		},
		{
			name:     "structured output and streaming degrade",
			req:      Requirements{StructuredOutput: true, Streaming: true},
			caps:     bare,
			accepted: true,
			actions:  []Action{ActionSchemaPostValidation, ActionPolledNonStreaming},
			reasons:  []string{ReasonStructuredOutputUnavailable, ReasonStreamingUnavailable},
		},
		{
			name:     "single tool slot forces serial calls",
			req:      Requirements{ToolCalling: true},
			caps:     CapabilityDescriptor{Features: Features{ToolCalling: true}, Limits: Limits{MaxTools: 1}},
			accepted: true,
			actions:  []Action{ActionSerialToolCalls},
			reasons:  []string{ReasonParallelToolCallsUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Negotiate(tt.req, tt.caps)
			if plan.Accepted != tt.accepted {
				t.Errorf("Accepted = %v, want %v", plan.Accepted, tt.accepted)
			}
			if !reflect.DeepEqual(plan.Actions, tt.actions) {
				t.Errorf("Actions = %v, want %v", plan.Actions, tt.actions)
			}
			if !reflect.DeepEqual(plan.Reasons, tt.reasons) {
				t.Errorf("Reasons = %v, want %v", plan.Reasons, tt.reasons)
			}
			for _, a := range tt.actions {
				if !plan.Has(a) {
					t.Errorf("Has(%s) = false", a)
				}
			}
		})
	}
}

func TestShape(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "u2"},
	}
	req := NewRequest("m", msgs...)
	req["max_tokens"] = 10000
	req["tools"] = []ToolSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	req["tool_choice"] = "auto"
	req["response_format"] = map[string]any{"type": "json_object"}
	req["stream"] = true

	t.Run("restrictive model", func(t *testing.T) {
		caps := CapabilityDescriptor{Limits: Limits{MaxOutputTokens: 4096, MaxContextMessages: 2}}
		out := Shape(req, caps)

		if n, _ := out.MaxTokens(); n != 4096 {
			t.Errorf("max_tokens = %d, want 4096", n)
		}
		got := out.Messages()
		want := []Message{{Role: RoleSystem, Content: "rules"}, {Role: RoleUser, Content: "u2"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("messages = %v, want %v", got, want)
		}
		for _, k := range []string{"tools", "tool_choice", "response_format", "stream"} {
			if _, ok := out[k]; ok {
				t.Errorf("%s should be dropped", k)
			}
		}
	})

	t.Run("capable model", func(t *testing.T) {
		caps := CapabilityDescriptor{
			Features: Features{ToolCalling: true, JSONMode: true, Streaming: true},
			Limits:   Limits{MaxOutputTokens: 20000, MaxTools: 2},
		}
		out := Shape(req, caps)

		if n, _ := out.MaxTokens(); n != 10000 {
			t.Errorf("max_tokens = %d, want unchanged 10000", n)
		}
		if len(out.Messages()) != 4 {
			t.Errorf("messages should be untouched, got %d", len(out.Messages()))
		}
		if tools := out.Tools(); len(tools) != 2 || tools[1].Name != "b" {
			t.Errorf("tools = %v, want first two", tools)
		}
		if !out.WantsJSON() || out["stream"] != true {
			t.Error("json mode and streaming should be kept")
		}
	})

	t.Run("input untouched", func(t *testing.T) {
		_ = Shape(req, CapabilityDescriptor{})
		if len(req.Messages()) != 4 || len(req.Tools()) != 3 || !req.WantsJSON() {
			t.Error("Shape modified its input")
		}
	})
}

func TestTrimMessages_SystemOverflow(t *testing.T) {
	msgs := []any{
		map[string]any{"role": RoleSystem, "content": "s1"},
		map[string]any{"role": RoleSystem, "content": "s2"},
		map[string]any{"role": RoleUser, "content": "u"},
	}
	got := trimMessages(msgs, 1)
	if len(got) != 2 || roleOf(got[0]) != RoleSystem || roleOf(got[1]) != RoleSystem {
		t.Errorf("expected only system messages, got %v", got)
	}
}

func TestShape_KeepsEntryLayout(t *testing.T) {
	search := map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "search", "parameters": map[string]any{"type": "object"}},
	}
	fetch := map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "fetch"},
	}
	call := map[string]any{
		"role":    RoleAssistant,
		"content": "",
		"tool_calls": []any{map[string]any{
			"id":       "call_1",
			"type":     "function",
			"function": map[string]any{"name": "search", "arguments": `{"q":"go"}`},
		}},
	}
	result := map[string]any{"role": RoleTool, "tool_call_id": "call_1", "name": "search", "content": "r"}
	image := map[string]any{"role": RoleUser, "content": []any{
		map[string]any{"type": "text", "text": "what is this?"},
		map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://img.example.com/a.png"}},
	}}

	caps := CapabilityDescriptor{
		Features: Features{ToolCalling: true},
		Limits:   Limits{MaxTools: 1, MaxContextMessages: 2},
	}

	t.Run("openai tools", func(t *testing.T) {
		req := Request{
			"messages": []any{map[string]any{"role": RoleUser, "content": "q"}},
			"tools":    []any{search, fetch},
		}
		out := Shape(req, caps)
		tools, _ := out["tools"].([]any)
		if len(tools) != 1 || !reflect.DeepEqual(tools[0], search) {
			t.Errorf("tools = %v, want [%v]", out["tools"], search)
		}
	})

	t.Run("tool call fields", func(t *testing.T) {
		req := Request{"messages": []any{
			map[string]any{"role": RoleUser, "content": "q"},
			call,
			result,
		}}
		out := Shape(req, caps)
		msgs, _ := out["messages"].([]any)
		if len(msgs) != 2 || !reflect.DeepEqual(msgs[0], call) || !reflect.DeepEqual(msgs[1], result) {
			t.Errorf("messages = %v, want the call and its result", msgs)
		}
	})

	t.Run("orphaned tool result", func(t *testing.T) {
		req := Request{"messages": []any{
			map[string]any{"role": RoleUser, "content": "q"},
			call,
			result,
			map[string]any{"role": RoleAssistant, "content": "done"},
		}}
		out := Shape(req, caps)
		msgs, _ := out["messages"].([]any)
		if len(msgs) != 1 || roleOf(msgs[0]) != RoleAssistant {
			t.Errorf("messages = %v, want only the final answer", msgs)
		}
	})

	t.Run("multimodal content", func(t *testing.T) {
		req := Request{"messages": []any{
			map[string]any{"role": RoleSystem, "content": "rules"},
			map[string]any{"role": RoleUser, "content": "earlier"},
			image,
		}}
		out := Shape(req, caps)
		msgs, _ := out["messages"].([]any)
		if len(msgs) != 2 || roleOf(msgs[0]) != RoleSystem || !reflect.DeepEqual(msgs[1], image) {
			t.Errorf("messages = %v, want the system prompt and the image turn", msgs)
		}
	})

	t.Run("typed slices", func(t *testing.T) {
		req := NewRequest("m", Message{Role: RoleUser, Content: "a"})
		req["messages"] = []Message{{Role: RoleUser, Content: "a"}, {Role: RoleUser, Content: "b"}, {Role: RoleUser, Content: "c"}}
		out := Shape(req, caps)
		if got := out.Messages(); len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
			t.Errorf("messages = %v, want the last two", got)
		}
		if len(req["messages"].([]Message)) != 3 {
			t.Error("Shape modified its input")
		}
	})
}
