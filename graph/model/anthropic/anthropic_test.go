package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/flowstate/graph/model"
)

var _ model.Adapter = (*Adapter)(nil)

type fakeMessages struct {
	params   []anthropicsdk.MessageNewParams
	response *anthropicsdk.Message
	err      error
}

func (f *fakeMessages) New(_ context.Context, body anthropicsdk.MessageNewParams, _ ...option.RequestOption) (*anthropicsdk.Message, error) {
	f.params = append(f.params, body)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestAdapter(t *testing.T, api messagesAPI) *Adapter {
	t.Helper()
	a, err := newAdapter(api, DefaultModel)
	if err != nil {
		t.Fatalf("newAdapter failed: %v", err)
	}
	return a
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	a, err := New("key", WithModel("claude-3-haiku-20240307"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Vendor() != model.VendorAnthropic {
		t.Errorf("Vendor = %s", a.Vendor())
	}
	caps, _ := a.Capabilities(context.Background(), "")
	if caps.Model != "claude-3-haiku-20240307" || caps.Limits.MaxOutputTokens != 4096 {
		t.Errorf("caps = %+v", caps)
	}
}

func TestExtractSystemPrompt(t *testing.T) {
	system, rest := extractSystemPrompt([]model.Message{
		{Role: model.RoleSystem, Content: "one"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleSystem, Content: "two"},
	})
	if system != "one\n\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "hi" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestAdapter_Generate(t *testing.T) {
	fake := &fakeMessages{response: &anthropicsdk.Message{
		Model:      "claude-3-5-sonnet-latest",
		StopReason: "tool_use",
		Content: []anthropicsdk.ContentBlockUnion{
			{Type: "text", Text: "Looking "},
			{Type: "text", Text: "it up"},
			{Type: "tool_use", ID: "tu_1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
		},
		Usage: anthropicsdk.Usage{InputTokens: 10, OutputTokens: 4},
	}}
	a := newTestAdapter(t, fake)

	req := model.NewRequest("",
		model.Message{Role: model.RoleSystem, Content: "be brief"},
		model.Message{Role: model.RoleUser, Content: "hi"},
		model.Message{Role: model.RoleAssistant, Content: "hello"},
	)
	req["tools"] = []model.ToolSpec{{
		Name:        "search",
		Description: "web search",
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
			"required":   []any{"q"},
		},
	}}

	resp, err := a.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	p := fake.params[0]
	if string(p.Model) != DefaultModel {
		t.Errorf("Model = %s", p.Model)
	}
	if p.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "be brief" {
		t.Errorf("System = %+v", p.System)
	}
	if len(p.Messages) != 2 || p.Messages[0].Role != "user" || p.Messages[1].Role != "assistant" {
		t.Errorf("Messages = %+v", p.Messages)
	}
	if len(p.Tools) != 1 || p.Tools[0].OfTool == nil {
		t.Fatalf("Tools = %+v", p.Tools)
	}
	tool := p.Tools[0].OfTool
	if tool.Name != "search" || tool.Description.Value != "web search" {
		t.Errorf("tool = %+v", tool)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "q" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}

	if resp.Text() != "Looking it up" {
		t.Errorf("text = %q", resp.Text())
	}
	if resp.TotalTokens() != 14 {
		t.Errorf("total tokens = %d", resp.TotalTokens())
	}
	if resp["finish_reason"] != "tool_use" {
		t.Errorf("finish_reason = %v", resp["finish_reason"])
	}
	calls, _ := resp["tool_calls"].([]any)
	if len(calls) != 1 || calls[0].(map[string]any)["input"].(map[string]any)["q"] != "go" {
		t.Errorf("tool_calls = %v", resp["tool_calls"])
	}
}

func TestAdapter_GenerateMaxTokens(t *testing.T) {
	fake := &fakeMessages{response: &anthropicsdk.Message{}}
	a := newTestAdapter(t, fake)

	req := model.NewRequest("claude-3-opus-latest", model.Message{Role: model.RoleUser, Content: "hi"})
	req["max_tokens"] = 256
	if _, err := a.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if fake.params[0].MaxTokens != 256 {
		t.Errorf("MaxTokens = %d", fake.params[0].MaxTokens)
	}
}

func TestAdapter_GenerateError(t *testing.T) {
	boom := errors.New("dial tcp: timeout")
	a := newTestAdapter(t, &fakeMessages{err: boom})
	_, err := a.Generate(context.Background(), model.NewRequest(""))
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
}

func TestToStrings(t *testing.T) {
	if got := toStrings([]any{"a", 1, "b"}); len(got) != 2 || got[1] != "b" {
		t.Errorf("got %v", got)
	}
	if got := toStrings("x"); got != nil {
		t.Errorf("got %v", got)
	}
}
