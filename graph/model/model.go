// Package model defines the contract between workflow nodes and model
// backends (LLM providers).
//
// An Adapter exposes two operations: capability discovery and generation.
// Requests and responses are opaque JSON-compatible maps so they can be
// stored verbatim as node output; helper methods read the common keys
// ("model", "messages", "max_tokens", "tools", "response_format").
package model

import (
	"context"
	"encoding/json"
	"reflect"
)

// Adapter is a model backend.
//
// Implementations:
//   - RESTAdapter: any OpenAI-compatible HTTP endpoint
//   - openai.Adapter, anthropic.Adapter, google.Adapter: native SDK backends
//   - MockAdapter: scripted responses for tests
//
// Types that embed UnimplementedAdapter without overriding a method fail
// loudly with ErrUnimplemented rather than returning empty results.
type Adapter interface {
	// Name identifies the adapter in events and error details.
	Name() string

	// Capabilities describes what the backend supports for modelName.
	Capabilities(ctx context.Context, modelName string) (CapabilityDescriptor, error)

	// Generate performs one generation call.
	Generate(ctx context.Context, req Request) (Response, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"parameters,omitempty"`
}

// Request is an opaque generation request.
type Request map[string]any

// Response is an opaque generation response.
type Response map[string]any

// NewRequest builds a chat request in the common layout.
func NewRequest(modelName string, messages ...Message) Request {
	msgs := make([]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	return Request{
		"model":    modelName,
		"messages": msgs,
	}
}

// Clone returns a shallow copy of r.
func (r Request) Clone() Request {
	out := make(Request, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Model returns the "model" key.
func (r Request) Model() string {
	s, _ := r["model"].(string)
	return s
}

// Messages decodes the "messages" key. Both []Message and the generic
// []any-of-maps layout produced by JSON decoding are accepted.
func (r Request) Messages() []Message {
	switch v := r["messages"].(type) {
	case []Message:
		return append([]Message(nil), v...)
	case nil:
		return nil
	default:
		var out []Message
		if err := remarshal(v, &out); err != nil {
			return nil
		}
		return out
	}
}

// MaxTokens returns the "max_tokens" key, if set.
func (r Request) MaxTokens() (int, bool) {
	return asInt(r["max_tokens"])
}

// Tools decodes the "tools" key. Entries use the ToolSpec JSON layout
// ({"name", "description", "parameters"}).
func (r Request) Tools() []ToolSpec {
	switch v := r["tools"].(type) {
	case []ToolSpec:
		return append([]ToolSpec(nil), v...)
	case nil:
		return nil
	default:
		var out []ToolSpec
		if err := remarshal(v, &out); err != nil {
			return nil
		}
		return out
	}
}

// WantsJSON reports whether "response_format" asks for a JSON object,
// either as the string "json_object" or as {"type": "json_object"}.
func (r Request) WantsJSON() bool {
	switch v := r["response_format"].(type) {
	case string:
		return v == "json_object"
	case map[string]any:
		return v["type"] == "json_object"
	}
	return false
}

// Text returns the generated text. It understands the "text" key written
// by native adapters and the OpenAI chat layout (choices[0].message.content).
func (r Response) Text() string {
	if s, ok := r["text"].(string); ok {
		return s
	}
	choices, ok := r["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]any)
	msg, _ := choice["message"].(map[string]any)
	s, _ := msg["content"].(string)
	return s
}

// TotalTokens returns usage.total_tokens, or 0 when absent.
func (r Response) TotalTokens() int {
	usage, _ := r["usage"].(map[string]any)
	n, _ := asInt(usage["total_tokens"])
	return n
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// rawList returns the entries of a "messages" or "tools" value without
// decoding them. Typed slices are converted element by element.
func rawList(v any) []any {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// roleOf reads the role of a raw message entry.
func roleOf(m any) string {
	switch v := m.(type) {
	case Message:
		return v.Role
	case map[string]any:
		s, _ := v["role"].(string)
		return s
	}
	return ""
}
