// Package anthropic provides a model.Adapter for Anthropic's Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/flowstate/graph/model"
)

const (
	// DefaultModel is used when neither the adapter nor the request names a model.
	DefaultModel = "claude-3-5-sonnet-latest"

	// defaultMaxTokens is sent when the request does not set max_tokens;
	// the Messages API requires one.
	defaultMaxTokens = 1024
)

// Adapter implements model.Adapter for Claude models.
//
// System messages are lifted into the separate system parameter that the
// Messages API expects.
type Adapter struct {
	*model.NativeContract
	api          messagesAPI
	defaultModel string
}

type messagesAPI interface {
	New(ctx context.Context, body anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Option configures an Adapter.
type Option func(*config)

type config struct {
	model      string
	reqOptions []option.RequestOption
}

// WithModel sets the model used when a request does not name one.
func WithModel(name string) Option {
	return func(c *config) { c.model = name }
}

// WithBaseURL points the client at an alternative endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithBaseURL(url)) }
}

// WithHTTPClient replaces the HTTP client used by the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithHTTPClient(client)) }
}

// New creates an Anthropic adapter. SDK retries are disabled.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	cfg := config{model: DefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOptions := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, cfg.reqOptions...)
	client := anthropicsdk.NewClient(reqOptions...)

	return newAdapter(&client.Messages, cfg.model)
}

func newAdapter(api messagesAPI, defaultModel string) (*Adapter, error) {
	contract, err := model.NewNativeContract(model.VendorAnthropic)
	if err != nil {
		return nil, err
	}
	return &Adapter{NativeContract: contract, api: api, defaultModel: defaultModel}, nil
}

// Capabilities returns the static descriptor for modelName. All current
// Claude models share a 200k context window; output limits vary by family.
func (a *Adapter) Capabilities(_ context.Context, modelName string) (model.CapabilityDescriptor, error) {
	if modelName == "" {
		modelName = a.defaultModel
	}
	caps := model.CapabilityDescriptor{
		Provider: string(model.VendorAnthropic),
		Model:    modelName,
		Features: model.Features{ToolCalling: true, Vision: true, Streaming: true},
		Limits:   model.Limits{MaxInputTokens: 200000, MaxOutputTokens: 8192, MaxTools: 128},
	}
	switch {
	case strings.HasPrefix(modelName, "claude-3-haiku"), strings.HasPrefix(modelName, "claude-3-opus"), strings.HasPrefix(modelName, "claude-3-sonnet"):
		caps.Limits.MaxOutputTokens = 4096
	case strings.Contains(modelName, "sonnet-4"), strings.Contains(modelName, "3-7-sonnet"):
		caps.Limits.MaxOutputTokens = 64000
	case strings.Contains(modelName, "opus-4"):
		caps.Limits.MaxOutputTokens = 32000
	}
	return caps, nil
}

// Generate sends req to the Messages API.
func (a *Adapter) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	params := a.buildParams(req)

	msg, err := a.api.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	var (
		text  strings.Builder
		calls []any
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool input for %s: %w", block.Name, err)
				}
			}
			calls = append(calls, map[string]any{"id": block.ID, "name": block.Name, "input": input})
		}
	}

	out := model.Response{
		"provider":      string(model.VendorAnthropic),
		"model":         string(msg.Model),
		"text":          text.String(),
		"finish_reason": string(msg.StopReason),
		"usage": map[string]any{
			"input_tokens":  int(msg.Usage.InputTokens),
			"output_tokens": int(msg.Usage.OutputTokens),
			"total_tokens":  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	if len(calls) > 0 {
		out["tool_calls"] = calls
	}
	return out, nil
}

func (a *Adapter) buildParams(req model.Request) anthropicsdk.MessageNewParams {
	modelName := req.Model()
	if modelName == "" {
		modelName = a.defaultModel
	}
	maxTokens := defaultMaxTokens
	if n, ok := req.MaxTokens(); ok && n > 0 {
		maxTokens = n
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: int64(maxTokens),
	}

	system, conversation := extractSystemPrompt(req.Messages())
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	for _, m := range conversation {
		block := anthropicsdk.NewTextBlock(m.Content)
		if m.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anthropicsdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropicsdk.NewUserMessage(block))
		}
	}

	for _, tool := range req.Tools() {
		params.Tools = append(params.Tools, convertTool(tool))
	}
	return params
}

// extractSystemPrompt joins all system messages and returns the rest.
func extractSystemPrompt(messages []model.Message) (string, []model.Message) {
	var systemPrompt string
	var conversation []model.Message

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

// convertTool maps a JSON-schema tool spec onto the SDK's input schema,
// which models "properties" and "required" as dedicated fields.
func convertTool(tool model.ToolSpec) anthropicsdk.ToolUnionParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	extra := map[string]any{}
	for k, v := range tool.Schema {
		switch k {
		case "type":
		case "properties":
			schema.Properties = v
		case "required":
			schema.Required = toStrings(v)
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		schema.ExtraFields = extra
	}

	union := anthropicsdk.ToolUnionParamOfTool(schema, tool.Name)
	if tool.Description != "" {
		union.OfTool.Description = anthropicsdk.String(tool.Description)
	}
	return union
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, s := range vv {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func mapError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return &model.TransportError{StatusCode: apiErr.StatusCode, Body: apiErr.Error(), Err: err}
	}
	return err
}
