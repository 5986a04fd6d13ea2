// Package openai provides a model.Adapter backed by the official OpenAI Go SDK.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/flowstate/graph/model"
)

// DefaultModel is used when neither the adapter nor the request names a model.
const DefaultModel = "gpt-4o-mini"

// Adapter implements model.Adapter for OpenAI chat completions.
//
// The SDK's built-in retries are disabled: retry budgets belong to the
// engine's retry table, not to individual adapters.
type Adapter struct {
	*model.NativeContract
	api          completionsAPI
	defaultModel string
}

// completionsAPI is the subset of the SDK used by Adapter.
type completionsAPI interface {
	New(ctx context.Context, body openaisdk.ChatCompletionNewParams, opts ...option.RequestOption) (*openaisdk.ChatCompletion, error)
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

// WithBaseURL points the client at an alternative endpoint (e.g. a proxy).
func WithBaseURL(url string) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithBaseURL(url)) }
}

// WithHTTPClient replaces the HTTP client used by the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.reqOptions = append(c.reqOptions, option.WithHTTPClient(client)) }
}

// New creates an OpenAI adapter.
func New(apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	cfg := config{model: DefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOptions := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, cfg.reqOptions...)
	client := openaisdk.NewClient(reqOptions...)

	return newAdapter(&client.Chat.Completions, cfg.model)
}

func newAdapter(api completionsAPI, defaultModel string) (*Adapter, error) {
	contract, err := model.NewNativeContract(model.VendorOpenAI)
	if err != nil {
		return nil, err
	}
	return &Adapter{NativeContract: contract, api: api, defaultModel: defaultModel}, nil
}

// Capabilities returns the static descriptor for modelName.
func (a *Adapter) Capabilities(_ context.Context, modelName string) (model.CapabilityDescriptor, error) {
	if modelName == "" {
		modelName = a.defaultModel
	}
	caps := model.CapabilityDescriptor{
		Provider: string(model.VendorOpenAI),
		Model:    modelName,
		Features: model.Features{ToolCalling: true, JSONMode: true, Streaming: true},
		Limits:   model.Limits{MaxInputTokens: 128000, MaxOutputTokens: 4096, MaxTools: 128},
	}

	switch {
	case strings.HasPrefix(modelName, "gpt-4o"), strings.HasPrefix(modelName, "gpt-4.1"):
		caps.Features.Vision = true
		caps.Limits.MaxOutputTokens = 16384
	case strings.HasPrefix(modelName, "o1"), strings.HasPrefix(modelName, "o3"), strings.HasPrefix(modelName, "o4"):
		caps.Features.Vision = true
		caps.Limits.MaxInputTokens = 200000
		caps.Limits.MaxOutputTokens = 100000
	case strings.HasPrefix(modelName, "gpt-3.5"):
		caps.Limits.MaxInputTokens = 16385
	}
	return caps, nil
}

// Generate sends req as a chat completion.
func (a *Adapter) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	params := a.buildParams(req)

	completion, err := a.api.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no response from OpenAI API")
	}

	choice := completion.Choices[0]
	out := model.Response{
		"provider":      string(model.VendorOpenAI),
		"model":         completion.Model,
		"text":          choice.Message.Content,
		"finish_reason": choice.FinishReason,
		"usage": map[string]any{
			"input_tokens":  int(completion.Usage.PromptTokens),
			"output_tokens": int(completion.Usage.CompletionTokens),
			"total_tokens":  int(completion.Usage.TotalTokens),
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]any, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			var input map[string]any
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Function.Name, err)
				}
			}
			calls = append(calls, map[string]any{"name": tc.Function.Name, "input": input})
		}
		out["tool_calls"] = calls
	}
	return out, nil
}

func (a *Adapter) buildParams(req model.Request) openaisdk.ChatCompletionNewParams {
	modelName := req.Model()
	if modelName == "" {
		modelName = a.defaultModel
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: shared.ChatModel(modelName),
	}

	for _, m := range req.Messages() {
		switch m.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, openaisdk.SystemMessage(m.Content))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, openaisdk.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openaisdk.UserMessage(m.Content))
		}
	}

	if n, ok := req.MaxTokens(); ok && n > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(n))
	}

	for _, tool := range req.Tools() {
		fn := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(tool.Schema),
		}
		if tool.Description != "" {
			fn.Description = openaisdk.String(tool.Description)
		}
		params.Tools = append(params.Tools, openaisdk.ChatCompletionToolParam{Function: fn})
	}

	if req.WantsJSON() {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openaisdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	return params
}

// mapError converts SDK API errors into model.TransportError so callers can
// inspect the HTTP status without importing the SDK.
func mapError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return &model.TransportError{StatusCode: apiErr.StatusCode, Body: apiErr.Error(), Err: err}
	}
	return err
}
