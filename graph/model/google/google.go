// Package google provides a model.Adapter for Gemini models via the
// generative-ai-go SDK. It is registered under the Vertex vendor.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/flowstate/graph/model"
)

// DefaultModel is used when neither the adapter nor the request names a model.
const DefaultModel = "gemini-2.5-flash"

// Adapter implements model.Adapter for Gemini.
type Adapter struct {
	*model.NativeContract
	api          contentAPI
	defaultModel string
	closer       func() error
}

// call is one fully converted generation request.
type call struct {
	Model     string
	System    *genai.Content
	History   []*genai.Content
	Parts     []genai.Part
	Tools     []*genai.Tool
	MaxTokens int32
	JSON      bool
}

type contentAPI interface {
	generate(ctx context.Context, c call) (*genai.GenerateContentResponse, error)
}

// sdkClient sends calls through a shared genai.Client.
type sdkClient struct {
	client *genai.Client
}

func (s *sdkClient) generate(ctx context.Context, c call) (*genai.GenerateContentResponse, error) {
	gm := s.client.GenerativeModel(c.Model)
	gm.SystemInstruction = c.System
	gm.Tools = c.Tools
	if c.MaxTokens > 0 {
		gm.SetMaxOutputTokens(c.MaxTokens)
	}
	if c.JSON {
		gm.ResponseMIMEType = "application/json"
	}

	cs := gm.StartChat()
	cs.History = c.History
	return cs.SendMessage(ctx, c.Parts...)
}

// Option configures an Adapter.
type Option func(*config)

type config struct {
	model         string
	clientOptions []option.ClientOption
}

// WithModel sets the model used when a request does not name one.
func WithModel(name string) Option {
	return func(c *config) { c.model = name }
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) Option {
	return func(c *config) { c.clientOptions = append(c.clientOptions, option.WithEndpoint(url)) }
}

// New creates a Gemini adapter. The underlying client holds connections;
// call Close when done.
func New(ctx context.Context, apiKey string, opts ...Option) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}

	cfg := config{model: DefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOptions := append([]option.ClientOption{option.WithAPIKey(apiKey)}, cfg.clientOptions...)
	client, err := genai.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	a, err := newAdapter(&sdkClient{client: client}, cfg.model)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closer = client.Close
	return a, nil
}

func newAdapter(api contentAPI, defaultModel string) (*Adapter, error) {
	contract, err := model.NewNativeContract(model.VendorVertex)
	if err != nil {
		return nil, err
	}
	return &Adapter{NativeContract: contract, api: api, defaultModel: defaultModel}, nil
}

// Close releases the SDK client.
func (a *Adapter) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

// Capabilities returns the static descriptor for modelName.
func (a *Adapter) Capabilities(_ context.Context, modelName string) (model.CapabilityDescriptor, error) {
	if modelName == "" {
		modelName = a.defaultModel
	}
	caps := model.CapabilityDescriptor{
		Provider: string(model.VendorVertex),
		Model:    modelName,
		Features: model.Features{ToolCalling: true, JSONMode: true, Vision: true, Streaming: true},
		Limits:   model.Limits{MaxInputTokens: 1048576, MaxOutputTokens: 8192, MaxTools: 128},
	}
	switch {
	case strings.HasPrefix(modelName, "gemini-2.5"):
		caps.Limits.MaxOutputTokens = 65536
	case strings.HasPrefix(modelName, "gemini-1.0"):
		caps.Features.JSONMode = false
		caps.Limits.MaxInputTokens = 32760
		caps.Limits.MaxOutputTokens = 2048
	}
	return caps, nil
}

// Generate converts req into a chat turn: earlier messages become history
// and the final user message is sent.
func (a *Adapter) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	c := a.buildCall(req)

	resp, err := a.api.generate(ctx, c)
	if err != nil {
		return nil, mapError(err)
	}
	return convertResponse(c.Model, resp)
}

func (a *Adapter) buildCall(req model.Request) call {
	c := call{Model: req.Model(), JSON: req.WantsJSON()}
	if c.Model == "" {
		c.Model = a.defaultModel
	}
	if n, ok := req.MaxTokens(); ok && n > 0 {
		c.MaxTokens = int32(n)
	}
	if tools := req.Tools(); len(tools) > 0 {
		c.Tools = convertTools(tools)
	}

	var system []genai.Part
	var turns []*genai.Content
	for _, m := range req.Messages() {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, genai.Text(m.Content))
		case model.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, genai.NewUserContent(genai.Text(m.Content)))
		}
	}
	if len(system) > 0 {
		c.System = &genai.Content{Parts: system}
	}

	// The last user turn is the message; everything before it is history.
	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		c.Parts = turns[n-1].Parts
		turns = turns[:n-1]
	}
	c.History = turns
	return c
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertSchema(tool.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchema maps a JSON schema object onto genai.Schema. Nested
// objects and array items are converted recursively.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	result := &genai.Schema{Type: genai.TypeObject}
	if typeStr, ok := schema["type"].(string); ok {
		result.Type = convertType(typeStr)
	}
	if desc, ok := schema["description"].(string); ok {
		result.Description = desc
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		result.Items = convertSchema(items)
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		result.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]interface{}); ok {
				result.Properties[key] = convertSchema(propMap)
			}
		}
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []interface{}:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func convertType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertResponse(modelName string, resp *genai.GenerateContentResponse) (model.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in Gemini response")
	}

	candidate := resp.Candidates[0]
	out := model.Response{
		"provider":      string(model.VendorVertex),
		"model":         modelName,
		"finish_reason": candidate.FinishReason.String(),
	}

	var text strings.Builder
	var calls []any
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text.WriteString(string(p))
			case genai.FunctionCall:
				calls = append(calls, map[string]any{"name": p.Name, "input": p.Args})
			}
		}
	}
	out["text"] = text.String()
	if len(calls) > 0 {
		out["tool_calls"] = calls
	}

	if u := resp.UsageMetadata; u != nil {
		out["usage"] = map[string]any{
			"input_tokens":  int(u.PromptTokenCount),
			"output_tokens": int(u.CandidatesTokenCount),
			"total_tokens":  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// SafetyFilterError reports a prompt or response blocked by Gemini's
// safety filters.
type SafetyFilterError struct {
	Reason string
	Err    error
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.Reason
}

func (e *SafetyFilterError) Unwrap() error { return e.Err }

func mapError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		reason := "prompt"
		if blocked.Candidate != nil {
			reason = blocked.Candidate.FinishReason.String()
		}
		return &SafetyFilterError{Reason: reason, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &model.TransportError{StatusCode: apiErr.Code, Body: apiErr.Body, Err: err}
	}
	return err
}
