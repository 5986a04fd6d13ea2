package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTProvider is the provider name reported by RESTAdapter.
const RESTProvider = "OpenAICompatible"

const maxErrorBody = 4096

// RESTAdapter talks to any OpenAI-compatible chat completions endpoint,
// including local runtimes and gateways.
//
// Capabilities are fixed and do not vary by model. Generate sends the
// request map unchanged as the JSON body of a single POST to
// {baseURL}/chat/completions; the adapter performs no retries of its own.
type RESTAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// RESTOption configures a RESTAdapter.
type RESTOption func(*RESTAdapter)

// WithHTTPClient replaces the HTTP client used by RESTAdapter.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(a *RESTAdapter) { a.client = c }
}

// NewRESTAdapter creates an adapter for the endpoint at baseURL,
// authenticating with apiKey as a bearer token.
func NewRESTAdapter(baseURL, apiKey string, opts ...RESTOption) *RESTAdapter {
	a := &RESTAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns RESTProvider.
func (a *RESTAdapter) Name() string {
	return RESTProvider
}

// Capabilities returns the fixed descriptor for modelName without any I/O.
func (a *RESTAdapter) Capabilities(_ context.Context, modelName string) (CapabilityDescriptor, error) {
	return CapabilityDescriptor{
		Provider: RESTProvider,
		Model:    modelName,
		Features: Features{
			ToolCalling: true,
			JSONMode:    true,
			Vision:      true,
			Streaming:   true,
		},
		Limits: Limits{
			MaxInputTokens:     128000,
			MaxOutputTokens:    4096,
			MaxTools:           128,
			MaxContextMessages: 1000,
		},
	}, nil
}

// Generate POSTs req to the chat completions endpoint and returns the
// decoded JSON body. Non-2xx responses fail with *TransportError.
func (a *RESTAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
