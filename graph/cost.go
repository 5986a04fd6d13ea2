package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing is the USD price per million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing matches model names by prefix, longest prefix first.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4.1-mini":      {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4.1":           {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-3.5-turbo":     {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-2.5-flash":  {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-pro":    {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
}

// ModelCall is one recorded model invocation.
type ModelCall struct {
	RunID        string
	NodeID       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and estimated cost per run. It is
// safe for concurrent use by nodes of different runs.
//
// Usage is kept in memory only; a resumed run in a new process starts from
// zero.
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
	calls   map[string][]ModelCall
	now     func() time.Time
}

// NewCostTracker returns a tracker using the built-in pricing table.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing: pricing,
		calls:   make(map[string][]ModelCall),
		now:     time.Now,
	}
}

// SetPricing overrides the price of models matching prefix.
func (ct *CostTracker) SetPricing(prefix string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[prefix] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Record adds a call. Unknown models are recorded at zero cost.
func (ct *CostTracker) Record(runID, nodeID, modelName string, inputTokens, outputTokens int) ModelCall {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.priceFor(modelName)
	call := ModelCall{
		RunID:        runID,
		NodeID:       nodeID,
		Model:        modelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD: float64(inputTokens)/1_000_000*pricing.InputPer1M +
			float64(outputTokens)/1_000_000*pricing.OutputPer1M,
		Timestamp: ct.now(),
	}
	ct.calls[runID] = append(ct.calls[runID], call)
	return call
}

// priceFor returns the pricing of the longest matching prefix.
func (ct *CostTracker) priceFor(modelName string) ModelPricing {
	var best string
	for prefix := range ct.pricing {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return ct.pricing[best]
}

// Calls returns the calls recorded for runID.
func (ct *CostTracker) Calls(runID string) []ModelCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]ModelCall(nil), ct.calls[runID]...)
}

// Total returns the summed tokens and cost for runID.
func (ct *CostTracker) Total(runID string) (inputTokens, outputTokens int, costUSD float64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	for _, c := range ct.calls[runID] {
		inputTokens += c.InputTokens
		outputTokens += c.OutputTokens
		costUSD += c.CostUSD
	}
	return inputTokens, outputTokens, costUSD
}

// CostByModel returns the cost of runID per model.
func (ct *CostTracker) CostByModel(runID string) map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64)
	for _, c := range ct.calls[runID] {
		out[c.Model] += c.CostUSD
	}
	return out
}

// Reset forgets runID.
func (ct *CostTracker) Reset(runID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	delete(ct.calls, runID)
}

// Summary formats the totals for runID.
func (ct *CostTracker) Summary(runID string) string {
	in, out, cost := ct.Total(runID)
	return fmt.Sprintf("run %s: %d calls, %d input tokens, %d output tokens, $%.4f",
		runID, len(ct.Calls(runID)), in, out, cost)
}
