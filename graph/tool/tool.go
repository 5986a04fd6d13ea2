// Package tool defines the contract for external tools invoked by tool nodes.
package tool

import "context"

// Tool is an external capability a workflow node can call: an HTTP API, a
// database lookup, a shell command.
//
// Input and output are JSON-compatible maps so tool results can be stored
// verbatim in a run's results and survive a restart.
//
// Any error returned from Call is classified by the engine as a tool_error
// and retried according to the tool_error retry policy.
type Tool interface {
	// Name returns the tool identifier used in events and error records.
	Name() string

	// Call executes the tool. Implementations must honour ctx cancellation
	// and deadlines; the engine relies on that for node timeouts.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Func adapts a plain function into a Tool.
//
// Example:
//
//	lookup := tool.Func("lookup", func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
//	    return map[string]interface{}{"found": true}, nil
//	})
func Func(name string, fn func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)) Tool {
	return funcTool{name: name, fn: fn}
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

func (f funcTool) Name() string { return f.name }

func (f funcTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.fn(ctx, input)
}
