package graph

import (
	"context"
	"fmt"
	"time"
)

var errDeadline = context.DeadlineExceeded

// nodeTimeout returns the node's own timeout, else the engine default.
// Zero means unbounded.
func nodeTimeout(node Node, defaultTimeout time.Duration) time.Duration {
	if node.Timeout > 0 {
		return node.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// executeNode runs one attempt of node. The attempt is detached from ctx's
// cancellation so a cancelled run never interrupts a node mid-flight; only
// the node timeout bounds it. A panic in the executor is returned as an
// error.
func executeNode(ctx context.Context, node Node, in Input, defaultTimeout time.Duration) (out any, err error) {
	execCtx := context.WithoutCancel(ctx)

	timeout := nodeTimeout(node, defaultTimeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("node %s panicked: %v", node.ID, r)
		}
	}()

	out, err = node.Executor.Execute(execCtx, in)

	if timeout > 0 && execCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{NodeID: node.ID, Timeout: timeout}
	}
	return out, err
}
