package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// getNodeTimeout resolves the deadline of one node attempt. A NodePolicy
// timeout overrides the engine default; zero means the attempt is unbounded.
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	return max(defaultTimeout, 0)
}

// executeNodeWithTimeout runs one attempt of node.
//
// Only expiry of the attempt's own deadline is reported here, as an
// EngineError with code NODE_TIMEOUT. Cancellation of ctx reaches the node
// and comes back through NodeResult.Err.
func executeNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	timeout := getNodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(attemptCtx, state)
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}
