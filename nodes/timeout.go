package nodes

import (
	"context"
	"fmt"
	"time"

	"agentflow"
)

// WithTimeout wraps node so that a single run is abandoned after timeout.
func WithTimeout(node Node, timeout time.Duration) *TimeoutNode {
	return &TimeoutNode{Node: node, Timeout: timeout}
}

// TimeoutNode bounds the run time of another node. The wrapped node works
// on a copy of the input, so a run that is abandoned keeps writing to a
// store nobody reads.
type TimeoutNode struct {
	Node
	Timeout time.Duration
}

func (tn *TimeoutNode) Name() string {
	return agentflow.NameOf(tn.Node, "timeout")
}

func (tn *TimeoutNode) Run(parent context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	if tn.Timeout <= 0 {
		return runNode(parent, tn.Node, store)
	}
	ctx, cancel := context.WithTimeout(parent, tn.Timeout)
	defer cancel()

	type outcome struct {
		store *agentflow.Store
		err   error
	}
	done := make(chan outcome, 1)
	input := orEmpty(store).Clone()
	go func() {
		out, err := runNode(ctx, tn.Node, input)
		done <- outcome{out, err}
	}()

	select {
	case <-ctx.Done():
		return nil, tn.expired(parent, ctx)
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return nil, tn.expired(parent, ctx)
		}
		return res.store, res.err
	}
}

func (tn *TimeoutNode) expired(parent, ctx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return agentflow.NewNodeError(fmt.Sprintf("%s timed out after %s", tn.Name(), tn.Timeout), ctx.Err())
}
