package nodes

import (
	"context"
	"time"

	"agentflow"
)

// Node is an alias for the core node interface.
type Node = agentflow.Node

// runNode runs n and rejects a nil result store.
func runNode(ctx context.Context, n Node, store *agentflow.Store) (*agentflow.Store, error) {
	out, err := n.Run(ctx, store)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, agentflow.ErrNilStore
	}
	return out, nil
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orEmpty(store *agentflow.Store) *agentflow.Store {
	if store == nil {
		return agentflow.NewStore()
	}
	return store
}
