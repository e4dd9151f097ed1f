package nodes

import (
	"context"
	"errors"
	"time"

	"agentflow"
)

// DelayNode waits for the configured duration before continuing.
type DelayNode struct {
	id       string
	Duration time.Duration
}

func NewDelayNode(id string, duration time.Duration) *DelayNode {
	return &DelayNode{id: id, Duration: duration}
}

func (dn *DelayNode) Name() string {
	return dn.id
}

func (dn *DelayNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	if err := sleep(ctx, dn.Duration); err != nil {
		return nil, err
	}
	return orEmpty(store), nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "delay",
		Description: "Pauses execution for Duration.",
		Example:     `nodes.NewDelayNode("wait", 500*time.Millisecond)`,
		Build: func(_ Env, args Args) (Node, error) {
			if _, ok := args.Lookup("duration", 0); !ok {
				return nil, errors.New("delay node requires a duration argument")
			}
			d, err := args.Duration("duration", 0, 0)
			if err != nil {
				return nil, err
			}
			return NewDelayNode(args.ID, d), nil
		},
	})
}
