package nodes

import (
	"context"
	"fmt"

	"agentflow"
)

// LoopNode bounds a workflow cycle. Each visit increments a counter kept
// in the store and reports continue; once the counter reaches the limit
// it removes the counter and reports done.
type LoopNode struct {
	name          string
	maxIterations int
	counterKey    string
}

func NewLoopNode(name string, maxIterations int) *LoopNode {
	return &LoopNode{
		name:          name,
		maxIterations: maxIterations,
		counterKey:    name + "_iterations",
	}
}

// WithCounterKey changes the key holding the iteration count.
func (l *LoopNode) WithCounterKey(key string) *LoopNode {
	l.counterKey = key
	return l
}

func (l *LoopNode) Name() string {
	return l.name
}

func (l *LoopNode) Run(_ context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	count := 0
	if v, ok := store.Get(l.counterKey); ok {
		n, ok := v.AsInt()
		if !ok {
			return nil, agentflow.NewNodeError(fmt.Sprintf("loop counter %q holds a %s", l.counterKey, v.Kind()), nil)
		}
		count = n
	}
	count++
	if count >= l.maxIterations {
		store.Remove(l.counterKey)
		agentflow.SetAction(store, agentflow.ActionDone)
		return store, nil
	}
	store.Set(l.counterKey, agentflow.Int(count))
	agentflow.SetAction(store, agentflow.ActionContinue)
	return store, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "loop",
		Description: "Emits continue until it has been visited max times, then done.",
		Example:     `nodes.NewLoopNode("refine", 3)`,
		Build: func(_ Env, args Args) (Node, error) {
			limit, err := args.Int("max", 0, 0)
			if err != nil {
				return nil, err
			}
			if limit < 1 {
				return nil, fmt.Errorf("loop node requires max >= 1")
			}
			node := NewLoopNode(args.ID, limit)
			if key, ok := args.Named["counter"]; ok && key != "" {
				node.WithCounterKey(key)
			}
			return node, nil
		},
	})
}
