package nodes

import (
	"context"
	"encoding/json"
	"errors"

	"agentflow"
)

// SetNode writes a fixed value under a key.
type SetNode struct {
	id    string
	key   string
	value agentflow.Value
}

func NewSetNode(id, key string, value agentflow.Value) *SetNode {
	return &SetNode{id: id, key: key, value: value}
}

// ParseLiteral reads raw as JSON, falling back to a plain string.
func ParseLiteral(raw string) agentflow.Value {
	var v agentflow.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return agentflow.String(raw)
	}
	return v
}

func (n *SetNode) Name() string {
	return n.id
}

func (n *SetNode) Run(_ context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	store.Set(n.key, n.value)
	return store, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "set",
		Description: "Writes a literal (JSON or plain text) under a key.",
		Example:     `node greet = set greeting "hello"`,
		Build: func(_ Env, args Args) (Node, error) {
			key, hasKey := args.Lookup("key", 0)
			raw, hasValue := args.Lookup("value", 1)
			if !hasKey || !hasValue || key == "" {
				return nil, errors.New("set node requires key and value")
			}
			return NewSetNode(args.ID, key, ParseLiteral(raw)), nil
		},
	})
}
