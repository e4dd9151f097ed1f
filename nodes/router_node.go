package nodes

import (
	"context"

	"agentflow"
)

// RouteFunc computes the next action from the store. An empty result
// leaves routing to the workflow's default edge.
type RouteFunc func(store *agentflow.Store) string

// RouterNode sets the action key from a predicate. A branch registered
// for the chosen action runs inline and the router then reports next.
type RouterNode struct {
	id       string
	route    RouteFunc
	branches map[string]Node
}

func NewRouterNode(id string, route RouteFunc) *RouterNode {
	return &RouterNode{
		id:       id,
		route:    route,
		branches: make(map[string]Node),
	}
}

// RouteOnKey routes on the string stored under key, or fallback when the
// key is absent or not a string.
func RouteOnKey(key, fallback string) RouteFunc {
	return func(store *agentflow.Store) string {
		if v, ok := store.GetString(key); ok && v != "" {
			return v
		}
		return fallback
	}
}

func (rn *RouterNode) Name() string {
	return rn.id
}

// Branch runs node inline whenever the router picks action.
func (rn *RouterNode) Branch(action string, node Node) *RouterNode {
	rn.branches[action] = node
	return rn
}

func (rn *RouterNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	action := rn.route(store)
	if action == "" {
		return store, nil
	}
	branch, ok := rn.branches[action]
	if !ok {
		agentflow.SetAction(store, action)
		return store, nil
	}
	out, err := runNode(ctx, branch, store)
	if err != nil {
		return nil, err
	}
	agentflow.SetAction(out, agentflow.ActionNext)
	return out, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "router",
		Description: "Sets the action from a store key (or a Go predicate), optionally running an inline branch.",
		Example:     `nodes.NewRouterNode("route", nodes.RouteOnKey("intent", "fallback"))`,
		Build: func(_ Env, args Args) (Node, error) {
			key := args.String("key", 0, "route")
			return NewRouterNode(args.ID, RouteOnKey(key, args.String("default", 1, ""))), nil
		},
	})
}
