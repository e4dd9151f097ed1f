// Package agentflow is an in-process orchestration engine for chaining
// units of work over a shared Store.
//
// Every unit of work implements Node. The composites in package nodes
// (Agent, MultiAgent, Rag, MapReduce, Batch) and the graph executor in
// package flows are Nodes themselves, so they nest freely: a workflow step
// can be a MultiAgent whose branches are retrying Agents around other
// workflows.
package agentflow

import "context"

// Node is a unit of work. Run receives a store it may read and modify and
// returns the store that the next unit should see, usually the same one.
// A node that fails returns a nil store and an error.
type Node interface {
	Run(ctx context.Context, store *Store) (*Store, error)
}

// NodeFunc adapts an ordinary function to the Node interface.
type NodeFunc func(ctx context.Context, store *Store) (*Store, error)

// Run calls f(ctx, store).
func (f NodeFunc) Run(ctx context.Context, store *Store) (*Store, error) {
	return f(ctx, store)
}

// Named is implemented by nodes that carry a display name for logs and
// events.
type Named interface {
	Name() string
}

// NameOf returns the display name of n, or fallback when n has none.
func NameOf(n Node, fallback string) string {
	if named, ok := n.(Named); ok && named.Name() != "" {
		return named.Name()
	}
	return fallback
}
