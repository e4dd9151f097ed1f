package nodes

import (
	"context"

	"agentflow"
)

// Rag runs a retriever and then a generator, threading the store through
// both. Wrap either stage in an Agent to retry it.
type Rag struct {
	retriever Node
	generator Node
}

func NewRag(retriever, generator Node) *Rag {
	return &Rag{retriever: retriever, generator: generator}
}

func (r *Rag) Name() string {
	return "rag"
}

// Call runs both stages. A failure is reported with the stage that
// produced it.
func (r *Rag) Call(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	retrieved, err := runNode(ctx, r.retriever, orEmpty(store))
	if err != nil {
		return nil, agentflow.StageError("retriever", err)
	}
	out, err := runNode(ctx, r.generator, retrieved)
	if err != nil {
		return nil, agentflow.StageError("generator", err)
	}
	return out, nil
}

// Run implements agentflow.Node.
func (r *Rag) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	return r.Call(ctx, store)
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "rag",
		Description: "Runs a retriever node followed by a generator node.",
		Example:     `nodes.NewRag(search, answer)`,
	})
}
