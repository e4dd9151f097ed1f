package flows

import (
	"context"
	"fmt"
	"sort"

	"agentflow"
)

// DefaultBatchParamsKey is where BatchFlow.Run looks for parameter sets.
const DefaultBatchParamsKey = "batch_params"

// BatchFlow runs a workflow once per parameter set. The store is threaded
// through the runs: each run starts from the previous run's output with
// the parameter set written over it.
type BatchFlow struct {
	workflow  *Workflow
	paramsKey string
}

func NewBatchFlow(workflow *Workflow) *BatchFlow {
	return &BatchFlow{workflow: workflow, paramsKey: DefaultBatchParamsKey}
}

// WithParamsKey changes the key Run reads parameter sets from.
func (b *BatchFlow) WithParamsKey(key string) *BatchFlow {
	b.paramsKey = key
	return b
}

func (b *BatchFlow) Name() string {
	return "batch:" + b.workflow.Name()
}

// RunBatch runs the workflow for every parameter set in order. A failing
// run stops the batch and is reported with its index.
func (b *BatchFlow) RunBatch(ctx context.Context, store *agentflow.Store, params []map[string]agentflow.Value) (*agentflow.Store, error) {
	work := agentflow.NewStore()
	if store != nil {
		work = store.Clone()
	}
	for i, set := range params {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			work.Set(k, set[k])
		}
		out, err := b.workflow.Run(ctx, work)
		if err != nil {
			return nil, agentflow.ItemError(i, err)
		}
		work = out
	}
	return work, nil
}

// Run reads a list of maps from the params key and runs the batch.
func (b *BatchFlow) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	if store == nil {
		store = agentflow.NewStore()
	}
	list, ok := store.GetList(b.paramsKey)
	if !ok {
		return nil, agentflow.NewNodeError(fmt.Sprintf("batch params key %q is missing or not a list", b.paramsKey), nil)
	}
	params := make([]map[string]agentflow.Value, len(list))
	for i, item := range list {
		m, ok := item.AsMap()
		if !ok {
			return nil, agentflow.NewNodeError(fmt.Sprintf("batch params[%d] is a %s, want a map", i, item.Kind()), nil)
		}
		params[i] = m
	}
	return b.RunBatch(ctx, store, params)
}
