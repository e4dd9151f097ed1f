package nodes

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"agentflow"
)

// Default keys used when a batch is read from, or written to, a store.
const (
	DefaultItemsKey   = "items"
	DefaultResultsKey = "results"
	// ItemKey holds a batch element that is not itself a map.
	ItemKey = "item"
)

// Batch applies one node to every store of a batch. Each invocation gets
// its own copy of its input and results keep the input order.
type Batch struct {
	node       Node
	parallel   bool
	limit      int
	itemsKey   string
	resultsKey string
}

// NewBatch processes items one after another and stops at the first
// failure.
func NewBatch(node Node) *Batch {
	return &Batch{node: node, itemsKey: DefaultItemsKey, resultsKey: DefaultResultsKey}
}

// NewParallelBatch processes up to limit items at once (unbounded when
// limit <= 0). The first failure cancels the items still running.
func NewParallelBatch(node Node, limit int) *Batch {
	b := NewBatch(node)
	b.parallel = true
	b.limit = limit
	return b
}

// WithKeys changes the store keys Run reads items from and writes results
// to.
func (b *Batch) WithKeys(itemsKey, resultsKey string) *Batch {
	if itemsKey != "" {
		b.itemsKey = itemsKey
	}
	if resultsKey != "" {
		b.resultsKey = resultsKey
	}
	return b
}

func (b *Batch) Name() string {
	if b.parallel {
		return "parallel-batch"
	}
	return "batch"
}

// RunAll maps every input and returns the outputs index-aligned with the
// inputs. A failure is reported with the index of the failing item.
func (b *Batch) RunAll(ctx context.Context, inputs []*agentflow.Store) ([]*agentflow.Store, error) {
	results := make([]*agentflow.Store, len(inputs))
	if !b.parallel {
		for i, in := range inputs {
			out, err := runNode(ctx, b.node, orEmpty(in).Clone())
			if err != nil {
				return nil, agentflow.ItemError(i, err)
			}
			results[i] = out
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return agentflow.ItemError(i, err)
			}
			out, err := runNode(gctx, b.node, orEmpty(in).Clone())
			if err != nil {
				return agentflow.ItemError(i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run reads the batch from the items key and writes the list of output
// stores to the results key of a copy of the input.
func (b *Batch) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	inputs, err := ItemsFromStore(store, b.itemsKey)
	if err != nil {
		return nil, err
	}
	outputs, err := b.RunAll(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := store.Clone()
	out.Set(b.resultsKey, StoresToList(outputs))
	return out, nil
}

// ItemsFromStore turns the list under key into one store per element. Map
// elements become the store contents; other elements are stored under
// ItemKey.
func ItemsFromStore(store *agentflow.Store, key string) ([]*agentflow.Store, error) {
	v, ok := store.Get(key)
	if !ok {
		return nil, agentflow.NewNodeError(fmt.Sprintf("batch key %q is missing", key), nil)
	}
	list, ok := v.AsList()
	if !ok {
		return nil, agentflow.NewNodeError(fmt.Sprintf("batch key %q holds a %s, want a list", key, v.Kind()), nil)
	}
	items := make([]*agentflow.Store, len(list))
	for i, item := range list {
		items[i] = agentflow.StoreFromValue(item, ItemKey)
	}
	return items, nil
}

// StoresToList converts stores into a list of map values.
func StoresToList(stores []*agentflow.Store) agentflow.Value {
	items := make([]agentflow.Value, len(stores))
	for i, s := range stores {
		items[i] = s.Value()
	}
	return agentflow.List(items...)
}
