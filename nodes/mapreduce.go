package nodes

import (
	"context"

	"go.uber.org/zap"

	"agentflow"
)

// Reducer folds the ordered mapper outputs into one store.
type Reducer interface {
	Reduce(ctx context.Context, mapped []*agentflow.Store) (*agentflow.Store, error)
}

// ReducerFunc adapts a function to the Reducer interface.
type ReducerFunc func(ctx context.Context, mapped []*agentflow.Store) (*agentflow.Store, error)

func (f ReducerFunc) Reduce(ctx context.Context, mapped []*agentflow.Store) (*agentflow.Store, error) {
	return f(ctx, mapped)
}

// CollectReducer writes every mapped store, in input order, as a list of
// maps under key.
func CollectReducer(key string) Reducer {
	return ReducerFunc(func(_ context.Context, mapped []*agentflow.Store) (*agentflow.Store, error) {
		out := agentflow.NewStore()
		out.Set(key, StoresToList(mapped))
		return out, nil
	})
}

// MergeReducer merges the mapped stores in input order; later stores win.
func MergeReducer() Reducer {
	return ReducerFunc(func(_ context.Context, mapped []*agentflow.Store) (*agentflow.Store, error) {
		out := agentflow.NewStore()
		for _, s := range mapped {
			out.Merge(s)
		}
		return out, nil
	})
}

// PluckReducer collects the value under from of every mapped store into a
// list stored under to. Missing values become null.
func PluckReducer(from, to string) Reducer {
	return ReducerFunc(func(_ context.Context, mapped []*agentflow.Store) (*agentflow.Store, error) {
		items := make([]agentflow.Value, len(mapped))
		for i, s := range mapped {
			v, _ := s.Get(from)
			items[i] = v
		}
		out := agentflow.NewStore()
		out.Set(to, agentflow.List(items...))
		return out, nil
	})
}

// MapReduce maps every input store with one node and folds the results,
// in input order, with a Reducer. Mapping runs concurrently unless the
// concurrency is set to 1.
type MapReduce struct {
	mapper   Node
	reducer  Reducer
	batch    *Batch
	itemsKey string
	logger   *zap.Logger
}

// MapReduceOption configures a MapReduce.
type MapReduceOption func(*MapReduce)

// WithMapConcurrency bounds concurrent mapper calls; 1 maps sequentially
// and zero or less is unbounded.
func WithMapConcurrency(n int) MapReduceOption {
	return func(mr *MapReduce) {
		if n == 1 {
			mr.batch = NewBatch(mr.mapper)
			return
		}
		mr.batch = NewParallelBatch(mr.mapper, n)
	}
}

// WithItemsKey sets the key Run reads the batch from.
func WithItemsKey(key string) MapReduceOption {
	return func(mr *MapReduce) {
		if key != "" {
			mr.itemsKey = key
		}
	}
}

// WithMapReduceLogger sets the logger.
func WithMapReduceLogger(logger *zap.Logger) MapReduceOption {
	return func(mr *MapReduce) {
		if logger != nil {
			mr.logger = logger
		}
	}
}

func NewMapReduce(mapper Node, reducer Reducer, opts ...MapReduceOption) *MapReduce {
	mr := &MapReduce{
		mapper:   mapper,
		reducer:  reducer,
		itemsKey: DefaultItemsKey,
		logger:   zap.NewNop(),
	}
	mr.batch = NewParallelBatch(mapper, 0)
	for _, opt := range opts {
		opt(mr)
	}
	mr.logger = mr.logger.With(zap.String("component", "mapreduce"))
	return mr
}

func (mr *MapReduce) Name() string {
	return "mapreduce"
}

// RunBatch maps inputs and reduces the results. A mapper failure fails the
// whole run.
func (mr *MapReduce) RunBatch(ctx context.Context, inputs []*agentflow.Store) (*agentflow.Store, error) {
	mapped, err := mr.batch.RunAll(ctx, inputs)
	if err != nil {
		return nil, agentflow.StageError("mapper", err)
	}
	out, err := mr.reducer.Reduce(ctx, mapped)
	if err != nil {
		return nil, agentflow.StageError("reducer", err)
	}
	if out == nil {
		return nil, agentflow.StageError("reducer", agentflow.ErrNilStore)
	}
	mr.logger.Debug("batch reduced", zap.Int("items", len(inputs)))
	return out, nil
}

// Run reads the batch from the items key and writes the reduced store's
// entries over a copy of the input.
func (mr *MapReduce) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	inputs, err := ItemsFromStore(store, mr.itemsKey)
	if err != nil {
		return nil, err
	}
	reduced, err := mr.RunBatch(ctx, inputs)
	if err != nil {
		return nil, err
	}
	out := store.Clone()
	out.Merge(reduced)
	return out, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "batch",
		Description: "Applies a node to every element of a list, sequentially or in parallel, keeping input order.",
		Example:     `nodes.NewParallelBatch(summarize, 8).WithKeys("docs", "summaries")`,
	})
	RegisterNode(NodeDefinition{
		ID:          "mapreduce",
		Description: "Maps every element of a batch with a node and folds the ordered results with a reducer.",
		Example:     `nodes.NewMapReduce(mapper, nodes.PluckReducer("summary", "summaries"))`,
	})
}
