package nodes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow"
)

func stores(values ...string) []*agentflow.Store {
	out := make([]*agentflow.Store, len(values))
	for i, v := range values {
		out[i] = agentflow.MustStore(map[string]any{"name": v})
	}
	return out
}

// reverseDelay makes earlier items finish later.
func reverseDelay(total int) agentflow.Node {
	return agentflow.NodeFunc(func(ctx context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		name, _ := s.GetString("name")
		var idx int
		_, _ = fmt.Sscanf(name, "s%d", &idx)
		time.Sleep(time.Duration(total-idx) * 5 * time.Millisecond)
		return s, nil
	})
}

func TestMapReduce_PreservesInputOrder(t *testing.T) {
	inputs := stores("s1", "s2", "s3")
	mr := NewMapReduce(reverseDelay(3), CollectReducer("all"))

	out, err := mr.RunBatch(context.Background(), inputs)
	require.NoError(t, err)

	all, ok := out.GetList("all")
	require.True(t, ok)
	require.Len(t, all, 3)
	for i, item := range all {
		assert.True(t, item.Equal(inputs[i].Value()), "position %d", i)
	}
}

func TestMapReduce_MapperFailure(t *testing.T) {
	mapper := agentflow.NodeFunc(func(_ context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		if name, _ := s.GetString("name"); name == "s2" {
			return nil, errBoom
		}
		return s, nil
	})
	for _, conc := range []int{0, 1} {
		mr := NewMapReduce(mapper, MergeReducer(), WithMapConcurrency(conc))
		out, err := mr.RunBatch(context.Background(), stores("s1", "s2", "s3"))
		require.Error(t, err)
		assert.Nil(t, out)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"stage:mapper", "item:1"}, agentflow.ErrorPath(err))
	}
}

func TestMapReduce_ReducerFailure(t *testing.T) {
	reducer := ReducerFunc(func(context.Context, []*agentflow.Store) (*agentflow.Store, error) {
		return nil, errBoom
	})
	_, err := NewMapReduce(setter("k", agentflow.Null()), reducer).RunBatch(context.Background(), stores("s1"))
	assert.Equal(t, []string{"stage:reducer"}, agentflow.ErrorPath(err))
}

func TestMapReduce_RunReadsItemsFromStore(t *testing.T) {
	double := agentflow.NodeFunc(func(_ context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		n, _ := s.GetNumber(ItemKey)
		s.Set("doubled", agentflow.Number(n*2))
		return s, nil
	})
	input := agentflow.MustStore(map[string]any{"items": []any{1, 2, 3}, "keep": "me"})

	out, err := NewMapReduce(double, PluckReducer("doubled", "results")).Run(context.Background(), input)
	require.NoError(t, err)
	results, _ := out.Get("results")
	assert.True(t, results.Equal(agentflow.MustValue([]any{2, 4, 6})), results.String())
	assert.True(t, out.Has("keep"))
}

func TestMapReduce_RunMissingItems(t *testing.T) {
	_, err := NewMapReduce(setter("k", agentflow.Null()), MergeReducer()).Run(context.Background(), agentflow.NewStore())
	var nodeErr *agentflow.NodeError
	assert.ErrorAs(t, err, &nodeErr)
}

func TestMergeReducer_LaterWins(t *testing.T) {
	out, err := MergeReducer().Reduce(context.Background(), []*agentflow.Store{
		agentflow.MustStore(map[string]any{"a": 1, "b": 1}),
		agentflow.MustStore(map[string]any{"b": 2}),
	})
	require.NoError(t, err)
	assert.True(t, out.Equal(agentflow.MustStore(map[string]any{"a": 1, "b": 2})))
}

func TestBatch_SequentialAndParallel(t *testing.T) {
	inputs := stores("s1", "s2", "s3")
	for _, b := range []*Batch{NewBatch(reverseDelay(3)), NewParallelBatch(reverseDelay(3), 2)} {
		t.Run(b.Name(), func(t *testing.T) {
			out, err := b.RunAll(context.Background(), inputs)
			require.NoError(t, err)
			require.Len(t, out, 3)
			for i := range out {
				assert.True(t, out[i].Equal(inputs[i]))
				assert.NotSame(t, inputs[i], out[i], "items run on copies")
			}
		})
	}
}

func TestBatch_Run(t *testing.T) {
	input := agentflow.MustStore(map[string]any{"docs": []any{map[string]any{"id": "a"}, "plain"}})
	b := NewBatch(setter("seen", agentflow.Bool(true))).WithKeys("docs", "out")

	out, err := b.Run(context.Background(), input)
	require.NoError(t, err)
	list, ok := out.GetList("out")
	require.True(t, ok)
	require.Len(t, list, 2)
	first, _ := list[0].AsMap()
	assert.True(t, first["id"].Equal(agentflow.String("a")))
	second, _ := list[1].AsMap()
	assert.True(t, second[ItemKey].Equal(agentflow.String("plain")))
	assert.True(t, second["seen"].Equal(agentflow.Bool(true)))
}
