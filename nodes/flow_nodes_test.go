package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"agentflow"
)

func TestRouterNode(t *testing.T) {
	router := NewRouterNode("route", RouteOnKey("intent", "fallback"))

	out, err := router.Run(context.Background(), agentflow.MustStore(map[string]any{"intent": "search"}))
	require.NoError(t, err)
	action, _ := agentflow.ActionOf(out)
	assert.Equal(t, "search", action)

	out, err = router.Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	action, _ = agentflow.ActionOf(out)
	assert.Equal(t, "fallback", action)
}

func TestRouterNode_Branch(t *testing.T) {
	router := NewRouterNode("route", RouteOnKey("intent", "")).
		Branch("search", setter("searched", agentflow.Bool(true)))

	out, err := router.Run(context.Background(), agentflow.MustStore(map[string]any{"intent": "search"}))
	require.NoError(t, err)
	assert.True(t, out.Has("searched"))
	action, _ := agentflow.ActionOf(out)
	assert.Equal(t, agentflow.ActionNext, action)

	out, err = router.Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	_, ok := agentflow.ActionOf(out)
	assert.False(t, ok)
}

func TestLoopNode(t *testing.T) {
	loop := NewLoopNode("refine", 3)
	store := agentflow.NewStore()
	var actions []string
	for i := 0; i < 3; i++ {
		out, err := loop.Run(context.Background(), store)
		require.NoError(t, err)
		action, _ := agentflow.ActionOf(out)
		actions = append(actions, action)
		store = out
	}
	assert.Equal(t, []string{"continue", "continue", "done"}, actions)
	assert.False(t, store.Has("refine_iterations"))

	bad := agentflow.MustStore(map[string]any{"refine_iterations": "x"})
	_, err := loop.Run(context.Background(), bad)
	assert.Error(t, err)
}

func TestDelayNode(t *testing.T) {
	start := time.Now()
	_, err := NewDelayNode("wait", 10*time.Millisecond).Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewDelayNode("wait", time.Hour).Run(ctx, agentflow.NewStore())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoggerNode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	node := NewLoggerNode("debug", zap.New(core), "state", "input", "missing")

	_, err := node.Run(context.Background(), agentflow.MustStore(map[string]any{"input": "hello"}))
	require.NoError(t, err)

	entries := logs.FilterMessage("state").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "hello", fields["input"])
	assert.Equal(t, "debug", fields["node"])
	assert.NotContains(t, fields, "missing")
}

func TestSetNode_ParsesLiterals(t *testing.T) {
	assert.True(t, ParseLiteral("42").Equal(agentflow.Int(42)))
	assert.True(t, ParseLiteral(`{"a":true}`).Equal(agentflow.MustValue(map[string]any{"a": true})))
	assert.True(t, ParseLiteral("hello world").Equal(agentflow.String("hello world")))

	out, err := NewSetNode("s", "k", agentflow.Int(1)).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out.Has("k"))
}

func TestTimeoutNode(t *testing.T) {
	slow := agentflow.NodeFunc(func(ctx context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		s.Set("late", agentflow.Bool(true))
		<-ctx.Done()
		return nil, ctx.Err()
	})
	input := agentflow.NewStore()

	_, err := WithTimeout(slow, 5*time.Millisecond).Run(context.Background(), input)
	var nodeErr *agentflow.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, input.Has("late"), "wrapped node works on a copy")

	out, err := WithTimeout(setter("k", agentflow.Int(1)), time.Second).Run(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, out.Has("k"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = WithTimeout(slow, time.Second).Run(ctx, input)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.As(err, &nodeErr), "parent cancellation is not a timeout")
}
