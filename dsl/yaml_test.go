package dsl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow"
	"agentflow/flows"
	"agentflow/nodes"
)

const triageDoc = `
name: triage
max_steps: 10
timeout: 5s
params:
  intent: answer
steps:
  - name: classify
    type: router
    args: [intent]
    with:
      default: answer
  - name: research
    type: parallel
    merge: namespaced
    branches:
      - type: set
        args: [source, web]
      - type: set
        args: [source, wiki]
  - name: answer
    type: set
    args: [reply, '"done"']
    retry:
      attempts: 3
      delay: 1ms
      backoff: exponential
edges:
  - from: classify
    action: research
    to: research
  - from: classify
    to: answer
  - from: research
    to: answer
`

func TestLoad_RoutesAndComposites(t *testing.T) {
	wf, err := Load([]byte(triageDoc), nodes.Env{}, flows.Options{})
	require.NoError(t, err)
	assert.Equal(t, "triage", wf.Name())
	assert.Equal(t, []string{"classify", "research", "answer"}, wf.Steps())

	step, ok := wf.Step("answer")
	require.True(t, ok)
	assert.IsType(t, &nodes.Agent{}, step)

	out, err := wf.Run(context.Background(), agentflow.MustStore(map[string]any{"intent": "research"}))
	require.NoError(t, err)
	branches, ok := out.GetMap("branch_0")
	require.True(t, ok)
	assert.Equal(t, "web", branches["source"].String())
	branches, ok = out.GetMap("branch_1")
	require.True(t, ok)
	assert.Equal(t, "wiki", branches["source"].String())
	reply, _ := out.GetString("reply")
	assert.Equal(t, "done", reply)

	out, err = wf.Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	assert.False(t, out.Has("branch_0"), "param routes straight to answer")
}

func TestLoad_MapReduce(t *testing.T) {
	doc := `
name: fanout
steps:
  - name: tag
    type: mapreduce
    items: docs
    max_concurrency: 2
    mapper:
      type: set
      args: [seen, "true"]
    reducer:
      kind: pluck
      from: item
      to: echoed
`
	wf, err := Load([]byte(doc), nodes.Env{}, flows.Options{})
	require.NoError(t, err)

	out, err := wf.Run(context.Background(), agentflow.MustStore(map[string]any{
		"docs": []any{"a", "b", "c"},
	}))
	require.NoError(t, err)
	echoed, ok := out.Get("echoed")
	require.True(t, ok)
	assert.True(t, agentflow.MustValue([]any{"a", "b", "c"}).Equal(echoed))
}

func TestLoad_Rag(t *testing.T) {
	doc := `
steps:
  - name: rag
    type: rag
    retriever:
      type: set
      args: [context, facts]
    generator:
      type: set
      args: [answer, grounded]
`
	wf, err := Load([]byte(doc), nodes.Env{}, flows.Options{})
	require.NoError(t, err)
	out, err := wf.Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	ctxVal, _ := out.GetString("context")
	answer, _ := out.GetString("answer")
	assert.Equal(t, "facts", ctxVal)
	assert.Equal(t, "grounded", answer)
}

func TestDocumentOverridesOptions(t *testing.T) {
	doc, err := Parse([]byte(triageDoc))
	require.NoError(t, err)
	assert.Equal(t, 10, doc.MaxSteps)
	assert.Equal(t, 5*time.Second, doc.Timeout)
	require.NotNil(t, doc.Steps[2].Retry)
	assert.Equal(t, time.Millisecond, doc.Steps[2].Retry.Delay)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"no steps":        "name: empty",
		"unknown field":   "steps: []\ncolour: red",
		"meta block":      "meta: {owner: ops}\nsteps:\n  - {name: a, type: delay, args: [1ms]}",
		"missing name":    "steps:\n  - type: delay\n    args: [1ms]",
		"missing type":    "steps:\n  - name: a",
		"unknown type":    "steps:\n  - name: a\n    type: teleport",
		"duplicate step":  "steps:\n  - {name: a, type: delay, args: [1ms]}\n  - {name: a, type: delay, args: [1ms]}",
		"bad edge":        "steps:\n  - {name: a, type: delay, args: [1ms]}\nedges:\n  - {from: a, to: b}",
		"bad retry":       "steps:\n  - {name: a, type: delay, args: [1ms], retry: {attempts: 0}}",
		"bad backoff":     "steps:\n  - {name: a, type: delay, args: [1ms], retry: {attempts: 2, backoff: zigzag}}",
		"bad merge":       "steps:\n  - name: a\n    type: parallel\n    merge: coinflip\n    branches: [{type: delay, args: [1ms]}]",
		"empty parallel":  "steps:\n  - {name: a, type: parallel}",
		"rag incomplete":  "steps:\n  - name: a\n    type: rag\n    retriever: {type: delay, args: [1ms]}",
		"bad reducer":     "steps:\n  - name: a\n    type: mapreduce\n    mapper: {type: delay, args: [1ms]}\n    reducer: {kind: sum}",
		"pluck no target": "steps:\n  - name: a\n    type: mapreduce\n    mapper: {type: delay, args: [1ms]}\n    reducer: {kind: pluck, from: x}",
		"bad param":       "params:\n  odd: {1: x}\nsteps:\n  - {name: a, type: delay, args: [1ms]}",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc), nodes.Env{}, flows.Options{})
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEdgeIsRoutingError(t *testing.T) {
	doc := "steps:\n  - {name: a, type: delay, args: [1ms]}\nedges:\n  - {from: a, action: go, to: nowhere}"
	_, err := Load([]byte(doc), nodes.Env{}, flows.Options{})
	var re *agentflow.RoutingError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "nowhere", re.To)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(triageDoc), 0o644))

	wf, err := LoadFile(path, nodes.Env{}, flows.Options{})
	require.NoError(t, err)
	assert.Equal(t, "triage", wf.Name())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), nodes.Env{}, flows.Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_TimeoutPerAttempt(t *testing.T) {
	doc := `
steps:
  - name: slow
    type: delay
    args: [1s]
    timeout: 5ms
    retry:
      attempts: 2
`
	wf, err := Load([]byte(doc), nodes.Env{}, flows.Options{})
	require.NoError(t, err)
	_, err = wf.Run(context.Background(), agentflow.NewStore())
	require.Error(t, err)
	assert.Equal(t, 2, agentflow.Attempts(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"step:slow"}, agentflow.ErrorPath(err))
}

func TestLoad_RetryDefaultsFromEnv(t *testing.T) {
	doc := `
steps:
  - name: a
    type: delay
    args: [1ms]
    retry: {}
  - name: b
    type: delay
    args: [1ms]
    retry: {attempts: 5, delay: 2ms}
`
	env := nodes.Env{Retry: nodes.Retry(3).WithLinearBackoff(10 * time.Millisecond).Policy()}
	wf, err := Load([]byte(doc), env, flows.Options{})
	require.NoError(t, err)

	a, _ := wf.Step("a")
	policy := a.(*nodes.Agent).Policy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, nodes.BackoffLinear, policy.Backoff)
	assert.Equal(t, 10*time.Millisecond, policy.Delay)

	b, _ := wf.Step("b")
	policy = b.(*nodes.Agent).Policy()
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, nodes.BackoffLinear, policy.Backoff)
	assert.Equal(t, 2*time.Millisecond, policy.Delay)
}
