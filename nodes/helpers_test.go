package nodes

import (
	"context"
	"errors"
	"sync/atomic"

	"agentflow"
)

var errBoom = errors.New("boom")

// setter returns a node that writes key=value.
func setter(key string, value agentflow.Value) agentflow.Node {
	return agentflow.NodeFunc(func(_ context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		s.Set(key, value)
		return s, nil
	})
}

func failing(err error) agentflow.Node {
	return agentflow.NodeFunc(func(context.Context, *agentflow.Store) (*agentflow.Store, error) {
		return nil, err
	})
}

// flaky fails until it has been called succeedOn times. Every call writes
// a marker key first so leaks between attempts are observable.
type flaky struct {
	calls     atomic.Int32
	succeedOn int32
	seen      []*agentflow.Store
}

func (f *flaky) Run(_ context.Context, s *agentflow.Store) (*agentflow.Store, error) {
	n := f.calls.Add(1)
	f.seen = append(f.seen, s.Clone())
	s.Set("partial", agentflow.Int(int(n)))
	if f.succeedOn > 0 && n >= f.succeedOn {
		s.Set("done", agentflow.Bool(true))
		return s, nil
	}
	return nil, errBoom
}
