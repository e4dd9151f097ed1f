package nodes

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentflow"
)

// BranchResult is the outcome of one MultiAgent branch.
type BranchResult struct {
	Index  int
	Name   string
	Output *agentflow.Store
	// Diff holds the changes the branch made relative to the shared input.
	Diff agentflow.Diff
}

// MergeFunc folds branch results, in declaration order, into one store.
// base is the MultiAgent's input and must not be modified.
type MergeFunc func(base *agentflow.Store, branches []BranchResult) (*agentflow.Store, error)

// LastDeclaredWins replays every branch's changes onto a copy of the input
// in declaration order, so a later-declared branch overwrites an earlier
// one on shared keys. Keys a branch did not touch never overwrite another
// branch's writes.
func LastDeclaredWins(base *agentflow.Store, branches []BranchResult) (*agentflow.Store, error) {
	out := base.Clone()
	for _, b := range branches {
		out.Apply(b.Diff)
	}
	return out, nil
}

// NamespacedMerge stores each branch's written keys as a map under a
// per-branch key instead of merging them at the top level. keyFn defaults
// to "branch_<index>".
func NamespacedMerge(keyFn func(BranchResult) string) MergeFunc {
	if keyFn == nil {
		keyFn = func(b BranchResult) string { return "branch_" + strconv.Itoa(b.Index) }
	}
	return func(base *agentflow.Store, branches []BranchResult) (*agentflow.Store, error) {
		out := base.Clone()
		for _, b := range branches {
			written := make(map[string]agentflow.Value, len(b.Diff.Set))
			for _, e := range b.Diff.Set {
				written[e.Key] = e.Value
			}
			out.Set(keyFn(b), agentflow.Map(written))
		}
		return out, nil
	}
}

// StrictMerge behaves like LastDeclaredWins but fails with a
// *agentflow.MergeConflictError when two branches leave a key in
// different states.
func StrictMerge(base *agentflow.Store, branches []BranchResult) (*agentflow.Store, error) {
	type write struct {
		branch  int
		value   agentflow.Value
		removed bool
	}
	seen := make(map[string]write)
	check := func(key string, w write) error {
		prev, ok := seen[key]
		if !ok {
			seen[key] = w
			return nil
		}
		if prev.removed != w.removed || !prev.value.Equal(w.value) {
			return &agentflow.MergeConflictError{Key: key, Branches: []int{prev.branch, w.branch}}
		}
		return nil
	}
	for _, b := range branches {
		for _, e := range b.Diff.Set {
			if err := check(e.Key, write{branch: b.Index, value: e.Value}); err != nil {
				return nil, err
			}
		}
		for _, k := range b.Diff.Removed {
			if err := check(k, write{branch: b.Index, removed: true}); err != nil {
				return nil, err
			}
		}
	}
	return LastDeclaredWins(base, branches)
}

// MultiAgent runs its nodes concurrently, each on its own copy of the
// input, and merges their outputs in declaration order once all of them
// have succeeded. If any branch fails the remaining branches are
// cancelled, all of them are awaited and the first failure is returned;
// nothing is merged.
type MultiAgent struct {
	name           string
	maxConcurrency int
	merge          MergeFunc
	logger         *zap.Logger

	mu     sync.RWMutex
	agents []Node
}

// MultiAgentOption configures a MultiAgent.
type MultiAgentOption func(*MultiAgent)

// WithMultiAgentName sets the name used in logs.
func WithMultiAgentName(name string) MultiAgentOption {
	return func(m *MultiAgent) { m.name = name }
}

// WithMaxConcurrency bounds how many branches run at once. Zero or less
// means unbounded.
func WithMaxConcurrency(n int) MultiAgentOption {
	return func(m *MultiAgent) { m.maxConcurrency = n }
}

// WithMerge replaces the default LastDeclaredWins policy.
func WithMerge(fn MergeFunc) MultiAgentOption {
	return func(m *MultiAgent) {
		if fn != nil {
			m.merge = fn
		}
	}
}

// WithMultiAgentLogger sets the logger.
func WithMultiAgentLogger(logger *zap.Logger) MultiAgentOption {
	return func(m *MultiAgent) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewMultiAgent(opts ...MultiAgentOption) *MultiAgent {
	m := &MultiAgent{
		name:   "multi-agent",
		merge:  LastDeclaredWins,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "multi_agent"), zap.String("multi_agent", m.name))
	return m
}

func (m *MultiAgent) Name() string {
	return m.name
}

// AddAgent appends a branch. Declaration order decides merge precedence.
func (m *MultiAgent) AddAgent(node Node) *MultiAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = append(m.agents, node)
	return m
}

// Len returns the number of branches.
func (m *MultiAgent) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

func (m *MultiAgent) branches() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, len(m.agents))
	copy(out, m.agents)
	return out
}

// Run implements agentflow.Node. The input store is not modified.
func (m *MultiAgent) Run(ctx context.Context, input *agentflow.Store) (*agentflow.Store, error) {
	input = orEmpty(input)
	agents := m.branches()
	if len(agents) == 0 {
		return input.Clone(), nil
	}

	start := time.Now()
	results := make([]BranchResult, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	if m.maxConcurrency > 0 {
		g.SetLimit(m.maxConcurrency)
	}
	for i, node := range agents {
		i, node := i, node
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return agentflow.BranchError(i, err)
			}
			out, err := runNode(gctx, node, input.Clone())
			if err != nil {
				return agentflow.BranchError(i, err)
			}
			results[i] = BranchResult{
				Index:  i,
				Name:   agentflow.NameOf(node, strconv.Itoa(i)),
				Output: out,
				Diff:   out.Diff(input),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("branch failed", zap.Int("branches", len(agents)), zap.Error(err))
		return nil, err
	}

	merged, err := m.merge(input, results)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("branches merged",
		zap.Int("branches", len(agents)),
		zap.Duration("duration", time.Since(start)),
	)
	return merged, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "multi_agent",
		Description: "Runs nodes concurrently on copies of the store and merges their changes in declaration order.",
		Example:     `nodes.NewMultiAgent(nodes.WithMaxConcurrency(4)).AddAgent(searchA).AddAgent(searchB)`,
	})
}
