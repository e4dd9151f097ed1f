package flows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentflow"
	"agentflow/nodes"
)

type Node = agentflow.Node

// Options configures a Workflow. The zero value is valid.
type Options struct {
	// MaxSteps bounds the number of steps a run may execute; zero means no
	// bound, leaving cycles to the steps' own routing.
	MaxSteps int
	// Timeout bounds a whole run; zero means none.
	Timeout time.Duration
	// Params are written into the store before a run for keys that are
	// not already present.
	Params map[string]agentflow.Value
	// ClearAction removes the action key from the final store.
	ClearAction bool
	Monitors    []FlowMonitor
	Logger      *zap.Logger
}

// Edge is one transition. An empty Action marks the default edge.
type Edge struct {
	From   string `json:"from"`
	Action string `json:"action,omitempty"`
	To     string `json:"to"`
}

// Graph is a read-only view of a workflow's structure.
type Graph struct {
	Start string   `json:"start"`
	Steps []string `json:"steps"`
	Edges []Edge   `json:"edges"`
}

// Workflow executes named steps, choosing the next step from the action a
// step leaves in the store: the edge labelled with that action if there
// is one, otherwise the step's default edge, otherwise the run ends
// successfully. A step failure ends the run with that failure.
type Workflow struct {
	name string

	mutex    sync.RWMutex
	steps    map[string]Node
	order    []string
	start    string
	labelled map[string]map[string]string // from -> action -> to
	defaults map[string]string            // from -> to

	maxSteps    int
	timeout     time.Duration
	params      map[string]agentflow.Value
	clearAction bool
	logger      *zap.Logger

	monitors   []FlowMonitor
	monitorMux sync.RWMutex
}

// New returns an empty workflow.
func New(name string) *Workflow {
	return NewWithOptions(name, Options{})
}

// NewWithOptions returns an empty workflow configured by opts.
func NewWithOptions(name string, opts Options) *Workflow {
	if name == "" {
		name = "workflow"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workflow{
		name:        name,
		steps:       make(map[string]Node),
		labelled:    make(map[string]map[string]string),
		defaults:    make(map[string]string),
		maxSteps:    opts.MaxSteps,
		timeout:     opts.Timeout,
		params:      make(map[string]agentflow.Value, len(opts.Params)),
		clearAction: opts.ClearAction,
		logger:      logger.With(zap.String("component", "workflow"), zap.String("workflow", name)),
	}
	for k, v := range opts.Params {
		w.params[k] = v
	}
	for _, m := range opts.Monitors {
		w.AddMonitor(m)
	}
	return w
}

func (w *Workflow) Name() string {
	return w.name
}

// AddStep registers node under name. The first step added is the entry
// step unless SetStart names another. Re-adding a name replaces its node.
func (w *Workflow) AddStep(name string, node Node) *Workflow {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, exists := w.steps[name]; !exists {
		w.order = append(w.order, name)
	}
	w.steps[name] = node
	if w.start == "" {
		w.start = name
	}
	return w
}

// AddStepWithRetry registers node wrapped in an Agent with the given
// policy.
func (w *Workflow) AddStepWithRetry(name string, node Node, policy nodes.RetryPolicy) *Workflow {
	agent := nodes.NewAgent(node, policy,
		nodes.WithAgentName(name),
		nodes.WithAgentLogger(w.logger),
	)
	return w.AddStep(name, agent)
}

// SetStart designates the entry step.
func (w *Workflow) SetStart(name string) *Workflow {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.start = name
	return w
}

// Connect sets the default edge of from, followed when no labelled edge
// matches the step's action.
func (w *Workflow) Connect(from, to string) *Workflow {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.defaults[from] = to
	return w
}

// ConnectAction adds an edge followed when from finishes with action. An
// empty action sets the default edge.
func (w *Workflow) ConnectAction(from, action, to string) *Workflow {
	if action == "" {
		return w.Connect(from, to)
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, ok := w.labelled[from]; !ok {
		w.labelled[from] = make(map[string]string)
	}
	w.labelled[from][action] = to
	return w
}

// SetParam sets a default store entry applied before every run.
func (w *Workflow) SetParam(key string, v agentflow.Value) *Workflow {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.params[key] = v
	return w
}

// AddMonitor registers a FlowMonitor for the workflow.
func (w *Workflow) AddMonitor(monitor FlowMonitor) *Workflow {
	if monitor == nil {
		return w
	}
	w.monitorMux.Lock()
	w.monitors = append(w.monitors, monitor)
	w.monitorMux.Unlock()
	return w
}

// Steps returns step names in the order they were added.
func (w *Workflow) Steps() []string {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return append([]string(nil), w.order...)
}

// Step returns the node registered under name.
func (w *Workflow) Step(name string) (Node, bool) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	n, ok := w.steps[name]
	return n, ok
}

// Graph returns the workflow's steps and edges. Edges are listed per
// source step in step order, labelled edges sorted by action before the
// default edge.
func (w *Workflow) Graph() Graph {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	g := Graph{Start: w.start, Steps: append([]string(nil), w.order...)}
	for _, from := range w.edgeSources() {
		actions := make([]string, 0, len(w.labelled[from]))
		for action := range w.labelled[from] {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			g.Edges = append(g.Edges, Edge{From: from, Action: action, To: w.labelled[from][action]})
		}
		if to, ok := w.defaults[from]; ok {
			g.Edges = append(g.Edges, Edge{From: from, To: to})
		}
	}
	return g
}

// edgeSources lists known steps first, then unknown sources sorted.
func (w *Workflow) edgeSources() []string {
	seen := make(map[string]bool, len(w.order))
	sources := append([]string(nil), w.order...)
	for _, s := range sources {
		seen[s] = true
	}
	var extra []string
	for from := range w.labelled {
		if !seen[from] {
			seen[from] = true
			extra = append(extra, from)
		}
	}
	for from := range w.defaults {
		if !seen[from] {
			seen[from] = true
			extra = append(extra, from)
		}
	}
	sort.Strings(extra)
	return append(sources, extra...)
}

// Validate reports every transition, including the entry point, that
// names an undefined step. Run does not require it; an invalid
// transition met at run time fails the run with the same RoutingError.
func (w *Workflow) Validate() error {
	g := w.Graph()
	if len(g.Steps) == 0 {
		return nil
	}
	known := make(map[string]bool, len(g.Steps))
	for _, s := range g.Steps {
		known[s] = true
	}

	var errs []error
	if !known[g.Start] {
		errs = append(errs, &agentflow.RoutingError{To: g.Start})
	}
	for _, e := range g.Edges {
		if !known[e.From] {
			errs = append(errs, fmt.Errorf("edge from undefined step %q", e.From))
			continue
		}
		if !known[e.To] {
			errs = append(errs, &agentflow.RoutingError{From: e.From, Action: e.Action, To: e.To})
		}
	}
	return errors.Join(errs...)
}

// runState is the part of the workflow a single run reads, copied so that
// concurrent edits do not affect a run in progress.
type runState struct {
	steps    map[string]Node
	start    string
	labelled map[string]map[string]string
	defaults map[string]string
	params   map[string]agentflow.Value
}

func (w *Workflow) snapshot() runState {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	rs := runState{
		steps:    make(map[string]Node, len(w.steps)),
		start:    w.start,
		labelled: make(map[string]map[string]string, len(w.labelled)),
		defaults: make(map[string]string, len(w.defaults)),
		params:   make(map[string]agentflow.Value, len(w.params)),
	}
	for k, v := range w.steps {
		rs.steps[k] = v
	}
	for from, edges := range w.labelled {
		cp := make(map[string]string, len(edges))
		for a, to := range edges {
			cp[a] = to
		}
		rs.labelled[from] = cp
	}
	for k, v := range w.defaults {
		rs.defaults[k] = v
	}
	for k, v := range w.params {
		rs.params[k] = v
	}
	return rs
}

// next resolves the transition out of step for action. label is the
// action of the matched labelled edge, or empty for the default edge.
func (rs runState) next(step, action string) (to, label string, ok bool) {
	if action != "" {
		if to, ok := rs.labelled[step][action]; ok {
			return to, action, true
		}
	}
	if to, ok := rs.defaults[step]; ok {
		return to, "", true
	}
	return "", "", false
}

// Run executes the workflow on a copy of store and returns the final
// store. The action key is cleared before each step, so a step that sets
// no action follows its default edge. On failure no store is returned.
func (w *Workflow) Run(ctx context.Context, store *agentflow.Store) (out *agentflow.Store, runErr error) {
	rs := w.snapshot()
	work := agentflow.NewStore()
	if store != nil {
		work = store.Clone()
	}
	paramKeys := make([]string, 0, len(rs.params))
	for k := range rs.params {
		paramKeys = append(paramKeys, k)
	}
	sort.Strings(paramKeys)
	for _, k := range paramKeys {
		if !work.Has(k) {
			work.Set(k, rs.params[k])
		}
	}

	if len(rs.steps) == 0 {
		return work, nil
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	logger := w.logger.With(zap.String("run_id", runID))
	started := time.Now()
	steps := 0
	current := rs.start

	w.emitEvent(ctx, FlowEvent{Type: FlowEventTypeFlowStart, RunID: runID, Step: current}, work)
	defer func() {
		w.emitEvent(ctx, FlowEvent{
			Type:     FlowEventTypeFlowComplete,
			RunID:    runID,
			Step:     current,
			Steps:    steps,
			Duration: time.Since(started),
			Err:      runErr,
		}, out)
		if runErr != nil {
			logger.Warn("workflow failed", zap.String("step", current), zap.Int("steps", steps), zap.Error(runErr))
			return
		}
		logger.Debug("workflow finished", zap.Int("steps", steps), zap.Duration("duration", time.Since(started)))
	}()

	if _, ok := rs.steps[current]; !ok {
		return nil, &agentflow.RoutingError{To: current}
	}

	for {
		if w.maxSteps > 0 && steps >= w.maxSteps {
			return nil, fmt.Errorf("workflow %q: %w (%d)", w.name, agentflow.ErrMaxStepsExceeded, w.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return nil, agentflow.StepError(current, err)
		}

		node := rs.steps[current]
		agentflow.ClearAction(work)
		w.emitEvent(ctx, FlowEvent{Type: FlowEventTypeStepStart, RunID: runID, Step: current, Steps: steps}, work)

		stepStart := time.Now()
		result, err := node.Run(ctx, work)
		if err == nil && result == nil {
			err = agentflow.ErrNilStore
		}
		if err != nil {
			w.emitEvent(ctx, FlowEvent{
				Type:     FlowEventTypeStepError,
				RunID:    runID,
				Step:     current,
				Steps:    steps,
				Duration: time.Since(stepStart),
				Err:      err,
			}, nil)
			return nil, agentflow.StepError(current, err)
		}
		work = result
		steps++

		action, _ := agentflow.ActionOf(work)
		to, label, ok := rs.next(current, action)
		w.emitEvent(ctx, FlowEvent{
			Type:     FlowEventTypeStepEnd,
			RunID:    runID,
			Step:     current,
			Action:   action,
			Next:     to,
			Steps:    steps,
			Duration: time.Since(stepStart),
		}, work)
		logger.Debug("step finished",
			zap.String("step", current),
			zap.String("action", action),
			zap.String("next", to),
			zap.Duration("duration", time.Since(stepStart)),
		)

		if !ok {
			break
		}
		if _, exists := rs.steps[to]; !exists {
			return nil, &agentflow.RoutingError{From: current, Action: label, To: to}
		}
		current = to
	}

	if w.clearAction {
		agentflow.ClearAction(work)
	}
	return work, nil
}
