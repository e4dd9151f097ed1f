// Package dsl loads workflows from YAML documents.
package dsl

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"agentflow"
	"agentflow/flows"
	"agentflow/nodes"
)

// Document is the YAML form of a workflow.
type Document struct {
	Name        string         `yaml:"name"`
	Start       string         `yaml:"start"`
	MaxSteps    int            `yaml:"max_steps"`
	Timeout     time.Duration  `yaml:"timeout"`
	ClearAction bool           `yaml:"clear_action"`
	Params      map[string]any `yaml:"params"`
	Steps       []StepDef      `yaml:"steps"`
	Edges       []EdgeDef      `yaml:"edges"`
}

// StepDef is a named workflow step.
type StepDef struct {
	Name    string `yaml:"name"`
	NodeDef `yaml:",inline"`
}

// NodeDef describes a node. Types registered in the node catalog are built
// from Args and With; "parallel", "rag" and "mapreduce" compose nested
// definitions. Timeout bounds each attempt; Retry wraps the result in an
// Agent.
type NodeDef struct {
	Type    string            `yaml:"type"`
	Args    []string          `yaml:"args"`
	With    map[string]string `yaml:"with"`
	Retry   *RetryDef         `yaml:"retry"`
	Timeout time.Duration     `yaml:"timeout"`

	Branches       []NodeDef `yaml:"branches"`
	Merge          string    `yaml:"merge"`
	MaxConcurrency int       `yaml:"max_concurrency"`

	Retriever *NodeDef `yaml:"retriever"`
	Generator *NodeDef `yaml:"generator"`

	Mapper  *NodeDef    `yaml:"mapper"`
	Reducer *ReducerDef `yaml:"reducer"`
	Items   string      `yaml:"items"`
}

// RetryDef wraps a node in an Agent. Zero fields take their value from
// the default policy in nodes.Env.
type RetryDef struct {
	Attempts   int           `yaml:"attempts"`
	Delay      time.Duration `yaml:"delay"`
	Backoff    string        `yaml:"backoff"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// ReducerDef selects a built-in reducer: collect (into Key), merge, or
// pluck (From each output into To).
type ReducerDef struct {
	Kind string `yaml:"kind"`
	Key  string `yaml:"key"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// EdgeDef is a transition; an empty Action is the default edge.
type EdgeDef struct {
	From   string `yaml:"from"`
	Action string `yaml:"action"`
	To     string `yaml:"to"`
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &doc, nil
}

// LoadFile reads and builds the workflow at path.
func LoadFile(path string, env nodes.Env, opts flows.Options) (*flows.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Load(data, env, opts)
}

// Load parses data and builds the workflow it describes. Values set in the
// document override MaxSteps, Timeout and ClearAction in opts.
func Load(data []byte, env nodes.Env, opts flows.Options) (*flows.Workflow, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return doc.Build(env, opts)
}

// Build turns the document into a validated workflow.
func (d *Document) Build(env nodes.Env, opts flows.Options) (*flows.Workflow, error) {
	if len(d.Steps) == 0 {
		return nil, errors.New("document defines no steps")
	}
	if d.MaxSteps > 0 {
		opts.MaxSteps = d.MaxSteps
	}
	if d.Timeout > 0 {
		opts.Timeout = d.Timeout
	}
	if d.ClearAction {
		opts.ClearAction = true
	}
	if len(d.Params) > 0 {
		params := make(map[string]agentflow.Value, len(d.Params)+len(opts.Params))
		for k, v := range opts.Params {
			params[k] = v
		}
		for k, raw := range d.Params {
			v, err := agentflow.ValueOf(raw)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", k, err)
			}
			params[k] = v
		}
		opts.Params = params
	}

	wf := flows.NewWithOptions(d.Name, opts)
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i)
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("step %q defined twice", step.Name)
		}
		seen[step.Name] = true
		node, err := buildNode(step.Name, step.NodeDef, env)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.Name, err)
		}
		wf.AddStep(step.Name, node)
	}
	if d.Start != "" {
		wf.SetStart(d.Start)
	}
	for _, e := range d.Edges {
		wf.ConnectAction(e.From, e.Action, e.To)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func buildNode(id string, def NodeDef, env nodes.Env) (agentflow.Node, error) {
	var node agentflow.Node
	var err error
	switch def.Type {
	case "parallel":
		node, err = buildParallel(id, def, env)
	case "rag":
		node, err = buildRag(id, def, env)
	case "mapreduce":
		node, err = buildMapReduce(id, def, env)
	case "":
		return nil, errors.New("missing node type")
	default:
		args := nodes.Args{ID: id, Positional: def.Args, Named: make(map[string]string, len(def.With))}
		for k, v := range def.With {
			args.Named[k] = v
		}
		node, err = nodes.Build(def.Type, env, args)
	}
	if err != nil {
		return nil, err
	}
	if def.Timeout > 0 {
		node = nodes.WithTimeout(node, def.Timeout)
	}
	if def.Retry != nil {
		policy, err := def.Retry.policy(env.Retry)
		if err != nil {
			return nil, err
		}
		node = nodes.NewAgent(node, policy, nodes.WithAgentName(id), nodes.WithAgentLogger(env.Logger))
	}
	return node, nil
}

// policy overlays the fields set in r on base.
func (r RetryDef) policy(base nodes.RetryPolicy) (nodes.RetryPolicy, error) {
	p := base
	if r.Attempts != 0 {
		p.MaxAttempts = r.Attempts
	}
	if p.MaxAttempts < 1 {
		return nodes.RetryPolicy{}, errors.New("retry requires attempts >= 1")
	}
	if r.Backoff != "" {
		backoff, err := nodes.ParseBackoff(r.Backoff)
		if err != nil {
			return nodes.RetryPolicy{}, err
		}
		p.Backoff = backoff
	}
	if r.Delay != 0 {
		p.Delay = r.Delay
	}
	if r.Multiplier != 0 {
		p.Multiplier = r.Multiplier
	}
	if r.MaxDelay != 0 {
		p.MaxDelay = r.MaxDelay
	}
	return p, nil
}

func buildParallel(id string, def NodeDef, env nodes.Env) (agentflow.Node, error) {
	if len(def.Branches) == 0 {
		return nil, errors.New("parallel node requires branches")
	}
	merge, err := mergeFunc(def.Merge)
	if err != nil {
		return nil, err
	}
	m := nodes.NewMultiAgent(
		nodes.WithMultiAgentName(id),
		nodes.WithMaxConcurrency(concurrency(def, env)),
		nodes.WithMerge(merge),
		nodes.WithMultiAgentLogger(env.Logger),
	)
	for i, branch := range def.Branches {
		node, err := buildNode(fmt.Sprintf("%s.%d", id, i), branch, env)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		m.AddAgent(node)
	}
	return m, nil
}

func concurrency(def NodeDef, env nodes.Env) int {
	if def.MaxConcurrency != 0 {
		return def.MaxConcurrency
	}
	return env.MaxConcurrency
}

func mergeFunc(name string) (nodes.MergeFunc, error) {
	switch name {
	case "", "last_declared":
		return nodes.LastDeclaredWins, nil
	case "namespaced":
		return nodes.NamespacedMerge(nil), nil
	case "strict":
		return nodes.StrictMerge, nil
	default:
		return nil, fmt.Errorf("unknown merge policy %q", name)
	}
}

func buildRag(id string, def NodeDef, env nodes.Env) (agentflow.Node, error) {
	if def.Retriever == nil || def.Generator == nil {
		return nil, errors.New("rag node requires retriever and generator")
	}
	retriever, err := buildNode(id+".retriever", *def.Retriever, env)
	if err != nil {
		return nil, fmt.Errorf("retriever: %w", err)
	}
	generator, err := buildNode(id+".generator", *def.Generator, env)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	return nodes.NewRag(retriever, generator), nil
}

func buildMapReduce(id string, def NodeDef, env nodes.Env) (agentflow.Node, error) {
	if def.Mapper == nil || def.Reducer == nil {
		return nil, errors.New("mapreduce node requires mapper and reducer")
	}
	mapper, err := buildNode(id+".mapper", *def.Mapper, env)
	if err != nil {
		return nil, fmt.Errorf("mapper: %w", err)
	}
	var reducer nodes.Reducer
	switch def.Reducer.Kind {
	case "collect":
		key := def.Reducer.Key
		if key == "" {
			key = nodes.DefaultResultsKey
		}
		reducer = nodes.CollectReducer(key)
	case "merge":
		reducer = nodes.MergeReducer()
	case "pluck":
		if def.Reducer.From == "" || def.Reducer.To == "" {
			return nil, errors.New("pluck reducer requires from and to")
		}
		reducer = nodes.PluckReducer(def.Reducer.From, def.Reducer.To)
	default:
		return nil, fmt.Errorf("unknown reducer %q", def.Reducer.Kind)
	}
	return nodes.NewMapReduce(mapper, reducer,
		nodes.WithItemsKey(def.Items),
		nodes.WithMapConcurrency(concurrency(def, env)),
		nodes.WithMapReduceLogger(env.Logger),
	), nil
}
