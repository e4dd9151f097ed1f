package nodes

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentflow/kv"
)

// Env carries the collaborators a factory may hand to the nodes it builds.
// Model, MaxConcurrency and Retry are defaults for declarations that omit
// them.
type Env struct {
	LLM            LLMClient
	Model          string
	KV             kv.KVStore
	HTTPClient     *http.Client
	Logger         *zap.Logger
	MaxConcurrency int
	Retry          RetryPolicy
}

func (e Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Args are the arguments of a node declaration: `a b key=value` yields
// Positional ["a", "b"] and Named {"key": "value"}.
type Args struct {
	ID         string
	Positional []string
	Named      map[string]string
}

// SplitArgs separates key=value tokens from positional ones.
func SplitArgs(id string, tokens []string) Args {
	args := Args{ID: id, Named: make(map[string]string)}
	for _, tok := range tokens {
		if idx := strings.Index(tok, "="); idx > 0 {
			args.Named[tok[:idx]] = tok[idx+1:]
			continue
		}
		args.Positional = append(args.Positional, tok)
	}
	return args
}

// Lookup returns the named argument, falling back to the positional
// argument at pos when pos >= 0.
func (a Args) Lookup(name string, pos int) (string, bool) {
	if v, ok := a.Named[name]; ok && v != "" {
		return v, true
	}
	if pos >= 0 && pos < len(a.Positional) {
		return a.Positional[pos], true
	}
	return "", false
}

// String returns the argument or def.
func (a Args) String(name string, pos int, def string) string {
	if v, ok := a.Lookup(name, pos); ok {
		return v
	}
	return def
}

// Duration parses the argument as a time.Duration.
func (a Args) Duration(name string, pos int, def time.Duration) (time.Duration, error) {
	raw, ok := a.Lookup(name, pos)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d, nil
}

// Int parses the argument as an integer.
func (a Args) Int(name string, pos int, def int) (int, error) {
	raw, ok := a.Lookup(name, pos)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return n, nil
}

// Float parses the argument as a float64.
func (a Args) Float(name string, pos int, def float64) (float64, error) {
	raw, ok := a.Lookup(name, pos)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return f, nil
}

// Bool parses the argument as a boolean flag.
func (a Args) Bool(name string, pos int, def bool) bool {
	raw, ok := a.Lookup(name, pos)
	if !ok {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// List splits a comma separated argument.
func (a Args) List(name string) []string {
	raw, ok := a.Named[name]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Factory builds a node from declaration arguments.
type Factory func(env Env, args Args) (Node, error)

// NodeDefinition captures metadata about a built-in node.
type NodeDefinition struct {
	ID          string
	Description string
	Example     string
	// Build is nil for node types that can only be constructed from Go.
	Build Factory
}

var (
	catalogMu   sync.RWMutex
	nodeCatalog = make(map[string]NodeDefinition)
)

// RegisterNode makes a node definition discoverable.
func RegisterNode(def NodeDefinition) {
	if def.ID == "" {
		return
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	nodeCatalog[def.ID] = def
}

// RegisteredNodes returns the known nodes sorted by ID.
func RegisteredNodes() []NodeDefinition {
	catalogMu.RLock()
	defer catalogMu.RUnlock()

	ids := make([]string, 0, len(nodeCatalog))
	for id := range nodeCatalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]NodeDefinition, 0, len(ids))
	for _, id := range ids {
		result = append(result, nodeCatalog[id])
	}
	return result
}

// NodeDefinitionFor returns metadata for a registered node.
func NodeDefinitionFor(id string) (NodeDefinition, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	def, ok := nodeCatalog[id]
	return def, ok
}

// Build constructs a node of the registered type nodeType.
func Build(nodeType string, env Env, args Args) (Node, error) {
	def, ok := NodeDefinitionFor(nodeType)
	if !ok {
		return nil, fmt.Errorf("unsupported node type %q", nodeType)
	}
	if def.Build == nil {
		return nil, fmt.Errorf("node type %q cannot be declared, construct it in Go", nodeType)
	}
	if args.Named == nil {
		args.Named = map[string]string{}
	}
	node, err := def.Build(env, args)
	if err != nil {
		return nil, fmt.Errorf("%s node %q: %w", nodeType, args.ID, err)
	}
	return node, nil
}
