package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agentflow"
	"agentflow/kv"
)

// KVOp selects what a KVNode does with its key.
type KVOp string

const (
	KVGet    KVOp = "get"
	KVPut    KVOp = "put"
	KVDelete KVOp = "delete"
)

// KVNodeConfig describes one key-value operation. Key may be a template
// rendered against the store, e.g. "session/{{.user_id}}".
type KVNodeConfig struct {
	ID  string
	Op  KVOp
	Key string
	// Field is the store key read by put and written by get.
	Field string
	// Optional makes get skip a missing key instead of failing.
	Optional bool
}

// KVNode moves JSON encoded values between the store and a kv.KVStore.
type KVNode struct {
	cfg     KVNodeConfig
	backend kv.KVStore
	key     storeTemplate
}

func NewKVNode(backend kv.KVStore, cfg KVNodeConfig) (*KVNode, error) {
	if cfg.Key == "" {
		return nil, errors.New("kv node requires a key")
	}
	switch cfg.Op {
	case KVGet, KVPut, KVDelete:
	default:
		return nil, fmt.Errorf("unknown kv op %q", cfg.Op)
	}
	if cfg.Field == "" {
		cfg.Field = cfg.Key
	}
	key, err := compileTemplate(cfg.ID+".key", cfg.Key)
	if err != nil {
		return nil, err
	}
	return &KVNode{cfg: cfg, backend: backend, key: key}, nil
}

// NewKVReadNode loads key into outputKey.
func NewKVReadNode(id string, backend kv.KVStore, key, outputKey string) *KVNode {
	return mustKVNode(backend, KVNodeConfig{ID: id, Op: KVGet, Key: key, Field: outputKey})
}

// NewKVWriteNode persists the value under inputKey as key.
func NewKVWriteNode(id string, backend kv.KVStore, key, inputKey string) *KVNode {
	return mustKVNode(backend, KVNodeConfig{ID: id, Op: KVPut, Key: key, Field: inputKey})
}

func mustKVNode(backend kv.KVStore, cfg KVNodeConfig) *KVNode {
	n, err := NewKVNode(backend, cfg)
	if err != nil {
		panic(err)
	}
	return n
}

func (n *KVNode) Name() string {
	return n.cfg.ID
}

// SetOptional toggles whether a missing key fails a get.
func (n *KVNode) SetOptional(optional bool) {
	n.cfg.Optional = optional
}

func (n *KVNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	if n.backend == nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: no backend configured", n.cfg.ID), nil)
	}
	store = orEmpty(store)
	key, err := n.key.render(store.Snapshot())
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: render key", n.cfg.ID), err)
	}

	switch n.cfg.Op {
	case KVGet:
		raw, err := n.backend.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) && n.cfg.Optional {
			return store, nil
		}
		if err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: get %q", n.cfg.ID, key), err)
		}
		var v agentflow.Value
		if json.Unmarshal(raw, &v) != nil {
			v = agentflow.String(string(raw))
		}
		store.Set(n.cfg.Field, v)
	case KVPut:
		v, ok := store.Get(n.cfg.Field)
		if !ok {
			return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: store has no %q to write", n.cfg.ID, n.cfg.Field), nil)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: encode %q", n.cfg.ID, n.cfg.Field), err)
		}
		if err := n.backend.Put(ctx, key, data); err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: put %q", n.cfg.ID, key), err)
		}
	case KVDelete:
		if err := n.backend.Delete(ctx, key); err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("kv %s: delete %q", n.cfg.ID, key), err)
		}
	}
	return store, nil
}

func kvFactory(op KVOp, fieldArg string) func(Env, Args) (Node, error) {
	return func(env Env, args Args) (Node, error) {
		key, ok := args.Lookup("key", 0)
		if !ok {
			return nil, fmt.Errorf("kv_%s node requires key", op)
		}
		cfg := KVNodeConfig{ID: args.ID, Op: op, Key: key, Optional: args.Bool("optional", -1, false)}
		if fieldArg != "" {
			cfg.Field = args.String(fieldArg, 1, "")
		}
		node, err := NewKVNode(env.KV, cfg)
		if err != nil {
			return nil, err
		}
		return node, nil
	}
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "kv_read",
		Description: "Loads a JSON value from the KV backend into the store.",
		Example:     `node load = kv_read key="profile/{{.user}}" output=profile optional=true`,
		Build:       kvFactory(KVGet, "output"),
	})
	RegisterNode(NodeDefinition{
		ID:          "kv_write",
		Description: "Persists a store value, JSON encoded, into the KV backend.",
		Example:     `node persist = kv_write key="profile/{{.user}}" input=profile`,
		Build:       kvFactory(KVPut, "input"),
	})
	RegisterNode(NodeDefinition{
		ID:          "kv_delete",
		Description: "Removes a key from the KV backend.",
		Example:     `node forget = kv_delete key="profile/{{.user}}"`,
		Build:       kvFactory(KVDelete, ""),
	})
}
