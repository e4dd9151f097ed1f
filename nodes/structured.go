package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agentflow"
)

// Field declares a key a structured output must contain.
type Field struct {
	Key  string
	Kind agentflow.Kind
}

// StructuredOutput wraps a node and checks that its output carries the
// declared fields with the declared kinds. When a source key is set, a
// JSON object found there as a string (optionally inside a ```json fence)
// is decoded and its entries are written to the store before the check.
type StructuredOutput struct {
	node      Node
	fields    []Field
	sourceKey string
}

func NewStructuredOutput(node Node, fields ...Field) *StructuredOutput {
	return &StructuredOutput{node: node, fields: fields}
}

// FromJSON makes the node decode the JSON object held under key.
func (s *StructuredOutput) FromJSON(key string) *StructuredOutput {
	s.sourceKey = key
	return s
}

func (s *StructuredOutput) Name() string {
	return "structured:" + agentflow.NameOf(s.node, "node")
}

func (s *StructuredOutput) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	out, err := runNode(ctx, s.node, orEmpty(store))
	if err != nil {
		return nil, err
	}
	if s.sourceKey != "" {
		if err := decodeInto(out, s.sourceKey); err != nil {
			return nil, err
		}
	}
	for _, f := range s.fields {
		v, ok := out.Get(f.Key)
		if !ok {
			return nil, agentflow.NewNodeError(fmt.Sprintf("structured output: key %q is missing", f.Key), nil)
		}
		if v.Kind() != f.Kind {
			return nil, agentflow.NewNodeError(
				fmt.Sprintf("structured output: key %q is a %s, want %s", f.Key, v.Kind(), f.Kind), nil)
		}
	}
	return out, nil
}

func decodeInto(store *agentflow.Store, key string) error {
	raw, ok := store.GetString(key)
	if !ok {
		return agentflow.NewNodeError(fmt.Sprintf("structured output: key %q does not hold text", key), nil)
	}
	var v agentflow.Value
	if err := json.Unmarshal([]byte(stripFence(raw)), &v); err != nil {
		return agentflow.NewNodeError(fmt.Sprintf("structured output: key %q is not valid JSON", key), err)
	}
	obj, ok := v.AsMap()
	if !ok {
		return agentflow.NewNodeError(fmt.Sprintf("structured output: key %q holds a %s, want an object", key, v.Kind()), nil)
	}
	store.Merge(agentflow.StoreFromValue(agentflow.Map(obj), ItemKey))
	return nil
}

func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "structured",
		Description: "Validates that a node's output holds required keys of the declared kinds, optionally decoding a JSON reply first.",
		Example:     `nodes.NewStructuredOutput(llm, nodes.Field{Key: "title", Kind: agentflow.KindString}).FromJSON("llm_output")`,
	})
}
