package nodes

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"agentflow"
)

// LLMResponseKey always receives the raw completion text.
const LLMResponseKey = "llm_response"

// LLMNodeConfig controls how the LLM is called. Prompt is a template
// rendered against the store to form the user message; when empty the
// value under InputKey is sent as is.
type LLMNodeConfig struct {
	Name         string
	Model        string
	SystemPrompt string
	Prompt       string
	InputKey     string
	OutputKey    string
	Temperature  float32
	MaxTokens    int
	Stop         []string
	// DecodeJSON stores a JSON answer as structured data.
	DecodeJSON bool
}

// DefaultLLMNodeConfig returns a starter config for a prompt-based node.
func DefaultLLMNodeConfig(system string) LLMNodeConfig {
	return LLMNodeConfig{
		Name:         "llm",
		Model:        openai.GPT3Dot5Turbo,
		SystemPrompt: system,
		InputKey:     "input",
		OutputKey:    "llm_output",
		Temperature:  0.5,
		MaxTokens:    256,
	}
}

// LLMNode calls a chat completion API to produce text. As the generator of
// a Rag it typically renders the retrieved context into Prompt.
type LLMNode struct {
	client LLMClient
	cfg    LLMNodeConfig
	prompt storeTemplate
}

// NewLLMNode builds the node. A nil client produces mock responses.
func NewLLMNode(client LLMClient, cfg LLMNodeConfig) (*LLMNode, error) {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.OutputKey == "" {
		cfg.OutputKey = "llm_output"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful assistant."
	}
	prompt, err := compileTemplate(cfg.Name+".prompt", cfg.Prompt)
	if err != nil {
		return nil, err
	}
	return &LLMNode{client: client, cfg: cfg, prompt: prompt}, nil
}

func (n *LLMNode) Name() string {
	return n.cfg.Name
}

func (n *LLMNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	user, err := n.userMessage(store)
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("llm %s: render prompt", n.cfg.Name), err)
	}

	var raw string
	if isNilClient(n.client) {
		raw = "mock response for " + user
	} else {
		raw, err = chat(ctx, n.client, chatRequest{
			Model:       n.cfg.Model,
			System:      n.cfg.SystemPrompt,
			User:        user,
			Temperature: n.cfg.Temperature,
			MaxTokens:   n.cfg.MaxTokens,
			Stop:        n.cfg.Stop,
		})
		if err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("llm %s: completion failed", n.cfg.Name), err)
		}
	}

	store.Set(LLMResponseKey, agentflow.String(raw))
	text := raw
	if n.cfg.DecodeJSON {
		text = stripFence(raw)
	}
	store.Set(n.cfg.OutputKey, decodeOutput([]byte(text), n.cfg.DecodeJSON))
	return store, nil
}

func (n *LLMNode) userMessage(store *agentflow.Store) (string, error) {
	if n.cfg.Prompt != "" {
		return n.prompt.render(store.Snapshot())
	}
	input, ok := store.Get(n.cfg.InputKey)
	if !ok {
		return "", nil
	}
	return input.String(), nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "llm",
		Description: "Calls an OpenAI-compatible chat API via go-openai; without a client it produces a mock response.",
		Example:     `node answer = llm "Answer briefly." prompt="Context: {{.context}} Question: {{.question}}" output=answer`,
		Build: func(env Env, args Args) (Node, error) {
			cfg := DefaultLLMNodeConfig(args.String("system", 0, ""))
			cfg.Name = args.ID
			if env.Model != "" {
				cfg.Model = env.Model
			}
			cfg.Model = args.String("model", -1, cfg.Model)
			cfg.Prompt = args.String("prompt", -1, "")
			cfg.InputKey = args.String("input", -1, cfg.InputKey)
			cfg.OutputKey = args.String("output", -1, cfg.OutputKey)
			cfg.DecodeJSON = args.Bool("json", -1, false)
			cfg.Stop = args.List("stop")
			temp, err := args.Float("temperature", -1, float64(cfg.Temperature))
			if err != nil {
				return nil, err
			}
			cfg.Temperature = float32(temp)
			if cfg.MaxTokens, err = args.Int("max_tokens", -1, cfg.MaxTokens); err != nil {
				return nil, err
			}
			node, err := NewLLMNode(env.LLM, cfg)
			if err != nil {
				return nil, err
			}
			return node, nil
		},
	})
}
