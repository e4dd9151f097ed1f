package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"agentflow"
)

// LLMRouterConfig configures an LLM-driven branch choice.
type LLMRouterConfig struct {
	Name        string
	Model       string
	Prompt      string
	Actions     []string
	InputKey    string
	Default     string
	Temperature float32
	MaxTokens   int
}

// LLMRouter asks the model which of Actions to take and stores the choice
// as the action. Answers naming none of them fall back to Default.
type LLMRouter struct {
	client LLMClient
	cfg    LLMRouterConfig
}

// NewLLMRouter builds the router. A nil client always picks the default.
func NewLLMRouter(client LLMClient, cfg LLMRouterConfig) *LLMRouter {
	if cfg.Name == "" {
		cfg.Name = "llm-router"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT3Dot5Turbo
	}
	if cfg.InputKey == "" {
		cfg.InputKey = "input"
	}
	if cfg.Default == "" && len(cfg.Actions) > 0 {
		cfg.Default = cfg.Actions[0]
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "Reply with exactly one of: " + strings.Join(cfg.Actions, ", ")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 16
	}
	return &LLMRouter{client: client, cfg: cfg}
}

func (lr *LLMRouter) Name() string {
	return lr.cfg.Name
}

func (lr *LLMRouter) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	action := lr.cfg.Default
	if !isNilClient(lr.client) {
		input, _ := store.Get(lr.cfg.InputKey)
		answer, err := chat(ctx, lr.client, chatRequest{
			Model:       lr.cfg.Model,
			System:      lr.cfg.Prompt,
			User:        input.String(),
			Temperature: lr.cfg.Temperature,
			MaxTokens:   lr.cfg.MaxTokens,
		})
		if err != nil {
			return nil, agentflow.NewNodeError(fmt.Sprintf("llm router %s: completion failed", lr.cfg.Name), err)
		}
		if picked, ok := matchAction(answer, lr.cfg.Actions); ok {
			action = picked
		}
	}
	if action != "" {
		agentflow.SetAction(store, action)
	}
	return store, nil
}

// matchAction maps a free-form answer onto one of actions. An answer that
// is exactly an action wins; otherwise the action mentioned first does.
func matchAction(answer string, actions []string) (string, bool) {
	text := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!\"'`"))
	best, bestAt := "", -1
	for _, action := range actions {
		lower := strings.ToLower(action)
		if text == lower {
			return action, true
		}
		if at := strings.Index(text, lower); at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = action, at
		}
	}
	return best, bestAt >= 0
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "llm_router",
		Description: "Prompts an LLM to pick a named action from the supplied list.",
		Example:     `node triage = llm_router actions=search,answer input=question`,
		Build: func(env Env, args Args) (Node, error) {
			actions := args.List("actions")
			if len(actions) == 0 {
				actions = args.Positional
			}
			if len(actions) == 0 {
				return nil, errors.New("llm_router node requires actions")
			}
			temp, err := args.Float("temperature", -1, 0)
			if err != nil {
				return nil, err
			}
			return NewLLMRouter(env.LLM, LLMRouterConfig{
				Name:        args.ID,
				Model:       args.String("model", -1, env.Model),
				Prompt:      args.String("prompt", -1, ""),
				Actions:     actions,
				InputKey:    args.String("input", -1, ""),
				Default:     args.String("default", -1, ""),
				Temperature: float32(temp),
			}), nil
		},
	})
}
