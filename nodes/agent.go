package nodes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agentflow"
)

// FallbackFunc produces a result after an Agent has exhausted its retries.
// It receives a copy of the original input and the RetryExhaustedError.
type FallbackFunc func(ctx context.Context, input *agentflow.Store, err error) (*agentflow.Store, error)

// Agent wraps a node with a bounded retry policy. Every attempt runs on a
// fresh copy of the input store, so writes made by a failed attempt never
// reach the next attempt, and the caller's store is left untouched; the
// result is whatever the successful attempt returned.
type Agent struct {
	name     string
	node     Node
	policy   RetryPolicy
	fallback FallbackFunc
	logger   *zap.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithAgentName sets the name used in logs.
func WithAgentName(name string) AgentOption {
	return func(a *Agent) { a.name = name }
}

// WithFallback installs a function that runs once retries are exhausted.
func WithFallback(fn FallbackFunc) AgentOption {
	return func(a *Agent) { a.fallback = fn }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(logger *zap.Logger) AgentOption {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAgent wraps node with the given retry policy.
func NewAgent(node Node, policy RetryPolicy, opts ...AgentOption) *Agent {
	a := &Agent{
		node:   node,
		policy: policy,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.name == "" {
		a.name = agentflow.NameOf(node, "agent")
	}
	a.logger = a.logger.With(zap.String("component", "agent"), zap.String("agent", a.name))
	return a
}

func (a *Agent) Name() string {
	return a.name
}

// Policy returns the retry policy.
func (a *Agent) Policy() RetryPolicy {
	return a.policy
}

// Run implements agentflow.Node.
func (a *Agent) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	return a.Call(ctx, store)
}

// Decide is an alias of Call.
func (a *Agent) Decide(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	return a.Call(ctx, store)
}

// Call runs the wrapped node until it succeeds or the policy's attempts
// are used up, in which case the last error is returned inside a
// *agentflow.RetryExhaustedError (or handed to the fallback).
func (a *Agent) Call(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	attempts := a.policy.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := runNode(ctx, a.node, store.Clone())
		if err == nil {
			if attempt > 1 {
				a.logger.Info("node recovered", zap.Int("attempt", attempt))
			}
			return out, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := a.policy.DelayFor(attempt)
		a.logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry interrupted after %d attempt(s): %w (last error: %v)", attempt, err, lastErr)
		}
	}

	exhausted := &agentflow.RetryExhaustedError{Attempts: attempts, Cause: lastErr}
	a.logger.Error("retries exhausted", zap.Int("attempts", attempts), zap.Error(lastErr))
	if a.fallback != nil {
		return a.fallback(ctx, store.Clone(), exhausted)
	}
	return nil, exhausted
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "agent",
		Description: "Retries a wrapped node with fixed, linear or exponential backoff; each attempt starts from the original input.",
		Example:     `nodes.NewAgent(node, nodes.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2, time.Second).Policy())`,
	})
}
