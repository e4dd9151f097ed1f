package nodes

import (
	"context"

	"go.uber.org/zap"

	"agentflow"
)

// LoggerNode logs a message with selected store values for debugging.
type LoggerNode struct {
	id        string
	logger    *zap.Logger
	Message   string
	InputKeys []string
}

func NewLoggerNode(id string, logger *zap.Logger, message string, inputKeys ...string) *LoggerNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerNode{
		id:        id,
		logger:    logger.With(zap.String("node", id)),
		Message:   message,
		InputKeys: inputKeys,
	}
}

func (ln *LoggerNode) Name() string {
	return ln.id
}

func (ln *LoggerNode) Run(_ context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	fields := make([]zap.Field, 0, len(ln.InputKeys))
	for _, key := range ln.InputKeys {
		if v, ok := store.Get(key); ok {
			fields = append(fields, zap.Stringer(key, v))
		}
	}
	ln.logger.Info(ln.Message, fields...)
	return store, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "logger",
		Description: "Logs a message and selected store keys.",
		Example:     `nodes.NewLoggerNode("debug", logger, "state", "input", "result")`,
		Build: func(env Env, args Args) (Node, error) {
			message, named := args.Named["message"]
			keys := args.Positional
			if !named {
				message = args.String("message", 0, args.ID)
				if len(keys) > 0 {
					keys = keys[1:]
				}
			}
			keys = append(append([]string(nil), keys...), args.List("keys")...)
			return NewLoggerNode(args.ID, env.logger(), message, keys...), nil
		},
	})
}
