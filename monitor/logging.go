// Package monitor provides workflow observers: structured logs, Prometheus
// metrics and OpenTelemetry spans built from flows.FlowEvent.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"agentflow/flows"
)

// LoggingMonitor writes one log entry per workflow event.
type LoggingMonitor struct {
	logger *zap.Logger
}

// NewLoggingMonitor returns a monitor that logs to logger. A nil logger
// discards everything.
func NewLoggingMonitor(logger *zap.Logger) *LoggingMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingMonitor{logger: logger.With(zap.String("component", "workflow_monitor"))}
}

func (m *LoggingMonitor) Notify(_ context.Context, event flows.FlowEvent) {
	fields := []zap.Field{
		zap.String("workflow", event.Workflow),
		zap.String("run_id", event.RunID),
	}
	if event.Step != "" {
		fields = append(fields, zap.String("step", event.Step))
	}

	switch event.Type {
	case flows.FlowEventTypeFlowStart:
		m.logger.Info("workflow started", fields...)
	case flows.FlowEventTypeStepStart:
		m.logger.Debug("step started", fields...)
	case flows.FlowEventTypeStepEnd:
		fields = append(fields,
			zap.String("action", event.Action),
			zap.String("next", event.Next),
			zap.Duration("duration", event.Duration),
		)
		m.logger.Debug("step finished", fields...)
	case flows.FlowEventTypeStepError:
		fields = append(fields, zap.Duration("duration", event.Duration), zap.Error(event.Err))
		m.logger.Warn("step failed", fields...)
	case flows.FlowEventTypeFlowComplete:
		fields = append(fields, zap.Int("steps", event.Steps), zap.Duration("duration", event.Duration))
		if event.Err != nil {
			m.logger.Error("workflow failed", append(fields, zap.Error(event.Err))...)
			return
		}
		m.logger.Info("workflow completed", fields...)
	}
}
