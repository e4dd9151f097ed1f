package flows

import (
	"context"
	"time"

	"agentflow"
)

// FlowEventType enumerates observable lifecycle hooks emitted by a workflow.
type FlowEventType string

const (
	FlowEventTypeFlowStart    FlowEventType = "flow_start"
	FlowEventTypeStepStart    FlowEventType = "step_start"
	FlowEventTypeStepEnd      FlowEventType = "step_end"
	FlowEventTypeStepError    FlowEventType = "step_error"
	FlowEventTypeFlowComplete FlowEventType = "flow_complete"
)

// FlowEvent carries metadata that observability hooks can use.
type FlowEvent struct {
	Type      FlowEventType
	Timestamp time.Time
	Workflow  string
	RunID     string
	Step      string
	// Action is the routing action a finished step produced, if any.
	Action string
	// Next is the step the workflow moves to; empty when it halts.
	Next     string
	Steps    int
	Duration time.Duration
	Err      error
	// Store is a copy of the store at the time of the event.
	Store *agentflow.Store
}

// FlowMonitor observes lifecycle events emitted by Workflow.Run. Notify is
// called synchronously from the running workflow.
type FlowMonitor interface {
	Notify(ctx context.Context, event FlowEvent)
}

// MonitorFunc adapts a function to FlowMonitor.
type MonitorFunc func(ctx context.Context, event FlowEvent)

func (f MonitorFunc) Notify(ctx context.Context, event FlowEvent) {
	f(ctx, event)
}

// emitEvent emits a flow event to all registered monitors.
func (w *Workflow) emitEvent(ctx context.Context, event FlowEvent, store *agentflow.Store) {
	w.monitorMux.RLock()
	monitors := append([]FlowMonitor(nil), w.monitors...)
	w.monitorMux.RUnlock()

	if len(monitors) == 0 {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Workflow = w.name
	if store != nil {
		event.Store = store.Clone()
	}

	for _, monitor := range monitors {
		monitor.Notify(ctx, event)
	}
}
