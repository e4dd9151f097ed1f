package monitor

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"agentflow/flows"
)

// TracingMonitor turns workflow events into OpenTelemetry spans: one span
// per run with a child span per step. Runs are told apart by RunID, so one
// monitor can observe concurrent runs.
type TracingMonitor struct {
	tracer oteltrace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx  context.Context
	run  oteltrace.Span
	step oteltrace.Span
}

// NewTracingMonitor returns a monitor that starts spans with tracer.
func NewTracingMonitor(tracer oteltrace.Tracer) *TracingMonitor {
	return &TracingMonitor{tracer: tracer, runs: make(map[string]*runSpans)}
}

func (m *TracingMonitor) Notify(ctx context.Context, event flows.FlowEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Type {
	case flows.FlowEventTypeFlowStart:
		runCtx, span := m.tracer.Start(ctx, "workflow "+event.Workflow,
			oteltrace.WithTimestamp(event.Timestamp),
			oteltrace.WithAttributes(
				attribute.String("workflow.name", event.Workflow),
				attribute.String("workflow.run_id", event.RunID),
				attribute.String("workflow.start", event.Step),
			),
		)
		m.runs[event.RunID] = &runSpans{ctx: runCtx, run: span}

	case flows.FlowEventTypeStepStart:
		rs, ok := m.runs[event.RunID]
		if !ok {
			return
		}
		_, rs.step = m.tracer.Start(rs.ctx, "step "+event.Step,
			oteltrace.WithTimestamp(event.Timestamp),
			oteltrace.WithAttributes(
				attribute.String("workflow.step", event.Step),
				attribute.Int("workflow.step_index", event.Steps),
			),
		)

	case flows.FlowEventTypeStepEnd:
		rs, ok := m.runs[event.RunID]
		if !ok || rs.step == nil {
			return
		}
		rs.step.SetAttributes(
			attribute.String("workflow.action", event.Action),
			attribute.String("workflow.next", event.Next),
		)
		rs.step.End(oteltrace.WithTimestamp(event.Timestamp))
		rs.step = nil

	case flows.FlowEventTypeStepError:
		rs, ok := m.runs[event.RunID]
		if !ok || rs.step == nil {
			return
		}
		rs.step.RecordError(event.Err)
		rs.step.SetStatus(codes.Error, event.Err.Error())
		rs.step.End(oteltrace.WithTimestamp(event.Timestamp))
		rs.step = nil

	case flows.FlowEventTypeFlowComplete:
		rs, ok := m.runs[event.RunID]
		if !ok {
			return
		}
		delete(m.runs, event.RunID)
		rs.run.SetAttributes(attribute.Int("workflow.steps", event.Steps))
		if event.Err != nil {
			rs.run.RecordError(event.Err)
			rs.run.SetStatus(codes.Error, event.Err.Error())
		} else {
			rs.run.SetStatus(codes.Ok, "")
		}
		rs.run.End(oteltrace.WithTimestamp(event.Timestamp))
	}
}
