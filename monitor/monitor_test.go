package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"agentflow"
	"agentflow/flows"
)

var errBoom = errors.New("boom")

func set(key string, v agentflow.Value) agentflow.Node {
	return agentflow.NodeFunc(func(_ context.Context, s *agentflow.Store) (*agentflow.Store, error) {
		s.Set(key, v)
		return s, nil
	})
}

func fail() agentflow.Node {
	return agentflow.NodeFunc(func(context.Context, *agentflow.Store) (*agentflow.Store, error) {
		return nil, errBoom
	})
}

// twoStep builds a -> b; b fails when broken is set.
func twoStep(broken bool, monitors ...flows.FlowMonitor) *flows.Workflow {
	wf := flows.NewWithOptions("pipeline", flows.Options{Monitors: monitors})
	wf.AddStep("a", set("x", agentflow.Int(1)))
	if broken {
		wf.AddStep("b", fail())
	} else {
		wf.AddStep("b", set("y", agentflow.Int(2)))
	}
	wf.Connect("a", "b")
	return wf
}

func TestLoggingMonitor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mon := NewLoggingMonitor(zap.New(core))

	_, err := twoStep(false, mon).Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)

	messages := make([]string, 0, logs.Len())
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{
		"workflow started",
		"step started", "step finished",
		"step started", "step finished",
		"workflow completed",
	}, messages)

	last := logs.All()[logs.Len()-1]
	assert.Equal(t, "pipeline", last.ContextMap()["workflow"])
	assert.EqualValues(t, 2, last.ContextMap()["steps"])
	assert.NotEmpty(t, last.ContextMap()["run_id"])
}

func TestLoggingMonitor_Failure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	mon := NewLoggingMonitor(zap.New(core))

	_, err := twoStep(true, mon).Run(context.Background(), agentflow.NewStore())
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "step failed", entries[0].Message)
	assert.Equal(t, "b", entries[0].ContextMap()["step"])
	assert.Equal(t, "workflow failed", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestNewLoggingMonitor_NilLogger(t *testing.T) {
	mon := NewLoggingMonitor(nil)
	assert.NotPanics(t, func() {
		mon.Notify(context.Background(), flows.FlowEvent{Type: flows.FlowEventTypeFlowStart})
	})
}

func TestPrometheusMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon := NewPrometheusMonitor(reg, "agentflow_test")

	_, err := twoStep(false, mon).Run(context.Background(), agentflow.NewStore())
	require.NoError(t, err)
	_, err = twoStep(true, mon).Run(context.Background(), agentflow.NewStore())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(mon.runsTotal.WithLabelValues("pipeline", statusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mon.runsTotal.WithLabelValues("pipeline", statusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(mon.stepsTotal.WithLabelValues("pipeline", "a", statusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mon.stepsTotal.WithLabelValues("pipeline", "b", statusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mon.stepsTotal.WithLabelValues("pipeline", "b", statusError)))
	assert.Equal(t, 2, testutil.CollectAndCount(mon.stepDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(mon.runDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestPrometheusMonitor_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusMonitor(reg, "dup")
	assert.Panics(t, func() { NewPrometheusMonitor(reg, "dup") })
}

func TestTracingMonitor(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	mon := NewTracingMonitor(provider.Tracer("agentflow/test"))

	_, err := twoStep(true, mon).Run(context.Background(), agentflow.NewStore())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		byName[s.Name()] = s
	}

	run := byName["workflow pipeline"]
	require.NotNil(t, run)
	assert.Equal(t, codes.Error, run.Status().Code)

	for _, name := range []string{"step a", "step b"} {
		step := byName[name]
		require.NotNil(t, step, name)
		assert.Equal(t, run.SpanContext().SpanID(), step.Parent().SpanID(), name)
		assert.Equal(t, run.SpanContext().TraceID(), step.SpanContext().TraceID(), name)
	}
	assert.Equal(t, codes.Error, byName["step b"].Status().Code)
	assert.Len(t, byName["step b"].Events(), 1, "error recorded on the failing step")
	assert.Empty(t, mon.runs, "finished runs are forgotten")
}

func TestTracingMonitor_ConcurrentRuns(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mon := NewTracingMonitor(provider.Tracer("agentflow/test"))
	wf := twoStep(false, mon)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := wf.Run(context.Background(), agentflow.NewStore())
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	spans := recorder.Ended()
	require.Len(t, spans, 12)
	traces := make(map[string]int)
	for _, s := range spans {
		traces[s.SpanContext().TraceID().String()]++
	}
	assert.Len(t, traces, 4)
	for _, n := range traces {
		assert.Equal(t, 3, n)
	}
}
