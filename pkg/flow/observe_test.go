package flow

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vnykmshr/dataflow/pkg/metrics"
)

func failingPipeline(t *testing.T, e *Engine) *Pipeline {
	t.Helper()
	p, err := e.Compile(&Descriptor{
		Name:     "orders",
		InParams: []string{"id"},
		Tasks: []TaskDef{
			{F: func(id string) string { return "order-" + id }, A: []string{"id"}, Out: []string{"order"}},
			{F: func(order string) error { return errBoom }, A: []string{"order"}, Out: []string{}, Name: "charge"},
		},
		OutTask: OutDef{A: []string{}},
	})
	require.NoError(t, err)
	return p
}

func TestSnapshotEnricher(t *testing.T) {
	p := failingPipeline(t, NewWithConfig(Config{Enricher: SnapshotEnricher{}}))

	err := callErr(t, p, "7")
	var terr *TaskError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, map[string]any{"id": "7", "order": "order-7"}, terr.Vars)
}

func TestWithoutEnricherVarsStayEmpty(t *testing.T) {
	err := callErr(t, failingPipeline(t, New()), "7")
	var terr *TaskError
	require.ErrorAs(t, err, &terr)
	assert.Nil(t, terr.Vars)
}

func TestEnricherReplacesError(t *testing.T) {
	var seen Failure
	e := NewWithConfig(Config{Enricher: EnricherFunc(func(f Failure) error {
		seen = f
		return fmt.Errorf("order %v: %w", mustGet(f.Vars, "id"), f.Err)
	})})

	err := callErr(t, failingPipeline(t, e), "9")
	assert.Equal(t, "order 9: task charge(order) failed: boom", err.Error())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "charge", seen.Task.Name())
	assert.Same(t, seen.TaskError.Task, seen.Task)
}

func TestEnricherNilAndPanicKeepOriginal(t *testing.T) {
	for name, enricher := range map[string]Enricher{
		"nil":   EnricherFunc(func(Failure) error { return nil }),
		"panic": EnricherFunc(func(Failure) error { panic("enricher") }),
	} {
		t.Run(name, func(t *testing.T) {
			err := callErr(t, failingPipeline(t, NewWithConfig(Config{Enricher: enricher})), "1")
			assert.Equal(t, "task charge(order) failed: boom", err.Error())
		})
	}
}

func TestEnricherRunsOncePerFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	e := NewWithConfig(Config{Enricher: EnricherFunc(func(f Failure) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})})

	p, err := e.Compile(&Descriptor{
		InParams: []string{"s"},
		Tasks:    []TaskDef{{F: "sub:inner", A: []string{"s"}, Out: []string{"r"}}},
		OutTask:  OutDef{A: []string{"r"}},
		Sub: map[string]*Descriptor{
			"inner": {
				InParams: []string{"v"},
				Tasks:    []TaskDef{{F: func(string) error { return errBoom }, A: []string{"v"}, Out: []string{}}},
				OutTask:  OutDef{A: []string{}},
			},
		},
	})
	require.NoError(t, err)

	callErr(t, p, "x")
	assert.Equal(t, 1, calls)
}

func TestStdLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0)).With(Field{Key: "pipeline", Value: "orders"})

	logger.Info(context.Background(), "compiled", Field{Key: "tasks", Value: 3})
	logger.Error(context.Background(), "invocation failed", errBoom, Field{Key: "timed_out", Value: false})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[INFO] compiled pipeline=orders tasks=3", lines[0])
	assert.Equal(t, "[ERROR] invocation failed: boom pipeline=orders timed_out=false", lines[1])
}

func TestEngineLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	e := NewWithConfig(Config{Logger: NewStdLogger(log.New(&buf, "", 0))})

	callErr(t, failingPipeline(t, e), "3")
	out := buf.String()
	assert.Contains(t, out, "[ERROR] invocation failed: task charge(order) failed: boom")
	assert.Contains(t, out, "pipeline=orders")
	assert.Contains(t, out, "invocation_id=")

	buf.Reset()
	_, err := e.Compile(&Descriptor{Name: "broken", InParams: []string{"s"}})
	require.Error(t, err)
	assert.Contains(t, buf.String(), "[INFO] descriptor rejected pipeline=broken errors=1")
}

func TestTracingSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	e := NewWithConfig(Config{Tracer: provider.Tracer("test")})
	callErr(t, failingPipeline(t, e), "1")

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.ElementsMatch(t, []string{"dataflow.task", "dataflow.task", "dataflow.invoke"}, names)

	var root sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == "dataflow.invoke" {
			root = s
		}
	}
	require.NotNil(t, root)
	assert.Equal(t, codes.Error, root.Status().Code)
	for _, s := range spans {
		if s.Name() == "dataflow.task" {
			assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID())
		}
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewWithConfig(Config{Metrics: metrics.Config{Enabled: true, Registry: reg}})
	m := metrics.For(reg)

	p := failingPipeline(t, e)
	callErr(t, p, "1")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.PipelinesCompiled.WithLabelValues("orders")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Invocations.WithLabelValues("orders", "failure")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.TasksExecuted.WithLabelValues("orders", "direct")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.TasksFailed.WithLabelValues("orders", "direct")))

	_, err := e.Compile(&Descriptor{Name: "broken", InParams: []string{"s"}})
	require.Error(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ValidationErrors.WithLabelValues("broken")))

	fan, err := e.Compile(fanOut(func(s, suff string) string { return s }, TypeDirect))
	require.NoError(t, err)
	mustCall(t, fan, []string{"a", "b", "c"}, "")
	assert.Equal(t, 3.0, promtest.ToFloat64(m.FanOutElements.WithLabelValues("")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Invocations.WithLabelValues("", "success")))
}

func mustGet(v *Vars, name string) any {
	value, err := v.Get(name)
	if err != nil {
		panic(err)
	}
	return value
}
