package flow

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnykmshr/dataflow/pkg/metrics"
	"github.com/vnykmshr/dataflow/pkg/scheduling/workerpool"
)

const instrumentationName = "github.com/vnykmshr/dataflow/pkg/flow"

// Config holds engine configuration options.
type Config struct {
	// Registry resolves string f references that are not bound in the
	// Variable Context.
	Registry *Registry

	// Observer is notified after each successful Compile.
	Observer Observer

	// Enricher decorates the error of a failed run.
	Enricher Enricher

	// Logger receives compile failures, run failures and ignored
	// duplicate completions. Nil discards.
	Logger Logger

	// Metrics enables Prometheus instrumentation.
	Metrics metrics.Config

	// Tracer creates invocation and task spans. Nil uses the global
	// OpenTelemetry tracer provider.
	Tracer trace.Tracer

	// FanOutPool runs fan-out elements. Nil starts one goroutine per element.
	FanOutPool workerpool.Pool
}

// Engine compiles descriptors into Pipelines that share its configuration.
// An Engine holds no per-pipeline state and is safe for concurrent use.
type Engine struct {
	config  Config
	logger  Logger
	metrics *metrics.Registry
	tracer  trace.Tracer
}

// New creates an engine with default configuration.
func New() *Engine {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an engine with the specified configuration.
func NewWithConfig(config Config) *Engine {
	e := &Engine{
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics.Resolve(),
		tracer:  config.Tracer,
	}
	if e.logger == nil {
		e.logger = NopLogger()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	return e
}

// Compile validates d with a default engine and returns the executable Pipeline.
func Compile(d *Descriptor) (*Pipeline, error) {
	return New().Compile(d)
}
