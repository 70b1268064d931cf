// Package metrics provides Prometheus instrumentation for dataflow components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for dataflow components.
type Registry struct {
	// Pipeline Metrics
	PipelinesCompiled  *prometheus.CounterVec
	ValidationErrors   *prometheus.CounterVec
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	TasksExecuted      *prometheus.CounterVec
	TasksFailed        *prometheus.CounterVec
	FanOutElements     *prometheus.CounterVec

	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	WorkerPoolQueued *prometheus.GaugeVec
	PoolTasksFailed  *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by dataflow components.
var DefaultRegistry *Registry

var (
	registriesMu sync.Mutex
	registries   = make(map[prometheus.Registerer]*Registry)
)

func init() {
	DefaultRegistry = For(prometheus.DefaultRegisterer)
}

// For returns the Registry bound to reg, creating and registering the
// collectors on first use. Repeated calls with the same registerer share
// one Registry.
func For(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registriesMu.Lock()
	defer registriesMu.Unlock()
	if r, ok := registries[reg]; ok {
		return r
	}
	r := NewRegistry(reg)
	registries[reg] = r
	return r
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
// Prefer For when the registerer may be shared, because registering the
// same collectors twice panics.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		PipelinesCompiled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "pipeline",
				Name:      "compiled_total",
				Help:      "Total number of descriptors compiled successfully",
			},
			[]string{"pipeline"},
		),

		ValidationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "pipeline",
				Name:      "validation_errors_total",
				Help:      "Total number of validation errors reported by the compiler",
			},
			[]string{"pipeline"},
		),

		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "pipeline",
				Name:      "invocations_total",
				Help:      "Total number of pipeline invocations by outcome",
			},
			[]string{"pipeline", "outcome"},
		),

		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "dataflow",
				Subsystem: "pipeline",
				Name:      "invocation_duration_seconds",
				Help:      "Time from invocation start to final callback",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "task",
				Name:      "executed_total",
				Help:      "Total number of tasks started",
			},
			[]string{"pipeline", "kind"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "task",
				Name:      "failed_total",
				Help:      "Total number of tasks that failed",
			},
			[]string{"pipeline", "kind"},
		),

		FanOutElements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "fanout",
				Name:      "elements_total",
				Help:      "Total number of fan-out elements issued",
			},
			[]string{"pipeline"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dataflow",
				Subsystem: "workerpool",
				Name:      "size",
				Help:      "Current worker pool size",
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dataflow",
				Subsystem: "workerpool",
				Name:      "active_workers",
				Help:      "Number of active workers",
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dataflow",
				Subsystem: "workerpool",
				Name:      "queued_tasks",
				Help:      "Number of queued tasks",
			},
			[]string{"pool_name"},
		),

		PoolTasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dataflow",
				Subsystem: "workerpool",
				Name:      "tasks_failed_total",
				Help:      "Total number of pool tasks that returned an error or panicked",
			},
			[]string{"pool_name"},
		),
	}
}
