package workerpool

import (
	"context"

	"github.com/vnykmshr/dataflow/pkg/metrics"
)

// MetricsPool wraps a worker Pool with Prometheus metrics collection.
type MetricsPool struct {
	Pool
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a worker pool that reports gauges under name.
// A disabled metrics config returns the plain pool.
func NewWithMetrics(config Config, name string, metricsConfig metrics.Config) Pool {
	registry := metricsConfig.Resolve()
	if registry == nil {
		return NewWithConfig(config)
	}

	mp := &MetricsPool{name: name, registry: registry}

	userHook := config.OnTaskComplete
	config.OnTaskComplete = func(workerID int, result Result) {
		if result.Error != nil {
			registry.PoolTasksFailed.WithLabelValues(name).Inc()
		}
		if userHook != nil {
			userHook(workerID, result)
		}
		mp.updateMetrics()
	}

	mp.Pool = NewWithConfig(config)
	mp.updateMetrics()
	return mp
}

// updateMetrics updates the current state metrics.
func (mp *MetricsPool) updateMetrics() {
	mp.registry.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.Pool.Size()))
	mp.registry.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.Pool.ActiveWorkers()))
	mp.registry.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.Pool.QueueSize()))
}

// Submit adds a task to the pool for execution.
func (mp *MetricsPool) Submit(task Task) error {
	return mp.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext submits a task and refreshes the queue gauges.
func (mp *MetricsPool) SubmitWithContext(ctx context.Context, task Task) error {
	err := mp.Pool.SubmitWithContext(ctx, task)
	mp.updateMetrics()
	return err
}
