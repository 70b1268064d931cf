// Package metrics provides Prometheus instrumentation for dataflow components.
//
// Metrics are off unless a component is given a Config with Enabled set.
//
//	reg := prometheus.NewRegistry()
//	engine := flow.NewWithConfig(flow.Config{
//		Metrics: metrics.Config{Enabled: true, Registry: reg},
//	})
//
// # Available Metrics
//
//   - dataflow_pipeline_compiled_total: descriptors compiled successfully
//   - dataflow_pipeline_validation_errors_total: validation errors reported
//   - dataflow_pipeline_invocations_total: invocations labelled by outcome (success, failure)
//   - dataflow_pipeline_invocation_duration_seconds: invocation latency
//   - dataflow_task_executed_total: tasks started, labelled by kind
//   - dataflow_task_failed_total: tasks failed, labelled by kind
//   - dataflow_fanout_elements_total: fan-out elements issued
//   - dataflow_workerpool_size, dataflow_workerpool_active_workers, dataflow_workerpool_queued_tasks
//   - dataflow_workerpool_tasks_failed_total
//
// Registries are cached per prometheus.Registerer, so several engines may
// share one registerer without duplicate registration panics.
package metrics
