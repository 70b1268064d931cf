/*
Package dataflow is a dataflow pipeline engine for Go.

A pipeline is described as an ordered list of tasks, each naming the
variables it reads and the single variable it writes. The engine compiles
the description, reporting every problem at once, and runs it with a
fresh Variable Context per invocation.

Pipeline Engine (pkg/flow):
  - Direct, promise and callback calling conventions
  - Array fan-out with results kept in input order
  - Named sub-pipelines with isolated scopes
  - YAML descriptors resolved against a callable Registry
  - Compile observers and failure enrichers

Supporting packages:
  - pkg/scheduling/workerpool: bounded pool for fan-out elements
  - pkg/metrics: Prometheus instrumentation
  - pkg/common: shared errors, validation and context helpers

Example usage:

	import "github.com/vnykmshr/dataflow/pkg/flow"

	p, err := flow.Compile(&flow.Descriptor{
		InParams: []string{"name"},
		Tasks: []flow.TaskDef{
			{F: strings.ToUpper, A: []string{"name"}, Out: []string{"upper"}},
		},
		OutTask: flow.OutDef{A: []string{"upper"}},
	})
	if err != nil {
		log.Fatal(err)
	}
	result, err := p.Call(ctx, "gopher")

Tracing uses the global OpenTelemetry provider unless flow.Config.Tracer
is set.
*/
package dataflow
