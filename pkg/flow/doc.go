/*
Package flow is a dataflow pipeline engine.

A Descriptor lists tasks that declare their inputs and outputs by name.
Compile validates the descriptor, including any nested sub-pipelines,
and produces an immutable Pipeline. Each invocation gets a fresh Variable
Context seeded with its arguments; tasks run in declared order, reading
their inputs from the context and writing their single output back.

# Quick Start

	p, err := flow.Compile(&flow.Descriptor{
		InParams: []string{"name"},
		Tasks: []flow.TaskDef{
			{F: strings.ToUpper, A: []string{"name"}, Out: []string{"upper"}},
		},
		OutTask: flow.OutDef{A: []string{"upper"}},
	})
	if err != nil {
		log.Fatal(err) // flow.ValidationErrors lists every problem
	}

	result, err := p.Call(ctx, "gopher")

# Task Types

The type tag selects the calling convention:

  - "" or "ret": the function returns T, error or (T, error).
  - "promise": the function returns a Deferred, such as a *Promise.
  - "cb": the function receives a trailing func(error, T) completion.
  - "arrayMap": the function (or sub-pipeline) runs once per element of the
    input named by ArrIn. Elements run concurrently; results are saved in
    index order and the first error to arrive fails the task.

A function whose first parameter is context.Context receives the
invocation context. Panics inside callables are recovered as task errors.

# Callable References

F may be a Go function or a string:

	"sub:fn1"      a sub-pipeline from Descriptor.Sub
	"format"       a function bound in the Variable Context or the Registry
	"store.Load"   a method on a bound or registered receiver

# Invocation

Invoke follows the continuation style used by the tasks themselves:

	p.Invoke(ctx, []any{"hello"}, func(err error, result any) { ... })

Call wraps Invoke and blocks. Concurrent invocations of one Pipeline
never share state.

# Errors

Compile returns ValidationErrors. Run failures reach the callback as a
*TaskError (or *ElementError for fan-out elements) carrying the failing
task; failures inside sub-pipelines propagate unchanged.
*/
package flow
