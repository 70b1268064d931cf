package flow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/vnykmshr/dataflow/pkg/scheduling/workerpool"
)

// fanOutTask runs its invoker once per element of the arrIn input, with
// the element substituted for that argument, and saves the results in
// index order.
type fanOutTask struct {
	taskBase
	arrIndex int
	pool     workerpool.Pool
}

func (t *fanOutTask) Exec(ctx context.Context, vars *Vars, onFailure FailureFunc, proceed func()) {
	args, err := t.gather(vars)
	if err != nil {
		onFailure(t, err)
		return
	}

	seq := reflect.ValueOf(args[t.arrIndex])
	if seq.Kind() != reflect.Slice && seq.Kind() != reflect.Array {
		onFailure(t, fmt.Errorf("%w: %s is %T", ErrNotSequence, t.in[t.arrIndex], args[t.arrIndex]))
		return
	}

	n := seq.Len()
	if n == 0 {
		vars.Save(t.out, []any{[]any{}})
		proceed()
		return
	}
	if m := t.owner.engine.metrics; m != nil {
		m.FanOutElements.WithLabelValues(t.owner.name).Add(float64(n))
	}

	j := &joiner{
		task:      t,
		results:   make([]any, n),
		remaining: n,
		detach:    t.pool != nil,
		onFailure: onFailure,
		onDone: func(results []any) {
			vars.Save(t.out, []any{results})
			proceed()
		},
	}

	for i := 0; i < n; i++ {
		elemArgs := append([]any(nil), args...)
		elemArgs[t.arrIndex] = seq.Index(i).Interface()
		report := t.once(func(values []any, err error) { j.report(i, values, err) })
		t.dispatch(ctx, func() { t.inv.invoke(ctx, vars, elemArgs, report) }, report)
	}
}

// dispatch issues one element, on the pool when configured. Submission
// happens on its own goroutine: Exec may itself be running on a pool
// worker, and a worker blocked on a full pool never frees up.
func (t *fanOutTask) dispatch(ctx context.Context, run func(), report completion) {
	if t.pool == nil {
		go run()
		return
	}
	go func() {
		err := t.pool.SubmitWithContext(ctx, workerpool.TaskFunc(func(context.Context) error {
			run()
			return nil
		}))
		if err != nil {
			report(nil, err)
		}
	}()
}

// joiner buffers element results by index. The first error wins; results
// arriving after it are discarded. With detach set the pipeline resumes
// on a fresh goroutine so the rest of the run never holds a pool worker.
type joiner struct {
	task      *fanOutTask
	mu        sync.Mutex
	results   []any
	remaining int
	failed    bool
	detach    bool
	onFailure FailureFunc
	onDone    func(results []any)
}

func (j *joiner) report(index int, values []any, err error) {
	j.mu.Lock()
	if j.failed || j.remaining == 0 {
		j.mu.Unlock()
		return
	}
	if err != nil {
		j.failed = true
		j.mu.Unlock()
		eerr := &ElementError{Index: index, Err: asTaskError(j.task, err)}
		j.resume(func() { j.onFailure(j.task, eerr) })
		return
	}
	if len(values) > 0 {
		j.results[index] = values[0]
	}
	j.remaining--
	finished := j.remaining == 0
	j.mu.Unlock()

	if finished {
		j.resume(func() { j.onDone(j.results) })
	}
}

func (j *joiner) resume(fn func()) {
	if j.detach {
		go fn()
		return
	}
	fn()
}
