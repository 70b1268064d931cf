package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ctxutil "github.com/vnykmshr/dataflow/pkg/common/context"
	dferrors "github.com/vnykmshr/dataflow/pkg/common/errors"
)

// Callback receives the outcome of an invocation: an error or a result, never both.
type Callback func(err error, result any)

// Pipeline is a compiled, immutable task sequence. Invocations are
// independent and may run concurrently.
type Pipeline struct {
	name      string
	inParams  []string
	tasks     []Task
	outParams []string
	subs      map[string]*Pipeline
	engine    *Engine
}

// Name returns the pipeline label.
func (p *Pipeline) Name() string { return p.name }

// InParams returns the names invocation arguments are bound to.
func (p *Pipeline) InParams() []string { return append([]string(nil), p.inParams...) }

// OutParams returns the names read to build the result.
func (p *Pipeline) OutParams() []string { return append([]string(nil), p.outParams...) }

// Tasks returns the compiled tasks in execution order.
func (p *Pipeline) Tasks() []Task { return append([]Task(nil), p.tasks...) }

// Sub returns the compiled sub-pipeline registered under name, or nil.
func (p *Pipeline) Sub(name string) *Pipeline { return p.subs[name] }

// SubNames returns the sub-pipeline names in sorted order.
func (p *Pipeline) SubNames() []string {
	names := make([]string, 0, len(p.subs))
	for name := range p.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the pipeline and waits for its outcome. If ctx ends first
// Call returns immediately; the run itself stops before its next task.
func (p *Pipeline) Call(ctx context.Context, args ...any) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	p.Invoke(ctx, args, func(err error, result any) {
		ch <- outcome{result: result, err: err}
	})

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", dferrors.ErrCanceled, ctx.Err())
	}
}

// Invoke starts a run with args bound to InParams. cb is called exactly
// once, possibly before Invoke returns when every task completes
// synchronously.
func (p *Pipeline) Invoke(ctx context.Context, args []any, cb Callback) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cb == nil {
		cb = func(error, any) {}
	}

	r := &run{
		p:     p,
		id:    uuid.NewString(),
		start: time.Now(),
		cb:    cb,
	}
	r.ctx, r.span = p.engine.tracer.Start(ctx, "dataflow.invoke", trace.WithAttributes(
		attribute.String("dataflow.pipeline", p.name),
		attribute.String("dataflow.invocation_id", r.id),
		attribute.Int("dataflow.task_count", len(p.tasks)),
	))
	r.logger = p.engine.logger.With(
		Field{Key: "pipeline", Value: p.name},
		Field{Key: "invocation_id", Value: r.id},
	)

	if len(args) != len(p.inParams) {
		r.finish(fmt.Errorf("%w: pipeline %q expects %d arguments, got %d",
			ErrArgumentCount, p.name, len(p.inParams), len(args)), nil)
		return
	}
	r.vars = newVars(p.inParams, args)
	r.advance()
}

// run is the continuation driver of one invocation.
type run struct {
	p      *Pipeline
	id     string
	ctx    context.Context
	span   trace.Span
	vars   *Vars
	logger Logger
	start  time.Time
	cb     Callback

	pos      int
	finished sync.Once
}

// step tracks whether proceed was called while Exec was still on the
// stack, so synchronous tasks advance in a loop instead of recursing.
type step struct {
	mu      sync.Mutex
	inExec  bool
	resumed bool
	settled int32
}

func (r *run) advance() {
	for {
		if ctxutil.IsCanceled(r.ctx) {
			r.finish(fmt.Errorf("%w: %w", dferrors.ErrCanceled, r.ctx.Err()), nil)
			return
		}
		if r.pos == len(r.p.tasks) {
			r.complete()
			return
		}

		index := r.pos
		t := r.p.tasks[index]
		r.pos++

		if m := r.p.engine.metrics; m != nil {
			m.TasksExecuted.WithLabelValues(r.p.name, t.Kind().String()).Inc()
		}
		tctx, span := r.p.engine.tracer.Start(r.ctx, "dataflow.task", trace.WithAttributes(
			attribute.String("dataflow.task", t.Name()),
			attribute.String("dataflow.task_kind", t.Kind().String()),
			attribute.Int("dataflow.task_index", index),
		))

		s := &step{inExec: true}
		proceed := func() {
			if !atomic.CompareAndSwapInt32(&s.settled, 0, 1) {
				r.logger.Info(r.ctx, "duplicate proceed ignored", Field{Key: "task", Value: t.Name()})
				return
			}
			span.End()
			s.mu.Lock()
			if s.inExec {
				s.resumed = true
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			r.advance()
		}
		onFailure := func(failed Task, err error) {
			if !atomic.CompareAndSwapInt32(&s.settled, 0, 1) {
				r.logger.Info(r.ctx, "late failure ignored", Field{Key: "task", Value: t.Name()}, Field{Key: "error", Value: err})
				return
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			r.fail(failed, err)
		}

		t.Exec(tctx, r.vars, onFailure, proceed)

		s.mu.Lock()
		s.inExec = false
		again := s.resumed
		s.mu.Unlock()
		if !again {
			return
		}
	}
}

func (r *run) complete() {
	values := make([]any, len(r.p.outParams))
	for i, name := range r.p.outParams {
		v, err := r.vars.Get(name)
		if err != nil {
			r.finish(err, nil)
			return
		}
		values[i] = v
	}

	switch len(values) {
	case 0:
		r.finish(nil, nil)
	case 1:
		r.finish(nil, values[0])
	default:
		r.finish(nil, values)
	}
}

func (r *run) fail(task Task, err error) {
	var terr *TaskError
	if !errors.As(err, &terr) {
		err = &TaskError{Task: task, Cause: err}
	}
	err = r.p.engine.enrich(task, err, r.vars)

	if m := r.p.engine.metrics; m != nil {
		m.TasksFailed.WithLabelValues(r.p.name, task.Kind().String()).Inc()
	}
	r.finish(err, nil)
}

func (r *run) finish(err error, result any) {
	r.finished.Do(func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, err.Error())
			r.logger.Error(r.ctx, "invocation failed", err,
				Field{Key: "timed_out", Value: ctxutil.IsTimedOut(r.ctx)})
		}
		r.span.End()

		if m := r.p.engine.metrics; m != nil {
			m.Invocations.WithLabelValues(r.p.name, outcome).Inc()
			m.InvocationDuration.WithLabelValues(r.p.name).Observe(time.Since(r.start).Seconds())
		}

		if err != nil {
			r.cb(err, nil)
			return
		}
		r.cb(nil, result)
	})
}

func asTaskError(task Task, err error) *TaskError {
	var terr *TaskError
	if errors.As(err, &terr) {
		return terr
	}
	return &TaskError{Task: task, Cause: err}
}
