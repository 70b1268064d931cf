package flow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
)

// Kind is the execution variant of a compiled task.
type Kind int

const (
	KindDirect Kind = iota
	KindDeferred
	KindCallback
	KindFanOut
	KindSubPipeline
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindDeferred:
		return "promise"
	case KindCallback:
		return "cb"
	case KindFanOut:
		return "arrayMap"
	case KindSubPipeline:
		return "sub"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// FailureFunc halts the pipeline with the failing task and its error.
type FailureFunc func(task Task, err error)

// Task is one compiled step of a Pipeline.
//
// Exec reads the task's inputs from vars and starts the work. On success
// it saves the result and calls proceed exactly once; otherwise it calls
// onFailure exactly once and never calls proceed.
type Task interface {
	Exec(ctx context.Context, vars *Vars, onFailure FailureFunc, proceed func())

	Kind() Kind
	Name() string
	Inputs() []string
	Outputs() []string
}

// completion receives the values produced by one call of a callable.
type completion func(values []any, err error)

// invoker adapts one calling convention to a completion.
type invoker interface {
	invoke(ctx context.Context, vars *Vars, args []any, done completion)
}

type taskBase struct {
	kind   Kind
	name   string
	in     []string
	out    []string
	inv    invoker
	owner  *Pipeline
	logger Logger
}

func (t *taskBase) Kind() Kind        { return t.kind }
func (t *taskBase) Name() string      { return t.name }
func (t *taskBase) Inputs() []string  { return append([]string(nil), t.in...) }
func (t *taskBase) Outputs() []string { return append([]string(nil), t.out...) }

func (t *taskBase) String() string {
	return fmt.Sprintf("%s(%s) -> [%s]", t.name, strings.Join(t.in, ","), strings.Join(t.out, ","))
}

func (t *taskBase) gather(vars *Vars) ([]any, error) {
	args := make([]any, len(t.in))
	for i, name := range t.in {
		v, err := vars.Get(name)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// once guards done so that callables which report twice cannot
// advance the pipeline twice.
func (t *taskBase) once(done completion) completion {
	var fired int32
	return func(values []any, err error) {
		if !atomic.CompareAndSwapInt32(&fired, 0, 1) {
			t.logger.Info(context.Background(), "duplicate completion ignored",
				Field{Key: "task", Value: t.name},
				Field{Key: "pipeline", Value: t.owner.name})
			return
		}
		done(values, err)
	}
}

// callTask runs its invoker once with the gathered arguments. It backs
// the direct, promise, callback and sub-pipeline variants.
type callTask struct {
	taskBase
}

func (t *callTask) Exec(ctx context.Context, vars *Vars, onFailure FailureFunc, proceed func()) {
	args, err := t.gather(vars)
	if err != nil {
		onFailure(t, err)
		return
	}
	t.inv.invoke(ctx, vars, args, t.once(func(values []any, err error) {
		if err != nil {
			onFailure(t, err)
			return
		}
		vars.Save(t.out, values)
		proceed()
	}))
}

type directCall struct {
	target *target
}

func (d *directCall) invoke(ctx context.Context, vars *Vars, args []any, done completion) {
	fn, sig, err := d.target.bind(vars)
	if err != nil {
		done(nil, err)
		return
	}
	outs, err := call(ctx, fn, sig, args, nil)
	if err != nil {
		done(nil, err)
		return
	}
	switch {
	case sig.errOnly:
		done(nil, errorOf(outs[0]))
	case sig.hasValue && sig.hasErr:
		if err := errorOf(outs[1]); err != nil {
			done(nil, err)
			return
		}
		done([]any{outs[0].Interface()}, nil)
	case sig.hasValue:
		done([]any{outs[0].Interface()}, nil)
	default:
		done(nil, nil)
	}
}

type deferredCall struct {
	target *target
}

func (d *deferredCall) invoke(ctx context.Context, vars *Vars, args []any, done completion) {
	fn, sig, err := d.target.bind(vars)
	if err != nil {
		done(nil, err)
		return
	}
	outs, err := call(ctx, fn, sig, args, nil)
	if err != nil {
		done(nil, err)
		return
	}
	if sig.hasErr {
		if err := errorOf(outs[1]); err != nil {
			done(nil, err)
			return
		}
	}

	dv := outs[0]
	if isNil(dv) {
		done(nil, ErrNilDeferred)
		return
	}
	deferred, ok := dv.Interface().(Deferred)
	if !ok {
		done(nil, fmt.Errorf("%w: got %s", ErrNotDeferred, dv.Type()))
		return
	}

	var settled atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if settled.Load() {
				panic(r)
			}
			done(nil, fmt.Errorf("deferred panicked: %v", r))
		}
	}()
	deferred.Then(
		func(values ...any) {
			settled.Store(true)
			done(values, nil)
		},
		func(err error) {
			if err == nil {
				err = ErrNilRejection
			}
			settled.Store(true)
			done(nil, err)
		},
	)
}

type callbackCall struct {
	target *target
}

func (c *callbackCall) invoke(ctx context.Context, vars *Vars, args []any, done completion) {
	fn, sig, err := c.target.bind(vars)
	if err != nil {
		done(nil, err)
		return
	}

	var settled atomic.Bool
	cbType := fn.Type().In(fn.Type().NumIn() - 1)
	cb := reflect.MakeFunc(cbType, func(in []reflect.Value) []reflect.Value {
		settled.Store(true)
		if err := errorOf(in[0]); err != nil {
			done(nil, err)
			return nil
		}
		done([]any{in[1].Interface()}, nil)
		return nil
	})

	outs, err := call(ctx, fn, sig, args, settled.Load, cb)
	if err != nil {
		done(nil, err)
		return
	}
	if sig.hasErr {
		if err := errorOf(outs[0]); err != nil {
			done(nil, err)
		}
	}
}

type subCall struct {
	pipeline *Pipeline
}

func (s *subCall) invoke(ctx context.Context, vars *Vars, args []any, done completion) {
	s.pipeline.Invoke(ctx, args, func(err error, result any) {
		if err != nil {
			done(nil, err)
			return
		}
		done([]any{result}, nil)
	})
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
