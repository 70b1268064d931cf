package flow

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/vnykmshr/dataflow/pkg/common/validation"
)

const subPrefix = "sub:"

// Callable is the compiled form of a task's f field. It is one of
// FuncCallable, NamedLookup, MethodLookup or SubPipelineRef.
type Callable interface {
	describe() string
}

// FuncCallable is a Go function known at compile time, either supplied
// directly or found in the Registry.
type FuncCallable struct {
	Fn any
}

// NamedLookup names a function bound in the Variable Context.
type NamedLookup struct {
	Name string
}

// MethodLookup is the dotted "receiver.method" form.
type MethodLookup struct {
	Receiver string
	Method   string
}

// SubPipelineRef is the "sub:<name>" form.
type SubPipelineRef struct {
	Name string
}

func (c FuncCallable) describe() string   { return funcName(reflect.ValueOf(c.Fn)) }
func (c NamedLookup) describe() string    { return c.Name }
func (c MethodLookup) describe() string   { return c.Receiver + "." + c.Method }
func (c SubPipelineRef) describe() string { return subPrefix + c.Name }

// ParseCallable classifies a raw f value.
func ParseCallable(f any) (Callable, error) {
	switch v := f.(type) {
	case nil:
		return nil, validation.ValidateNotNil(module, "f", nil)
	case string:
		if err := validation.ValidateNotEmpty(module, "f", v); err != nil {
			return nil, err
		}
		if name, ok := strings.CutPrefix(v, subPrefix); ok {
			if err := validation.ValidateNotEmpty(module, "f", name); err != nil {
				return nil, err
			}
			return SubPipelineRef{Name: name}, nil
		}
		if recv, method, ok := strings.Cut(v, "."); ok {
			if recv == "" || method == "" {
				return nil, fmt.Errorf("%w: malformed method reference %q", ErrUnknownCallable, v)
			}
			return MethodLookup{Receiver: recv, Method: method}, nil
		}
		return NamedLookup{Name: v}, nil
	default:
		rv := reflect.ValueOf(f)
		if rv.Kind() != reflect.Func || rv.IsNil() {
			return nil, fmt.Errorf("%w: f must be a function or string, got %T", ErrSignature, f)
		}
		return FuncCallable{Fn: f}, nil
	}
}

// Registry maps names to functions and method receivers so that string
// references in descriptors can be resolved without reflection over
// arbitrary program state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Register binds name to a function or receiver value.
func (r *Registry) Register(name string, value any) error {
	if err := validation.ValidateNotEmpty("registry", "name", name); err != nil {
		return err
	}
	if err := validation.ValidateNotNil("registry", name, value); err != nil {
		return err
	}
	if strings.Contains(name, ".") || strings.HasPrefix(name, subPrefix) {
		return fmt.Errorf("registry: name %q may not contain '.' or start with %q", name, subPrefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = value
	return nil
}

// MustRegister is like Register but panics on error. It returns r for chaining.
func (r *Registry) MustRegister(name string, value any) *Registry {
	if err := r.Register(name, value); err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the value registered under name. A nil Registry is empty.
func (r *Registry) Lookup(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convention is how a callable reports its outcome.
type convention int

const (
	convDirect convention = iota
	convDeferred
	convCallback
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	deferredType = reflect.TypeOf((*Deferred)(nil)).Elem()
)

// signature records how to call a function for one convention.
type signature struct {
	withCtx  bool
	errOnly  bool // direct call returning only error
	hasValue bool
	hasErr   bool
}

func bindSignature(conv convention, t reflect.Type, nargs int) (signature, error) {
	var sig signature
	in := t.NumIn()

	want := nargs
	if conv == convCallback {
		if t.IsVariadic() {
			return sig, fmt.Errorf("%w: callback function may not be variadic", ErrSignature)
		}
		want++
	}

	fits := func(first int) bool {
		have := in - first
		if t.IsVariadic() {
			return want >= have-1
		}
		return want == have
	}

	switch {
	case in > 0 && t.In(0) == contextType && fits(1):
		sig.withCtx = true
	case fits(0):
	default:
		return sig, fmt.Errorf("%w: %s takes %d parameters, descriptor supplies %d arguments", ErrSignature, t, in, nargs)
	}

	out := t.NumOut()
	switch conv {
	case convDirect:
		switch {
		case out == 0:
		case out == 1 && t.Out(0) == errorType:
			sig.errOnly, sig.hasErr = true, true
		case out == 1:
			sig.hasValue = true
		case out == 2 && t.Out(1) == errorType:
			sig.hasValue, sig.hasErr = true, true
		default:
			return sig, fmt.Errorf("%w: %s must return T, error or (T, error)", ErrSignature, t)
		}
	case convDeferred:
		if out < 1 || out > 2 || (out == 2 && t.Out(1) != errorType) || !t.Out(0).Implements(deferredType) {
			return sig, fmt.Errorf("%w: %s must return a Deferred or (Deferred, error)", ErrSignature, t)
		}
		sig.hasValue, sig.hasErr = true, out == 2
	case convCallback:
		cb := t.In(in - 1)
		if cb.Kind() != reflect.Func || cb.NumIn() != 2 || cb.In(0) != errorType || cb.NumOut() != 0 {
			return sig, fmt.Errorf("%w: last parameter of %s must be func(error, T)", ErrSignature, t)
		}
		switch {
		case out == 0:
		case out == 1 && t.Out(0) == errorType:
			sig.hasErr = true
		default:
			return sig, fmt.Errorf("%w: %s may only return error", ErrSignature, t)
		}
	}
	return sig, nil
}

// target is a callable ready to run. Static targets were fully resolved
// by the compiler; dynamic ones are looked up in the Variable Context on
// every call.
type target struct {
	callable Callable
	conv     convention
	nargs    int

	static bool
	fn     reflect.Value
	sig    signature
}

func newStaticTarget(c Callable, fn reflect.Value, conv convention, nargs int) (*target, error) {
	sig, err := bindSignature(conv, fn.Type(), nargs)
	if err != nil {
		return nil, err
	}
	return &target{callable: c, conv: conv, nargs: nargs, static: true, fn: fn, sig: sig}, nil
}

func (t *target) bind(vars *Vars) (reflect.Value, signature, error) {
	if t.static {
		return t.fn, t.sig, nil
	}

	var fn reflect.Value
	switch c := t.callable.(type) {
	case NamedLookup:
		v, err := vars.Get(c.Name)
		if err != nil {
			return fn, signature{}, err
		}
		fn = reflect.ValueOf(v)
		if fn.Kind() != reflect.Func || fn.IsNil() {
			return fn, signature{}, fmt.Errorf("%w: %q is bound to %T, not a function", ErrSignature, c.Name, v)
		}
	case MethodLookup:
		recv, err := vars.Get(c.Receiver)
		if err != nil {
			return fn, signature{}, err
		}
		if fn, err = methodOf(recv, c.Method); err != nil {
			return fn, signature{}, err
		}
	default:
		return fn, signature{}, fmt.Errorf("%w: %s cannot be resolved at run time", ErrUnknownCallable, t.callable.describe())
	}

	sig, err := bindSignature(t.conv, fn.Type(), t.nargs)
	return fn, sig, err
}

// methodOf finds name on recv, first as a Go method and then as a map key.
func methodOf(recv any, name string) (reflect.Value, error) {
	rv := reflect.ValueOf(recv)
	if !rv.IsValid() {
		return rv, fmt.Errorf("%w: receiver for method %q is nil", ErrUnknownCallable, name)
	}
	if m := rv.MethodByName(name); m.IsValid() {
		return m, nil
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		e := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if e.IsValid() && e.Kind() == reflect.Interface {
			e = e.Elem()
		}
		if e.IsValid() && e.Kind() == reflect.Func && !e.IsNil() {
			return e, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: %T has no method %q", ErrUnknownCallable, recv, name)
}

// call invokes fn and converts a panic into an error. Once settled
// reports true the completion has already run the rest of the pipeline
// inside fn, so a later panic belongs to that code and is re-raised.
func call(ctx context.Context, fn reflect.Value, sig signature, args []any, settled func() bool, extra ...reflect.Value) (outs []reflect.Value, err error) {
	t := fn.Type()
	in := make([]reflect.Value, 0, len(args)+2)
	if sig.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for i, arg := range args {
		pt := paramType(t, len(in))
		av, err := argValue(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, av)
	}
	in = append(in, extra...)

	defer func() {
		if r := recover(); r != nil {
			if settled != nil && settled() {
				panic(r)
			}
			err = fmt.Errorf("callable panicked: %v", r)
		}
	}()
	return fn.Call(in), nil
}

func paramType(t reflect.Type, i int) reflect.Type {
	if t.IsVariadic() && i >= t.NumIn()-1 {
		return t.In(t.NumIn() - 1).Elem()
	}
	return t.In(i)
}

func argValue(arg any, pt reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch pt.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(pt), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: cannot use nil as %s", ErrSignature, pt)
	}
	av := reflect.ValueOf(arg)
	if !av.Type().AssignableTo(pt) {
		return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrSignature, arg, pt)
	}
	return av, nil
}

func errorOf(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

func funcName(fn reflect.Value) string {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return "<nil>"
	}
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return fn.Type().String()
	}
	name := rf.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
