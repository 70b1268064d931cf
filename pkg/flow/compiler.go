package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	dferrors "github.com/vnykmshr/dataflow/pkg/common/errors"
	"github.com/vnykmshr/dataflow/pkg/common/validation"
)

// Compile validates d and returns the executable Pipeline. When d is
// invalid the returned error is a ValidationErrors holding every problem
// found, and the Pipeline is nil.
func (e *Engine) Compile(d *Descriptor) (*Pipeline, error) {
	name := ""
	if d != nil {
		name = d.Name
	}

	p, errs := e.compile(d, name, "")
	if len(errs) > 0 {
		if e.metrics != nil {
			e.metrics.ValidationErrors.WithLabelValues(name).Add(float64(len(errs)))
		}
		e.logger.Info(context.Background(), "descriptor rejected",
			Field{Key: "pipeline", Value: name},
			Field{Key: "errors", Value: len(errs)})
		return nil, errs
	}

	if e.metrics != nil {
		e.metrics.PipelinesCompiled.WithLabelValues(name).Inc()
	}
	e.notifyCompiled(CompileEvent{Pipeline: p, Descriptor: d})
	return p, nil
}

// Validate returns every problem found in d. An empty result means d compiles.
func (e *Engine) Validate(d *Descriptor) ValidationErrors {
	name := ""
	if d != nil {
		name = d.Name
	}
	_, errs := e.compile(d, name, "")
	return errs
}

// compile checks one descriptor scope. Names bound in a parent scope
// are not visible inside a sub-pipeline.
func (e *Engine) compile(d *Descriptor, name, path string) (*Pipeline, ValidationErrors) {
	var errs ValidationErrors
	if d == nil {
		errs.add(path+"descriptor", nil, "cannot be nil")
		return nil, errs
	}

	p := &Pipeline{
		name:      name,
		inParams:  append([]string(nil), d.InParams...),
		outParams: append([]string(nil), d.OutTask.A...),
		subs:      make(map[string]*Pipeline, len(d.Sub)),
		engine:    e,
	}

	bound := make(map[string]bool, len(d.InParams))
	for i, param := range d.InParams {
		field := fmt.Sprintf("%sinParams[%d]", path, i)
		if err := validation.ValidateNotEmpty(module, field, param); err != nil {
			errs.addErr(err)
			continue
		}
		if bound[param] {
			errs.add(field, param, "is declared twice")
			continue
		}
		bound[param] = true
	}

	subNames := make([]string, 0, len(d.Sub))
	for subName := range d.Sub {
		subNames = append(subNames, subName)
	}
	sort.Strings(subNames)
	for _, subName := range subNames {
		sd := d.Sub[subName]
		label := subName
		if sd != nil && sd.Name != "" {
			label = sd.Name
		}
		sp, serrs := e.compile(sd, label, fmt.Sprintf("%ssub.%s.", path, subName))
		errs = append(errs, serrs...)
		if sp != nil {
			p.subs[subName] = sp
		}
	}

	for i, td := range d.Tasks {
		field := fmt.Sprintf("%stasks[%d]", path, i)
		t, terrs := e.compileTask(p, d, td, field, bound)
		errs = append(errs, terrs...)
		if t != nil {
			p.tasks = append(p.tasks, t)
		}
		for _, out := range td.Out {
			if out != "" {
				bound[out] = true
			}
		}
	}

	if d.OutTask.A == nil {
		errs.add(path+"outTask.a", nil, "is required").
			WithHint("list the variables the pipeline returns, or use an empty list")
	}
	for i, out := range d.OutTask.A {
		if !bound[out] {
			errs.add(fmt.Sprintf("%soutTask.a[%d]", path, i), out, "is not bound").
				WithHint("declare it in inParams or produce it from a task")
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return p, nil
}

func (e *Engine) compileTask(p *Pipeline, d *Descriptor, td TaskDef, field string, bound map[string]bool) (Task, ValidationErrors) {
	var errs ValidationErrors

	if td.F == nil || td.A == nil || td.Out == nil {
		errs.add(field, td.String(), "requires f, a, out")
		return nil, errs
	}

	callable, err := ParseCallable(td.F)
	if err != nil {
		errs.add(field+".f", td.String(), reasonOf(err)).
			WithHint("f must be a function or a non-empty string")
	}

	for j, name := range td.A {
		argField := fmt.Sprintf("%s.a[%d]", field, j)
		if name == "" {
			errs.add(argField, name, "cannot be empty")
		} else if !bound[name] {
			errs.add(argField, name, "is not bound").
				WithHint("declare it in inParams or produce it from an earlier task")
		}
	}

	if err := validation.ValidateAtMost(module, field+".out", td.Out, 1); err != nil {
		errs.addErr(err)
	}
	for j, name := range td.Out {
		if name == "" {
			errs.add(fmt.Sprintf("%s.out[%d]", field, j), name, "cannot be empty")
		}
	}

	kind, conv, ok := parseType(td.Type)
	if !ok {
		errs.add(field+".type", td.Type, "is not a known task type").
			WithHint("use ret, cb, promise or arrayMap")
	}

	arrIndex := -1
	if kind == KindFanOut {
		for j, name := range td.A {
			if name == td.ArrIn {
				arrIndex = j
				break
			}
		}
		if arrIndex < 0 {
			errs.add(field+".arrIn", td.ArrIn, "must name one of the task's a entries")
		}
		var elemOK bool
		if conv, elemOK = parseElemType(td.ElemType); !elemOK {
			errs.add(field+".elemType", td.ElemType, "is not a valid element convention").
				WithHint("use ret, cb or promise")
		}
	} else if td.ArrIn != "" {
		errs.add(field+".arrIn", td.ArrIn, "is only valid for arrayMap tasks")
	}

	if len(errs) > 0 {
		return nil, errs
	}

	base := taskBase{
		kind:   kind,
		in:     append([]string(nil), td.A...),
		out:    append([]string(nil), td.Out...),
		owner:  p,
		logger: e.logger,
		name:   td.Name,
	}
	if base.name == "" {
		base.name = callable.describe()
	}

	if ref, isSub := callable.(SubPipelineRef); isSub {
		if _, declared := d.Sub[ref.Name]; declared && p.subs[ref.Name] == nil {
			// The sub-pipeline's own errors are already reported.
			return nil, errs
		}
	}

	inv, err := e.bindInvoker(p, callable, conv, len(td.A), bound)
	if err != nil {
		errs.add(field+".f", td.String(), reasonOf(err))
		return nil, errs
	}
	base.inv = inv

	if _, isSub := callable.(SubPipelineRef); isSub && kind != KindFanOut {
		base.kind = KindSubPipeline
	}
	if kind == KindFanOut {
		return &fanOutTask{taskBase: base, arrIndex: arrIndex, pool: e.config.FanOutPool}, nil
	}
	return &callTask{taskBase: base}, nil
}

// bindInvoker resolves callable as far as compile time allows. Names
// bound in the Variable Context shadow Registry entries and are looked
// up on every call.
func (e *Engine) bindInvoker(p *Pipeline, callable Callable, conv convention, nargs int, bound map[string]bool) (invoker, error) {
	var t *target
	var err error

	switch c := callable.(type) {
	case SubPipelineRef:
		sub := p.subs[c.Name]
		if sub == nil {
			return nil, fmt.Errorf("%w: no sub-pipeline named %q", ErrUnknownCallable, c.Name)
		}
		if len(sub.inParams) != nargs {
			return nil, fmt.Errorf("%w: sub-pipeline %q takes %d arguments, descriptor supplies %d",
				ErrSignature, c.Name, len(sub.inParams), nargs)
		}
		return &subCall{pipeline: sub}, nil

	case FuncCallable:
		t, err = newStaticTarget(c, reflect.ValueOf(c.Fn), conv, nargs)

	case NamedLookup:
		if bound[c.Name] {
			t = &target{callable: c, conv: conv, nargs: nargs}
			break
		}
		v, ok := e.config.Registry.Lookup(c.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is neither bound nor registered", ErrUnknownCallable, c.Name)
		}
		fn := reflect.ValueOf(v)
		if fn.Kind() != reflect.Func {
			return nil, fmt.Errorf("%w: registered %q is %T, not a function", ErrSignature, c.Name, v)
		}
		t, err = newStaticTarget(c, fn, conv, nargs)

	case MethodLookup:
		if bound[c.Receiver] {
			t = &target{callable: c, conv: conv, nargs: nargs}
			break
		}
		recv, ok := e.config.Registry.Lookup(c.Receiver)
		if !ok {
			return nil, fmt.Errorf("%w: receiver %q is neither bound nor registered", ErrUnknownCallable, c.Receiver)
		}
		fn, merr := methodOf(recv, c.Method)
		if merr != nil {
			return nil, merr
		}
		t, err = newStaticTarget(c, fn, conv, nargs)
	}
	if err != nil {
		return nil, err
	}

	switch conv {
	case convDeferred:
		return &deferredCall{target: t}, nil
	case convCallback:
		return &callbackCall{target: t}, nil
	default:
		return &directCall{target: t}, nil
	}
}

func parseType(tag string) (Kind, convention, bool) {
	switch tag {
	case "", TypeRet, TypeDirect:
		return KindDirect, convDirect, true
	case TypePromise:
		return KindDeferred, convDeferred, true
	case TypeCallback:
		return KindCallback, convCallback, true
	case TypeArrayMap:
		return KindFanOut, convCallback, true
	}
	return KindDirect, convDirect, false
}

func parseElemType(tag string) (convention, bool) {
	switch tag {
	case "", TypeCallback:
		return convCallback, true
	case TypeRet, TypeDirect:
		return convDirect, true
	case TypePromise:
		return convDeferred, true
	}
	return convCallback, false
}

func reasonOf(err error) string {
	var verr *dferrors.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return err.Error()
}
