package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vnykmshr/dataflow/internal/testutil"
	dferrors "github.com/vnykmshr/dataflow/pkg/common/errors"
)

func TestSubPipelineSimpleExec(t *testing.T) {
	p := mustCompile(t, &Descriptor{
		InParams: []string{"bar"},
		Tasks: []TaskDef{
			{F: "sub:fn1", A: []string{"bar"}, Out: []string{"baz"}},
		},
		OutTask: OutDef{A: []string{"baz"}},
		Sub: map[string]*Descriptor{
			"fn1": {
				InParams: []string{"sbar"},
				Tasks: []TaskDef{
					{F: suffixCB, A: []string{"sbar"}, Out: []string{"sbaz"}, Type: TypeCallback},
				},
				OutTask: OutDef{A: []string{"sbaz"}},
			},
		},
	})

	testutil.AssertEqual(t, mustCall(t, p, "hello").(string), "hello_end")
}

func TestSubPipelineFanOut(t *testing.T) {
	p := mustCompile(t, &Descriptor{
		InParams: []string{"lines", "suff"},
		Tasks: []TaskDef{
			{F: "sub:fn1", A: []string{"lines", "suff"}, Out: []string{"resultLines"}, Type: TypeArrayMap, ArrIn: "lines"},
		},
		OutTask: OutDef{A: []string{"resultLines"}},
		Sub: map[string]*Descriptor{
			"fn1": {
				InParams: []string{"line", "suff"},
				Tasks: []TaskDef{
					{F: delayedSuffix, A: []string{"line", "suff"}, Out: []string{"suffixed"}, Type: TypeCallback},
				},
				OutTask: OutDef{A: []string{"suffixed"}},
			},
		},
	})

	got := mustCall(t, p, []string{"hello", "world"}, "_END")
	if diff := cmp.Diff([]any{"hello_END", "world_END"}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSubPipelineWithInnerFanOut(t *testing.T) {
	p := mustCompile(t, &Descriptor{
		InParams: []string{"lines", "suff"},
		Tasks: []TaskDef{
			{F: "sub:fn1", A: []string{"lines", "suff"}, Out: []string{"resultLines"}},
		},
		OutTask: OutDef{A: []string{"resultLines"}},
		Sub: map[string]*Descriptor{
			"fn1": {
				InParams: []string{"lines", "suff"},
				Tasks: []TaskDef{
					{F: delayedSuffix, A: []string{"lines", "suff"}, Out: []string{"suffixLines"}, Type: TypeArrayMap, ArrIn: "lines"},
				},
				OutTask: OutDef{A: []string{"suffixLines"}},
			},
		},
	})

	got := mustCall(t, p, []string{"hello", "world"}, "_END")
	if diff := cmp.Diff([]any{"hello_END", "world_END"}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSequentialThreading(t *testing.T) {
	var order []string
	record := func(name string) func(string) string {
		return func(s string) string {
			order = append(order, name)
			return s + "-" + name
		}
	}

	p := mustCompile(t, &Descriptor{
		InParams: []string{"in"},
		Tasks: []TaskDef{
			{F: record("a"), A: []string{"in"}, Out: []string{"x"}},
			{F: record("b"), A: []string{"x"}, Out: []string{"y"}, Type: TypeRet},
			{F: record("c"), A: []string{"y"}, Out: []string{"z"}},
		},
		OutTask: OutDef{A: []string{"z"}},
	})

	testutil.AssertEqual(t, mustCall(t, p, "s").(string), "s-a-b-c")
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

func TestLongSynchronousChain(t *testing.T) {
	inc := func(n int) int { return n + 1 }
	d := &Descriptor{InParams: []string{"n0"}}
	for i := 0; i < 5000; i++ {
		d.Tasks = append(d.Tasks, TaskDef{
			F:   inc,
			A:   []string{fmt.Sprintf("n%d", i)},
			Out: []string{fmt.Sprintf("n%d", i+1)},
		})
	}
	d.OutTask = OutDef{A: []string{"n5000"}}

	testutil.AssertEqual(t, mustCall(t, mustCompile(t, d), 0).(int), 5000)
}

func TestDirectCallShapes(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want any
	}{
		{"value", func(s string) string { return s + "!" }, "in!"},
		{"value and nil error", func(s string) (int, error) { return len(s), nil }, 2},
		{"error only", func(s string) error { return nil }, nil},
		{"no results", func(s string) {}, nil},
		{"variadic", func(parts ...string) string { return strings.Join(parts, "+") }, "in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustCompile(t, single(tt.fn, []string{"s"}, "out", ""))
			if diff := cmp.Diff(tt.want, mustCall(t, p, "in")); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestContextInjection(t *testing.T) {
	fn := func(ctx context.Context, s string) (string, error) {
		v, _ := ctx.Value(ctxKey("tenant")).(string)
		return v + ":" + s, nil
	}
	p := mustCompile(t, single(fn, []string{"s"}, "out", ""))

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	result, err := p.Call(withValue(ctx, "tenant", "acme"), "order")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.(string), "acme:order")
}

func TestDeferredTask(t *testing.T) {
	async := func(s string) *Promise {
		return Async(func() (any, error) {
			time.Sleep(time.Millisecond)
			return s + "_async", nil
		})
	}
	p := mustCompile(t, single(async, []string{"s"}, "out", TypePromise))
	testutil.AssertEqual(t, mustCall(t, p, "x").(string), "x_async")
}

func TestDeferredExtraValuesDropped(t *testing.T) {
	multi := func(s string) Deferred { return Resolved(s, "second", "third") }
	p := mustCompile(t, single(multi, []string{"s"}, "first", TypePromise))
	testutil.AssertEqual(t, mustCall(t, p, "one").(string), "one")
}

func TestDeferredFailures(t *testing.T) {
	tests := []struct {
		name    string
		fn      any
		wantErr error
	}{
		{"rejected", func(s string) Deferred { return Rejected(errBoom) }, errBoom},
		{"returned error", func(s string) (Deferred, error) { return nil, errBoom }, errBoom},
		{"nil deferred", func(s string) *Promise { return nil }, ErrNilDeferred},
		{"nil rejection", func(s string) Deferred {
			p := NewPromise()
			go p.Reject(nil)
			return p
		}, ErrNilRejection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := callErr(t, mustCompile(t, single(tt.fn, []string{"s"}, "out", TypePromise)), "x")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			var terr *TaskError
			if !errors.As(err, &terr) || terr.Task == nil {
				t.Fatalf("expected TaskError with task, got %T", err)
			}
		})
	}
}

func TestCallbackTask(t *testing.T) {
	typed := func(n int, cb func(error, int)) { cb(nil, n*2) }
	p := mustCompile(t, single(typed, []string{"n"}, "out", TypeCallback))
	testutil.AssertEqual(t, mustCall(t, p, 21).(int), 42)

	failing := func(n int, cb func(error, any)) { cb(errBoom, nil) }
	err := callErr(t, mustCompile(t, single(failing, []string{"n"}, "out", TypeCallback)), 1)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	returning := func(n int, cb func(error, any)) error { return errBoom }
	err = callErr(t, mustCompile(t, single(returning, []string{"n"}, "out", TypeCallback)), 1)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
}

func TestDuplicateCompletionIgnored(t *testing.T) {
	var next int32
	twice := func(s string, cb func(error, any)) {
		cb(nil, s+"1")
		cb(nil, s+"2")
		cb(errBoom, nil)
	}
	count := func(s string) string {
		atomic.AddInt32(&next, 1)
		return s
	}

	p := mustCompile(t, &Descriptor{
		InParams: []string{"s"},
		Tasks: []TaskDef{
			{F: twice, A: []string{"s"}, Out: []string{"t"}, Type: TypeCallback},
			{F: count, A: []string{"t"}, Out: []string{"u"}},
		},
		OutTask: OutDef{A: []string{"u"}},
	})

	c := testutil.NewCompletion()
	p.Invoke(context.Background(), []any{"x"}, c.Callback)
	result, err := c.Wait(t)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result.(string), "x1")
	testutil.AssertEqual(t, c.Calls(), 1)
	testutil.AssertEqual(t, atomic.LoadInt32(&next), int32(1))
}

func TestFailureHaltsPipeline(t *testing.T) {
	var ran int32
	p := mustCompile(t, &Descriptor{
		InParams: []string{"s"},
		Tasks: []TaskDef{
			{F: func(s string) (string, error) { return "", errBoom }, A: []string{"s"}, Out: []string{"t"}, Name: "explode"},
			{F: func(s string) string { atomic.AddInt32(&ran, 1); return s }, A: []string{"t"}, Out: []string{"u"}},
		},
		OutTask: OutDef{A: []string{"u"}},
	})

	err := callErr(t, p, "x")
	var terr *TaskError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TaskError, got %T", err)
	}
	testutil.AssertEqual(t, terr.Task.Name(), "explode")
	testutil.AssertEqual(t, terr.Error(), "task explode(s) failed: boom")
	testutil.AssertEqual(t, atomic.LoadInt32(&ran), int32(0))
}

func TestPanicBecomesTaskError(t *testing.T) {
	p := mustCompile(t, single(func(s string) string { panic("kaboom") }, []string{"s"}, "out", ""))
	err := callErr(t, p, "x")
	if !strings.Contains(err.Error(), "callable panicked: kaboom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArgumentTypeMismatch(t *testing.T) {
	p := mustCompile(t, single(upper, []string{"s"}, "out", ""))
	err := callErr(t, p, 42)
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestSubPipelineFailurePropagatesUnchanged(t *testing.T) {
	p := mustCompile(t, &Descriptor{
		InParams: []string{"s"},
		Tasks:    []TaskDef{{F: "sub:inner", A: []string{"s"}, Out: []string{"r"}}},
		OutTask:  OutDef{A: []string{"r"}},
		Sub: map[string]*Descriptor{
			"inner": {
				InParams: []string{"v"},
				Tasks: []TaskDef{
					{F: func(v string) error { return errBoom }, A: []string{"v"}, Out: []string{}, Name: "innerFail"},
				},
				OutTask: OutDef{A: []string{}},
			},
		},
	})

	err := callErr(t, p, "x")
	var terr *TaskError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TaskError, got %T", err)
	}
	testutil.AssertEqual(t, terr.Task.Name(), "innerFail")
	if !errors.Is(err, errBoom) {
		t.Fatal("cause should be preserved")
	}
}

func TestArgumentCount(t *testing.T) {
	p := mustCompile(t, single(upper, []string{"s"}, "out", ""))

	c := testutil.NewCompletion()
	p.Invoke(context.Background(), []any{"a", "b"}, c.Callback)
	_, err := c.Wait(t)
	if !errors.Is(err, ErrArgumentCount) {
		t.Fatalf("expected ErrArgumentCount, got %v", err)
	}
}

func TestOutputShapes(t *testing.T) {
	none := mustCompile(t, &Descriptor{
		InParams: []string{"a"},
		Tasks:    []TaskDef{{F: func(a string) {}, A: []string{"a"}, Out: []string{}}},
		OutTask:  OutDef{A: []string{}},
	})
	if got := mustCall(t, none, "x"); got != nil {
		t.Errorf("expected nil result, got %v", got)
	}

	many := mustCompile(t, &Descriptor{
		InParams: []string{"a", "b"},
		Tasks:    []TaskDef{{F: func(a, b string) string { return a + b }, A: []string{"a", "b"}, Out: []string{"c"}}},
		OutTask:  OutDef{A: []string{"c", "a"}},
	})
	if diff := cmp.Diff([]any{"xy", "x"}, mustCall(t, many, "x", "y")); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestCanceledContext(t *testing.T) {
	var ran int32
	p := mustCompile(t, single(func(s string) string { atomic.AddInt32(&ran, 1); return s }, []string{"s"}, "out", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Call(ctx, "x")
	if !dferrors.IsCanceled(err) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	testutil.AssertEqual(t, atomic.LoadInt32(&ran), int32(0))
}

func TestCallReturnsWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	var next int32
	hang := func(s string, cb func(error, any)) {
		go func() {
			<-release
			cb(nil, s)
		}()
	}

	p := mustCompile(t, &Descriptor{
		InParams: []string{"s"},
		Tasks: []TaskDef{
			{F: hang, A: []string{"s"}, Out: []string{"t"}, Type: TypeCallback},
			{F: func(s string) string { atomic.AddInt32(&next, 1); return s }, A: []string{"t"}, Out: []string{"u"}},
		},
		OutTask: OutDef{A: []string{"u"}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Call(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	time.Sleep(5 * time.Millisecond)
	testutil.AssertEqual(t, atomic.LoadInt32(&next), int32(0))
}

func TestConcurrentInvocationsIsolated(t *testing.T) {
	slow := func(s string, cb func(error, any)) {
		time.AfterFunc(time.Millisecond, func() { cb(nil, s) })
	}
	p := mustCompile(t, &Descriptor{
		InParams: []string{"id"},
		Tasks: []TaskDef{
			{F: func(id int) string { return fmt.Sprintf("req-%d", id) }, A: []string{"id"}, Out: []string{"name"}},
			{F: slow, A: []string{"name"}, Out: []string{"echo"}, Type: TypeCallback},
			{F: func(id int, echo string) string { return fmt.Sprintf("%d:%s", id, echo) }, A: []string{"id", "echo"}, Out: []string{"out"}},
		},
		OutTask: OutDef{A: []string{"out"}},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			result, err := p.Call(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf("%d:req-%d", id, id); result != want {
				errs <- fmt.Errorf("invocation %d got %v, want %s", id, result, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCompileIsIdempotent(t *testing.T) {
	d := &Descriptor{
		InParams: []string{"s"},
		Tasks:    []TaskDef{{F: upper, A: []string{"s"}, Out: []string{"u"}}},
		OutTask:  OutDef{A: []string{"u"}},
	}
	p1 := mustCompile(t, d)
	p2 := mustCompile(t, d)
	if p1 == p2 {
		t.Fatal("each compile should produce a new Pipeline")
	}
	testutil.AssertEqual(t, mustCall(t, p1, "go").(string), mustCall(t, p2, "go").(string))

	bad := &Descriptor{InParams: []string{"s"}, Tasks: []TaskDef{{F: upper, A: []string{"nope"}, Out: []string{"u"}}}, OutTask: OutDef{A: []string{"u"}}}
	e1, e2 := New().Validate(bad), New().Validate(bad)
	if diff := cmp.Diff(e1.Error(), e2.Error()); diff != "" {
		t.Errorf("validation differs between compiles:\n%s", diff)
	}
}
