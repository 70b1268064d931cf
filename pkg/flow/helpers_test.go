package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vnykmshr/dataflow/internal/testutil"
)

func suffixCB(str string, cb func(error, any)) {
	cb(nil, str+"_end")
}

// delayedSuffix finishes "hello" long after "world" so completion order
// differs from index order.
func delayedSuffix(str, suff string, cb func(error, any)) {
	delay := time.Millisecond
	if str == "hello" {
		delay = 20 * time.Millisecond
	}
	time.AfterFunc(delay, func() { cb(nil, str+suff) })
}

func mustCompile(t *testing.T, d *Descriptor) *Pipeline {
	t.Helper()
	p, err := New().Compile(d)
	testutil.AssertNoError(t, err)
	return p
}

func mustCall(t *testing.T, p *Pipeline, args ...any) any {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	result, err := p.Call(ctx, args...)
	testutil.AssertNoError(t, err)
	return result
}

func callErr(t *testing.T, p *Pipeline, args ...any) error {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	result, err := p.Call(ctx, args...)
	testutil.AssertError(t, err)
	if result != nil {
		t.Fatalf("failed invocation returned a result: %v", result)
	}
	return err
}

func single(f any, in []string, out string, typ string) *Descriptor {
	return &Descriptor{
		InParams: in,
		Tasks:    []TaskDef{{F: f, A: in, Out: []string{out}, Type: typ}},
		OutTask:  OutDef{A: []string{out}},
	}
}

var errBoom = errors.New("boom")

func upper(s string) string { return strings.ToUpper(s) }

func withValue(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, ctxKey(key), value)
}

type ctxKey string
