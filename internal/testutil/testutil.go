package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

type outcome struct {
	err    error
	result any
}

// Completion records calls to an (error, result) callback so tests can
// wait on asynchronous invocations and check that the callback fired once.
type Completion struct {
	ch    chan outcome
	calls int32
}

// NewCompletion creates an empty Completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan outcome, 16)}
}

// Callback is the function handed to the code under test.
func (c *Completion) Callback(err error, result any) {
	atomic.AddInt32(&c.calls, 1)
	select {
	case c.ch <- outcome{err: err, result: result}:
	default:
	}
}

// Wait blocks until the first recorded call or TestTimeout.
func (c *Completion) Wait(t *testing.T) (any, error) {
	t.Helper()
	select {
	case o := <-c.ch:
		return o.result, o.err
	case <-time.After(TestTimeout):
		t.Fatal("callback was not invoked before timeout")
		return nil, nil
	}
}

// Calls returns how many times Callback ran.
func (c *Completion) Calls() int {
	return int(atomic.LoadInt32(&c.calls))
}
