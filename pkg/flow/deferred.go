package flow

import "sync"

// Deferred is a value that completes out-of-band. Then registers both
// branches; exactly one of them is expected to run, once.
type Deferred interface {
	Then(onSuccess func(values ...any), onFailure func(err error))
}

// Promise is the stock Deferred. The zero value is ready to use.
type Promise struct {
	mu      sync.Mutex
	settled bool
	values  []any
	err     error
	waiters []promiseWaiter
}

type promiseWaiter struct {
	onSuccess func(values ...any)
	onFailure func(err error)
}

// NewPromise returns an unsettled Promise.
func NewPromise() *Promise {
	return &Promise{}
}

// Resolved returns a Promise already settled with values.
func Resolved(values ...any) *Promise {
	p := NewPromise()
	p.Resolve(values...)
	return p
}

// Rejected returns a Promise already settled with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Async runs fn on its own goroutine and settles the returned Promise with its outcome.
func Async(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		value, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(value)
	}()
	return p
}

// Resolve settles the promise successfully. It reports false if the
// promise was already settled.
func (p *Promise) Resolve(values ...any) bool {
	return p.settle(values, nil)
}

// Reject settles the promise with err. A nil err is replaced by ErrNilRejection.
func (p *Promise) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	return p.settle(nil, err)
}

func (p *Promise) settle(values []any, err error) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.values = values
	p.err = err
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		p.notify(w)
	}
	return true
}

// Then implements Deferred. Branches registered after settlement run
// immediately on the caller's goroutine.
func (p *Promise) Then(onSuccess func(values ...any), onFailure func(err error)) {
	w := promiseWaiter{onSuccess: onSuccess, onFailure: onFailure}

	p.mu.Lock()
	if !p.settled {
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.notify(w)
}

func (p *Promise) notify(w promiseWaiter) {
	if p.err != nil {
		if w.onFailure != nil {
			w.onFailure(p.err)
		}
		return
	}
	if w.onSuccess != nil {
		w.onSuccess(p.values...)
	}
}
