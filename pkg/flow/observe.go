package flow

import (
	"context"
	"errors"
	"sync"
)

// CompileEvent is sent to an Observer after a descriptor compiles.
type CompileEvent struct {
	Pipeline   *Pipeline
	Descriptor *Descriptor
}

// Observer is notified of compilation lifecycle points. Notifications
// never affect engine behavior.
type Observer interface {
	PipelineCompiled(ev CompileEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev CompileEvent)

// PipelineCompiled implements Observer.
func (f ObserverFunc) PipelineCompiled(ev CompileEvent) { f(ev) }

// Collector is an Observer that keeps every event it receives.
type Collector struct {
	mu     sync.Mutex
	events []CompileEvent
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// PipelineCompiled implements Observer.
func (c *Collector) PipelineCompiled(ev CompileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns the events collected so far.
func (c *Collector) Events() []CompileEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CompileEvent(nil), c.events...)
}

// Failure is the context handed to an Enricher when a run fails.
type Failure struct {
	Task      Task
	Err       error
	TaskError *TaskError
	Vars      *Vars
}

// Enricher may decorate the error of a failed run. Returning nil keeps
// the original error.
type Enricher interface {
	Enrich(f Failure) error
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(f Failure) error

// Enrich implements Enricher.
func (fn EnricherFunc) Enrich(f Failure) error { return fn(f) }

// SnapshotEnricher attaches the Variable Context at the time of failure
// to the TaskError.
type SnapshotEnricher struct{}

// Enrich implements Enricher.
func (SnapshotEnricher) Enrich(f Failure) error {
	f.TaskError.Vars = f.Vars.Snapshot()
	return f.Err
}

func (e *Engine) notifyCompiled(ev CompileEvent) {
	if e.config.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Info(context.Background(), "observer panicked", Field{Key: "recovered", Value: r})
		}
	}()
	e.config.Observer.PipelineCompiled(ev)
}

// enrich runs the configured Enricher at most once per TaskError.
func (e *Engine) enrich(task Task, err error, vars *Vars) (out error) {
	out = err
	var terr *TaskError
	if e.config.Enricher == nil || !errors.As(err, &terr) || terr.enriched {
		return out
	}
	terr.enriched = true

	defer func() {
		if r := recover(); r != nil {
			e.logger.Info(context.Background(), "enricher panicked", Field{Key: "recovered", Value: r})
			out = err
		}
	}()
	if enriched := e.config.Enricher.Enrich(Failure{Task: task, Err: err, TaskError: terr, Vars: vars}); enriched != nil {
		out = enriched
	}
	return out
}
