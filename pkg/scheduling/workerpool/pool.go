package workerpool

import (
	"context"
	"sync"
	"time"

	dferrors "github.com/vnykmshr/dataflow/pkg/common/errors"
	"github.com/vnykmshr/dataflow/pkg/common/validation"
)

// Task is one unit of work run by a worker. For the engine each task is a
// single fan-out element: it invokes the element's callable and returns
// without waiting for the element to complete.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Execute implements Task.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result is handed to Config.OnTaskComplete after each task.
type Result struct {
	Task     Task
	Error    error // returned or recovered from a panic
	Duration time.Duration
	WorkerID int
}

// Pool bounds how many fan-out elements run at once.
//
// Submission blocks while every worker is busy and the queue is full, so
// callers must never submit from inside a running task: a worker waiting
// on its own pool cannot free itself. The engine submits each element
// from a dedicated goroutine and resumes the pipeline off the worker.
type Pool interface {
	// Submit queues task with context.Background().
	Submit(task Task) error

	// SubmitWithContext queues task. ctx bounds the wait for a slot and
	// is passed to Execute. After Shutdown it returns ErrClosed.
	SubmitWithContext(ctx context.Context, task Task) error

	// Shutdown stops accepting work, drains the queue and returns a
	// channel closed once every worker has exited.
	Shutdown() <-chan struct{}

	Size() int
	QueueSize() int
	ActiveWorkers() int
	TotalSubmitted() int64
	TotalCompleted() int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks that can be queued.
	// If 0, submission hands the task directly to an idle worker.
	QueueSize int

	// TaskTimeout is the default timeout for individual task execution.
	// Zero means no timeout.
	TaskTimeout time.Duration

	// PanicHandler is called when a worker panics during task execution.
	// The panic is always converted into the task's error.
	PanicHandler func(task Task, recovered interface{})

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(workerID int, result Result)
}

type taskWithContext struct {
	task Task
	ctx  context.Context
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config

	taskQueue    chan taskWithContext
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	mu             sync.RWMutex
	isShutdown     bool
	activeWorkers  int
	totalSubmitted int64
	totalCompleted int64

	workerWg sync.WaitGroup
}

// New creates a new worker pool with the specified number of workers and queue size.
func New(workerCount, queueSize int) Pool {
	return NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
}

// NewSafe is like New but reports invalid parameters as an error instead of panicking.
func NewSafe(workerCount, queueSize int) (Pool, error) {
	if err := validation.ValidatePositive("workerpool", "workerCount", workerCount); err != nil {
		return nil, err
	}
	if queueSize < 0 {
		return nil, dferrors.NewValidationError("workerpool", "queueSize", queueSize, "cannot be negative").
			WithHint("use 0 for direct hand-off")
	}
	return New(workerCount, queueSize), nil
}

// NewWithConfig creates a new worker pool with the specified configuration.
func NewWithConfig(config Config) Pool {
	if config.WorkerCount <= 0 {
		panic("worker count must be positive")
	}

	if config.QueueSize < 0 {
		panic("queue size must be >= 0")
	}

	pool := &workerPool{
		config:     config,
		taskQueue:  make(chan taskWithContext, config.QueueSize),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}

	for i := 0; i < config.WorkerCount; i++ {
		pool.workerWg.Add(1)
		go pool.run(i)
	}

	return pool
}
