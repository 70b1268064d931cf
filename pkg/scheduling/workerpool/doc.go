/*
Package workerpool provides a bounded pool of goroutines for background work.

The dataflow engine uses it to cap how many fan-out elements run at once.

	pool := workerpool.New(4, 16)
	defer func() { <-pool.Shutdown() }()

	_ = pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
		return process(ctx)
	}))

Shutdown stops accepting work, lets workers drain the queue and returns a
channel that closes once every worker has exited. Panics inside a task are
recovered and reported through Config.PanicHandler and Config.OnTaskComplete.

Use NewSafe when parameters come from user input; New and NewWithConfig
panic on invalid sizes.
*/
package workerpool
