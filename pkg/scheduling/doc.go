/*
Package scheduling holds the execution primitives the dataflow engine runs on.

  - workerpool: bounded worker pool that fan-out tasks can dispatch elements to

The engine starts one goroutine per fan-out element by default. Passing a
pool through flow.Config.FanOutPool caps how many elements run at once:

	pool := workerpool.New(4, 100) // 4 workers, queue size 100
	defer func() { <-pool.Shutdown() }()

	engine := flow.NewWithConfig(flow.Config{FanOutPool: pool})
*/
package scheduling
