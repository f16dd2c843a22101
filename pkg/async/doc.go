// Package async provides safe concurrent execution primitives for
// background tasks: panic recovery, per-task timeouts, context
// cancellation, and error collection.
//
// WorkerPool runs a fixed set of workers over a buffered queue; the cache
// maintainer uses one to process permission recompute jobs:
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "permission recompute", 30*time.Second, 256)
//	defer pool.Shutdown(5 * time.Second)
//	pool.Submit(func(ctx context.Context) error { return recompute(ctx, job) })
//
// Batch fans a slice out over workers and collects every error; the
// maintainer uses it to rebuild one account's per-model rows in parallel.
package async
