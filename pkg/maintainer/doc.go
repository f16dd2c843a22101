// Package maintainer keeps the materialized permission cache consistent
// with the sharing graph.
//
// Mutation sites (grant changes, membership changes, instance creation,
// level changes) enqueue typed jobs fire-and-forget; a worker pool
// consumes them at-least-once with bounded retries. Handlers re-fetch
// live state rather than trusting job payloads, and apply a batch-local
// merge so retried or reordered jobs never corrupt entries outside their
// batch. A cron-scheduled Sweeper re-enqueues full recomputes for
// accounts with stale rows, bounding drift from permanently failed jobs.
//
// Cache rows never exist for admin+ accounts (their access is computed
// live) and are created lazily for everyone else.
package maintainer
