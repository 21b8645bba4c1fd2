// Package poller keeps hot executor cache keys warm by re-fetching them
// from the upstream REST API on a fixed interval.
//
// Refreshes go through the executor with the cache bypassed, so they
// share the concurrency gate and timeout with interactive requests but
// run at a lower priority.
package poller
