// Package gate implements the Concurrency Gate and its priority queue.
//
// At most MaxConcurrent operations run at once. Submissions beyond the
// limit wait in a heap ordered by priority (higher first) and then by
// arrival. A finished operation frees its slot and the queue drains
// until it is empty or the gate is saturated again. Running operations
// are never preempted.
package gate
