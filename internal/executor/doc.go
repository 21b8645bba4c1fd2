// Package executor implements the Request Executor.
//
// Execute runs an asynchronous operation through the data path:
//
//	cache lookup -> (optional in-flight coalescing) -> concurrency gate
//	-> timeout race -> cache populate -> metrics sample
//
// A caller that loses the timeout race gets a *TimeoutError. The
// operation itself keeps running on a context detached from the caller
// and its late result is discarded; its gate slot frees when it returns.
package executor
