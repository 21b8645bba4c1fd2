// Package api provides the upstream REST client used as an operation
// source for the request executor.
//
// Requests are JSON GETs against a configured base URL, optionally
// signed with auth headers, retried with jittered exponential backoff on
// 5xx and 429 responses.
package api
