// Package metrics records executor samples and builds performance
// reports.
//
// Samples live in a fixed-size ring (1000 by default); the oldest sample
// is overwritten once it is full. Reports summarize the ring together
// with timeout and failure counters and derive plain-text tuning hints.
package metrics
