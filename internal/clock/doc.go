// Package clock provides an injectable time source.
//
// Components that schedule work (reconnect timers, heartbeats, operation
// timeouts, TTL checks) take a Clock instead of calling the time package
// directly. Production code passes Real(); tests pass Fake() and drive
// time with Advance.
package clock
