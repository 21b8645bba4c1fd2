// Package model defines the envelope and topic types shared by the
// transport core.
//
// Conventions:
//   - Envelopes are values. A built envelope is never mutated; copies
//     are handed to subscribers.
//   - Payloads are JSON documents regardless of the frame codec used on
//     the wire.
//   - Timestamps are time.Time in UTC.
package model
