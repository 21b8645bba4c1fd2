// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one persistent websocket and its lifecycle state machine
//   - Sends heartbeat pings while connected and answers peer pings
//   - Drops connections that stop producing frames (liveness timeout)
//   - Reconnects on transport failure using a bounded backoff policy
//   - Publishes decoded envelopes and connection notices to the dispatcher
//
// All state lives on a single event-loop goroutine. Caller commands,
// socket events and timer firings are queued to that loop and handled
// one at a time.
package connection
