// Package router implements the Topic Dispatcher.
//
// Subscribers register handlers per topic. Envelopes published by the
// connection manager are queued in a growable buffer and delivered on a
// single goroutine: handlers for the envelope's type in subscription
// order, then wildcard handlers. A failing or panicking handler is
// isolated from the others.
package router
