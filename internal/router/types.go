package router

import (
	"fmt"

	"github.com/rickgao/livewire/internal/model"
)

// Config holds configuration for the Topic Dispatcher.
type Config struct {
	BufferSize    int // Initial ingest buffer capacity. Default: 1024
	MaxBufferSize int // Ceiling; Publish drops beyond it (0 = unbounded). Default: 65536
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		MaxBufferSize: 65536,
	}
}

// Handler receives dispatched envelopes. A returned error is logged and
// counted; it never reaches other handlers or the publisher.
type Handler func(env model.Envelope) error

// HandlerError is a failure raised by one subscription's handler,
// including a recovered panic.
type HandlerError struct {
	Topic          model.Topic
	SubscriptionID uint64
	Err            error
	Panicked       bool
}

func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("handler %d on %q panicked: %v", e.SubscriptionID, e.Topic, e.Err)
	}
	return fmt.Sprintf("handler %d on %q: %v", e.SubscriptionID, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Stats contains runtime statistics.
type Stats struct {
	Published     int64       `json:"published"`
	Dropped       int64       `json:"dropped"`
	Dispatched    int64       `json:"dispatched"`
	Deliveries    int64       `json:"deliveries"`
	HandlerErrors int64       `json:"handlerErrors"`
	Unhandled     int64       `json:"unhandled"`
	Subscriptions int         `json:"subscriptions"`
	Buffer        BufferStats `json:"buffer"`
}

type subscription struct {
	id      uint64
	topic   model.Topic
	handler Handler
}
