package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/livewire/internal/model"
)

// Dispatcher keeps the topic subscription registry and delivers
// envelopes to handlers in subscription order. Published envelopes are
// buffered and delivered by a single goroutine, so handlers never run
// concurrently with each other.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[model.Topic][]subscription
	nextID uint64

	buf *GrowableBuffer[model.Envelope]

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published     atomic.Int64
	dropped       atomic.Int64
	dispatched    atomic.Int64
	deliveries    atomic.Int64
	handlerErrors atomic.Int64
	unhandled     atomic.Int64
}

// NewDispatcher creates a Topic Dispatcher.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		cfg:    cfg,
		logger: logger.With("component", "dispatcher"),
		subs:   make(map[model.Topic][]subscription),
		buf:    NewGrowableBuffer[model.Envelope](cfg.BufferSize, cfg.MaxBufferSize),
	}
}

// Subscribe registers handler for topic and returns a function that
// removes it. The returned function is idempotent.
func (d *Dispatcher) Subscribe(topic model.Topic, handler Handler) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	sub := subscription{id: d.nextID, topic: topic, handler: handler}
	d.subs[topic] = append(d.subs[topic], sub)
	d.mu.Unlock()

	d.logger.Debug("subscribed", "topic", topic, "subscription", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(topic, sub.id) })
	}
}

func (d *Dispatcher) remove(topic model.Topic, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so in-flight dispatches keep their snapshot
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.subs, topic)
		} else {
			d.subs[topic] = next
		}
		d.logger.Debug("unsubscribed", "topic", topic, "subscription", id)
		return
	}
}

// Dispatch delivers env synchronously: handlers for env.Type in
// subscription order, then handlers on the wildcard topic. Wildcard
// handlers run once even when env.Type is the wildcard.
func (d *Dispatcher) Dispatch(env model.Envelope) {
	d.dispatched.Add(1)

	d.mu.RLock()
	targets := d.subs[env.Type]
	if env.Type != model.TopicAll {
		if all := d.subs[model.TopicAll]; len(all) > 0 {
			targets = append(targets[:len(targets):len(targets)], all...)
		}
	}
	d.mu.RUnlock()

	if len(targets) == 0 {
		d.unhandled.Add(1)
		d.logger.Debug("no subscribers", "type", env.Type)
		return
	}

	for _, sub := range targets {
		d.deliveries.Add(1)
		if err := d.invoke(sub, env); err != nil {
			d.handlerErrors.Add(1)
			d.logger.Warn("handler failed",
				"type", env.Type,
				"subscription", sub.id,
				"error", err,
			)
		}
	}
}

// invoke runs one handler, converting a returned error or panic into a
// HandlerError.
func (d *Dispatcher) invoke(sub subscription, env model.Envelope) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				Topic:          sub.topic,
				SubscriptionID: sub.id,
				Err:            fmt.Errorf("%v", r),
				Panicked:       true,
			}
		}
	}()

	if err := sub.handler(env); err != nil {
		return &HandlerError{Topic: sub.topic, SubscriptionID: sub.id, Err: err}
	}
	return nil
}

// Publish queues env for asynchronous delivery. It never blocks and
// returns false if the dispatcher is stopped or its buffer is full.
func (d *Dispatcher) Publish(env model.Envelope) bool {
	if !d.buf.Send(env) {
		d.dropped.Add(1)
		return false
	}
	d.published.Add(1)
	return true
}

// Start runs the delivery goroutine until Stop or ctx cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go d.deliverLoop()
	go func() {
		defer d.wg.Done()
		<-ctx.Done()
		d.buf.Close()
	}()

	d.logger.Info("dispatcher started",
		"buffer", d.cfg.BufferSize,
		"max_buffer", d.cfg.MaxBufferSize,
	)
	return nil
}

// Stop closes the ingest buffer and waits for buffered envelopes to be
// delivered.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping dispatcher", "pending", d.buf.Len())

	d.buf.Close()
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out", "pending", d.buf.Len())
		return ctx.Err()
	}
}

func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()

	for {
		env, ok := d.buf.Receive()
		if !ok {
			return
		}
		d.Dispatch(env)
	}
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	n := 0
	for _, subs := range d.subs {
		n += len(subs)
	}
	d.mu.RUnlock()

	return Stats{
		Published:     d.published.Load(),
		Dropped:       d.dropped.Load(),
		Dispatched:    d.dispatched.Load(),
		Deliveries:    d.deliveries.Load(),
		HandlerErrors: d.handlerErrors.Load(),
		Unhandled:     d.unhandled.Load(),
		Subscriptions: n,
		Buffer:        d.buf.Stats(),
	}
}
