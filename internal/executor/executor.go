package executor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/livewire/internal/cache"
	"github.com/rickgao/livewire/internal/clock"
	"github.com/rickgao/livewire/internal/gate"
	"github.com/rickgao/livewire/internal/metrics"
)

// Executor caches, bounds and times out asynchronous operations.
type Executor struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	cache   *cache.Store[any]
	gate    *gate.Gate
	metrics *metrics.Recorder
	group   singleflight.Group
}

// Option configures an Executor.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *slog.Logger
	sink   metrics.SampleSink
}

// WithClock sets the time source for TTLs, timeouts and latencies.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSampleSink forwards every metrics sample to sink.
func WithSampleSink(sink metrics.SampleSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// New creates an Executor. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Executor {
	defaults := DefaultConfig()
	if cfg.CacheCapacity < 1 {
		cfg.CacheCapacity = defaults.CacheCapacity
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.SampleCapacity < 1 {
		cfg.SampleCapacity = defaults.SampleCapacity
	}

	o := options{clock: clock.Real(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "executor")

	return &Executor{
		cfg:    cfg,
		clock:  o.clock,
		logger: logger,
		cache: cache.New[any](cache.Config{
			Capacity:   cfg.CacheCapacity,
			DefaultTTL: cfg.CacheTTL,
		}, o.clock),
		gate:    gate.New(gate.Config{MaxConcurrent: cfg.MaxConcurrent}, o.logger),
		metrics: metrics.NewRecorder(cfg.SampleCapacity, o.sink),
	}
}

// Execute returns the value for key, from cache when fresh, otherwise by
// running op through the concurrency gate. Errors:
//   - *TimeoutError when op does not finish within the operation timeout
//   - ctx.Err() when the caller's context ends first
//   - op's own error, verbatim; failures are never cached
func (e *Executor) Execute(ctx context.Context, key string, op Operation, opts ...CallOption) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if op == nil {
		return nil, ErrNilOperation
	}

	o := callOptions{ttl: e.cfg.CacheTTL, priority: gate.DefaultPriority}
	for _, opt := range opts {
		opt(&o)
	}

	start := e.clock.Now()

	if !o.bypass {
		if v, ok := e.cache.Get(key); ok {
			e.metrics.Record(metrics.Sample{
				Key:      key,
				Latency:  e.clock.Now().Sub(start),
				CacheHit: true,
				At:       start,
			})
			return v, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The operation outlives the caller: cancellation stops the wait,
	// not the work.
	opCtx := context.WithoutCancel(ctx)

	var (
		result <-chan outcome
		cancel func()
	)
	if e.cfg.CoalesceInFlight {
		result = e.coalesce(opCtx, key, op, o)
		cancel = func() {}
	} else {
		ticket, ch := e.submit(opCtx, key, op, o)
		result = ch
		cancel = func() { ticket.Cancel() }
	}

	timeout := make(chan struct{})
	timer := e.clock.AfterFunc(e.cfg.OperationTimeout, func() { close(timeout) })

	select {
	case r := <-result:
		timer.Stop()
		if r.err != nil {
			e.metrics.RecordFailure()
			e.logger.Debug("operation failed", "key", key, "error", r.err)
			return nil, r.err
		}
		e.cache.Set(key, r.value, o.ttl)
		e.metrics.Record(metrics.Sample{
			Key:     key,
			Latency: e.clock.Now().Sub(start),
			At:      start,
		})
		return r.value, nil

	case <-timeout:
		cancel()
		e.metrics.RecordTimeout()
		e.logger.Warn("operation timed out",
			"key", key,
			"timeout", e.cfg.OperationTimeout,
		)
		return nil, &TimeoutError{Key: key, Timeout: e.cfg.OperationTimeout}

	case <-ctx.Done():
		timer.Stop()
		cancel()
		return nil, ctx.Err()
	}
}

// submit queues op on the gate. The returned channel receives exactly
// one outcome unless the ticket is cancelled before admission.
func (e *Executor) submit(ctx context.Context, key string, op Operation, o callOptions) (*gate.Ticket, <-chan outcome) {
	ch := make(chan outcome, 1)
	ticket := e.gate.Submit(key, o.priority, func() {
		v, err := call(ctx, key, op)
		ch <- outcome{value: v, err: err}
	})

	select {
	case <-ticket.Started():
	default:
		e.metrics.ObserveQueue(1)
		e.logger.Debug("operation waiting for slot", "key", key, "priority", ticket.Priority())
	}
	return ticket, ch
}

// coalesce shares one gate run between concurrent callers on key.
func (e *Executor) coalesce(ctx context.Context, key string, op Operation, o callOptions) <-chan outcome {
	shared := e.group.DoChan(key, func() (any, error) {
		_, ch := e.submit(ctx, key, op, o)
		r := <-ch
		return r.value, r.err
	})

	out := make(chan outcome, 1)
	go func() {
		r := <-shared
		out <- outcome{value: r.Val, err: r.Err}
	}()
	return out
}

// call runs op, turning a panic into an error.
func call(ctx context.Context, key string, op Operation) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %q panicked: %v", key, r)
		}
	}()
	return op(ctx)
}

// Report summarizes recorded samples.
func (e *Executor) Report() metrics.Report {
	return e.metrics.Report()
}

// ResetMetrics drops samples and outcome counters.
func (e *Executor) ResetMetrics() {
	e.metrics.Reset()
}

// ClearCache removes every cached value.
func (e *Executor) ClearCache() {
	e.cache.Clear()
	e.logger.Info("cache cleared")
}

// Invalidate removes one cached key.
func (e *Executor) Invalidate(key string) bool {
	return e.cache.Delete(key)
}

// Wait blocks until no operation is running or queued, including
// operations whose callers have timed out.
func (e *Executor) Wait() {
	e.gate.Wait()
}

// Stats returns cache and gate statistics.
func (e *Executor) Stats() Stats {
	return Stats{
		Cache: e.cache.Stats(),
		Gate:  e.gate.Stats(),
	}
}

// Do is Execute with a typed result.
func Do[T any](ctx context.Context, e *Executor, key string, op func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var zero T

	v, err := e.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}

	// A nil result is the zero value of an interface T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("value for %q is %T, want %T", key, v, zero)
	}
	return t, nil
}
