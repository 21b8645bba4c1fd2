package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/livewire/internal/clock"
	"github.com/rickgao/livewire/internal/executor"
)

// Refresher periodically re-fetches configured endpoints into the
// executor cache.
type Refresher struct {
	cfg     Config
	runner  Runner
	fetcher Fetcher
	clock   clock.Clock
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles    atomic.Int64
	refreshed atomic.Int64
	failed    atomic.Int64
	lastCycle atomic.Int64 // unix nanos
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock sets the time source for the refresh interval.
func WithClock(c clock.Clock) Option {
	return func(r *Refresher) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a new Refresher.
func New(cfg Config, runner Runner, fetcher Fetcher, opts ...Option) *Refresher {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Priority == 0 {
		cfg.Priority = defaults.Priority
	}

	r := &Refresher{
		cfg:     cfg,
		runner:  runner,
		fetcher: fetcher,
		clock:   clock.Real(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "refresher")
	return r
}

// Start begins the refresh loop. The first cycle runs immediately.
func (r *Refresher) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("cache refresher started",
		"interval", r.cfg.Interval,
		"endpoints", len(r.cfg.Endpoints),
	)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("cache refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	r.refreshAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.cfg.Interval):
			r.refreshAll(ctx)
		}
	}
}

// refreshAll refreshes every endpoint concurrently. The executor's gate
// bounds how many fetches actually run at once.
func (r *Refresher) refreshAll(ctx context.Context) {
	if len(r.cfg.Endpoints) == 0 {
		r.logger.Debug("no endpoints to refresh")
		return
	}

	start := r.clock.Now()
	var wg sync.WaitGroup
	var refreshed, failed atomic.Int64

	for _, ep := range r.cfg.Endpoints {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()

			if err := r.refresh(ctx, ep); err != nil {
				if ctx.Err() == nil {
					r.logger.Warn("failed to refresh endpoint",
						"key", ep.Key,
						"path", ep.Path,
						"error", err,
					)
				}
				failed.Add(1)
				return
			}
			refreshed.Add(1)
		}(ep)
	}

	wg.Wait()

	r.cycles.Add(1)
	r.refreshed.Add(refreshed.Load())
	r.failed.Add(failed.Load())
	r.lastCycle.Store(start.UnixNano())

	r.logger.Info("refresh cycle complete",
		"endpoints", len(r.cfg.Endpoints),
		"refreshed", refreshed.Load(),
		"errors", failed.Load(),
		"duration", r.clock.Now().Sub(start),
	)
}

func (r *Refresher) refresh(ctx context.Context, ep Endpoint) error {
	_, err := r.runner.Execute(ctx, ep.Key, func(ctx context.Context) (any, error) {
		return r.fetcher.GetRaw(ctx, ep.Path, nil)
	},
		executor.BypassCache(),
		executor.WithTTL(ep.TTL),
		executor.WithPriority(r.cfg.Priority),
	)
	return err
}

// Stats returns current statistics.
func (r *Refresher) Stats() Stats {
	s := Stats{
		Cycles:    r.cycles.Load(),
		Refreshed: r.refreshed.Load(),
		Failed:    r.failed.Load(),
	}
	if ns := r.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns).UTC()
	}
	return s
}
