package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/livewire/internal/cache"
	"github.com/rickgao/livewire/internal/gate"
)

// Errors
var (
	ErrOperationTimeout = errors.New("operation timed out")
	ErrEmptyKey         = errors.New("operation key is required")
	ErrNilOperation     = errors.New("operation is nil")
)

// TimeoutError is returned to a caller whose operation did not finish
// within the operation timeout.
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Key, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrOperationTimeout
}

// Operation produces the value for a key. ctx is detached from the
// caller's cancellation.
type Operation func(ctx context.Context) (any, error)

// Config configures an Executor.
type Config struct {
	CacheCapacity    int           // Default: 100
	CacheTTL         time.Duration // Default: 5m
	MaxConcurrent    int           // Default: 5
	OperationTimeout time.Duration // Default: 8s
	CoalesceInFlight bool          // Share one run between concurrent misses on a key
	SampleCapacity   int           // Metrics ring size. Default: 1000
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:    100,
		CacheTTL:         5 * time.Minute,
		MaxConcurrent:    5,
		OperationTimeout: 8 * time.Second,
		SampleCapacity:   1000,
	}
}

// Stats groups the executor's component statistics.
type Stats struct {
	Cache cache.Stats `json:"cache"`
	Gate  gate.Stats  `json:"gate"`
}

// CallOption customizes one Execute call.
type CallOption func(*callOptions)

type callOptions struct {
	ttl      time.Duration
	priority int
	bypass   bool
}

// WithTTL caches the result for d instead of the default TTL.
func WithTTL(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.ttl = d
	}
}

// WithPriority sets the queue priority (1-10, default 5).
func WithPriority(p int) CallOption {
	return func(o *callOptions) {
		o.priority = p
	}
}

// BypassCache skips the cache lookup. A successful result still
// refreshes the cached value.
func BypassCache() CallOption {
	return func(o *callOptions) {
		o.bypass = true
	}
}

type outcome struct {
	value any
	err   error
}
