package poller

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/rickgao/livewire/internal/executor"
	"github.com/rickgao/livewire/internal/gate"
)

// Endpoint is one cache key refreshed from an upstream path.
type Endpoint struct {
	Key  string        `yaml:"key"`
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"` // 0 = executor default
}

// Config holds refresher configuration.
type Config struct {
	Interval  time.Duration // Refresh interval (default: 1m)
	Priority  int           // Gate priority for refreshes (default: gate.MinPriority)
	Endpoints []Endpoint
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Priority: gate.MinPriority,
	}
}

// Fetcher loads raw JSON from the upstream. *api.Client satisfies it.
type Fetcher interface {
	GetRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
}

// Runner executes cached operations. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, key string, op executor.Operation, opts ...executor.CallOption) (any, error)
}

// Stats contains refresher statistics.
type Stats struct {
	Cycles    int64     `json:"cycles"`
	Refreshed int64     `json:"refreshed"`
	Failed    int64     `json:"failed"`
	LastCycle time.Time `json:"lastCycle"`
}
