package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config holds sample writer settings.
type Config struct {
	InstanceID    string        // Stored with every row
	BatchSize     int           // Rows per insert batch (default: 500)
	FlushInterval time.Duration // Max time a sample waits for a flush (default: 1s)
	BufferSize    int           // Pending sample ceiling (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// BatchSender sends queued statements. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats contains writer statistics.
type Stats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Inserts  int64 `json:"inserts"`
	Flushes  int64 `json:"flushes"`
	Errors   int64 `json:"errors"`
	Pending  int   `json:"pending"`
}

// sampleRow is one execution_samples row.
type sampleRow struct {
	InstanceID string
	Key        string
	LatencyUS  int64
	CacheHit   bool
	SampledAt  time.Time
}

const insertSample = `
	INSERT INTO execution_samples (instance_id, key, latency_us, cache_hit, sampled_at)
	VALUES ($1, $2, $3, $4, $5)
`
