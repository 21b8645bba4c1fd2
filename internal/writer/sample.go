package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/router"
)

// SampleWriter consumes metrics samples and writes them to the
// execution_samples table.
type SampleWriter struct {
	cfg    Config
	logger *slog.Logger

	input *router.GrowableBuffer[metrics.Sample]
	db    BatchSender

	// Batching
	batch   []sampleRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup

	// Metrics, guarded by batchMu
	inserts int64
	flushes int64
	errors  int64
}

// NewSampleWriter creates a new SampleWriter.
func NewSampleWriter(cfg Config, db BatchSender, logger *slog.Logger) *SampleWriter {
	defaults := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	initial := min(cfg.BatchSize, cfg.BufferSize)
	return &SampleWriter{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "sample_writer"),
		input:  router.NewGrowableBuffer[metrics.Sample](initial, cfg.BufferSize),
		batch:  make([]sampleRow, 0, cfg.BatchSize),
		stop:   make(chan struct{}),
	}
}

// RecordSample queues s for writing. It never blocks.
func (w *SampleWriter) RecordSample(s metrics.Sample) {
	w.input.Send(s)
}

// Start begins consuming samples and writing to the database.
func (w *SampleWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("sample writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop drains buffered samples, writes the final batch and shuts down.
func (w *SampleWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping sample writer", "pending", w.input.Len())

	w.input.Close()
	close(w.stop)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("sample writer stop timed out")
		err = ctx.Err()
	}

	// Final flush
	if ferr := w.flush(ctx); ferr != nil && err == nil {
		err = ferr
	}
	if w.cancel != nil {
		w.cancel()
	}

	w.logger.Info("sample writer stopped")
	return err
}

// Stats returns current statistics.
func (w *SampleWriter) Stats() Stats {
	buf := w.input.Stats()

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return Stats{
		Received: buf.TotalReceived,
		Dropped:  buf.Dropped,
		Inserts:  w.inserts,
		Flushes:  w.flushes,
		Errors:   w.errors,
		Pending:  buf.Count + len(w.batch),
	}
}

// consumeLoop reads from the input buffer and accumulates batches until
// the buffer is closed and empty.
func (w *SampleWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		s, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleSample(s)
	}
}

// flushLoop periodically flushes the batch.
func (w *SampleWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *SampleWriter) handleSample(s metrics.Sample) {
	row := w.transform(s)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

func (w *SampleWriter) transform(s metrics.Sample) sampleRow {
	return sampleRow{
		InstanceID: w.cfg.InstanceID,
		Key:        s.Key,
		LatencyUS:  s.Latency.Microseconds(),
		CacheHit:   s.CacheHit,
		SampledAt:  s.At.UTC(),
	}
}

// flush writes the current batch to the database. A failed batch is
// dropped.
func (w *SampleWriter) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]sampleRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.inserts += int64(len(batch))
	w.flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed samples",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

func (w *SampleWriter) batchInsert(ctx context.Context, rows []sampleRow) error {
	if w.db == nil {
		return fmt.Errorf("no database configured")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSample, r.InstanceID, r.Key, r.LatencyUS, r.CacheHit, r.SampledAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return nil
}
