// Package writer batches executor metrics samples into PostgreSQL.
//
// The sample writer is a metrics.SampleSink: RecordSample never blocks the
// executor. Samples queue in a bounded growable buffer and are flushed as
// append-only inserts when a batch fills or the flush interval elapses.
// Samples beyond the buffer ceiling are dropped and counted.
package writer
