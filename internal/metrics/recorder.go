package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Recorder keeps the sample ring and outcome counters. Safe for
// concurrent use.
type Recorder struct {
	mu       sync.Mutex
	ring     []Sample
	next     int
	full     bool
	timeouts int64
	failures int64
	queued   bool // gate queue observed non-empty
	sink     SampleSink
}

// NewRecorder creates a Recorder holding up to capacity samples
// (<= 0 uses DefaultCapacity). sink may be nil.
func NewRecorder(capacity int, sink SampleSink) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		ring: make([]Sample, capacity),
		sink: sink,
	}
}

// Record appends s, overwriting the oldest sample when full.
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	r.ring[r.next] = s
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink.RecordSample(s)
	}
}

// RecordTimeout counts an operation that lost the timeout race.
func (r *Recorder) RecordTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

// RecordFailure counts an operation that returned an error.
func (r *Recorder) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

// ObserveQueue notes the gate queue depth seen at submission.
func (r *Recorder) ObserveQueue(depth int) {
	if depth <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = true
}

// Len returns the number of samples held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}

// Samples returns held samples, oldest first.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samplesLocked()
}

func (r *Recorder) samplesLocked() []Sample {
	if !r.full {
		return append([]Sample(nil), r.ring[:r.next]...)
	}
	out := make([]Sample, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Reset drops all samples and counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.ring)
	r.next = 0
	r.full = false
	r.timeouts = 0
	r.failures = 0
	r.queued = false
}

// Report summarizes the current samples.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	samples := r.samplesLocked()
	rep := Report{
		Samples:  len(samples),
		Timeouts: r.timeouts,
		Failures: r.failures,
	}
	queued := r.queued
	r.mu.Unlock()

	if len(samples) > 0 {
		var total int64
		hits := 0
		for _, s := range samples {
			total += int64(s.Latency)
			if s.Latency > rep.MaxLatency {
				rep.MaxLatency = s.Latency
			}
			if s.CacheHit {
				hits++
			}
		}
		rep.AverageLatency = time.Duration(total / int64(len(samples)))
		rep.CacheHitRate = float64(hits) / float64(len(samples))
	}

	rep.Recommendations = recommend(rep, queued)
	return rep
}

func recommend(rep Report, queued bool) []string {
	recs := []string{}

	if rep.AverageLatency > SlowLatency {
		recs = append(recs, fmt.Sprintf(
			"average latency %s exceeds %s; consider a longer cache TTL or prefetching hot keys",
			rep.AverageLatency, SlowLatency))
	}
	if rep.Samples >= MinHitRateSamples && rep.CacheHitRate < LowHitRate {
		recs = append(recs, fmt.Sprintf(
			"cache hit rate %.0f%% is below %.0f%%; consider raising cache capacity or TTL",
			rep.CacheHitRate*100, LowHitRate*100))
	}
	if rep.Timeouts > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d operations timed out; consider raising the operation timeout or checking the upstream",
			rep.Timeouts))
	}
	if queued {
		recs = append(recs,
			"operations waited for a concurrency slot; consider raising max concurrent operations")
	}
	return recs
}
