package metrics

import "time"

// DefaultCapacity is the sample ring size.
const DefaultCapacity = 1000

// Recommendation thresholds.
const (
	SlowLatency       = time.Second
	LowHitRate        = 0.30
	MinHitRateSamples = 20
)

// Sample is one completed Execute call.
type Sample struct {
	Key      string        `json:"key"`
	Latency  time.Duration `json:"latency"`
	CacheHit bool          `json:"cacheHit"`
	At       time.Time     `json:"at"`
}

// SampleSink receives every recorded sample. Implementations must not
// block.
type SampleSink interface {
	RecordSample(Sample)
}

// Report summarizes recorded samples.
type Report struct {
	AverageLatency  time.Duration `json:"averageLatency"`
	MaxLatency      time.Duration `json:"maxLatency"`
	CacheHitRate    float64       `json:"cacheHitRate"`
	Samples         int           `json:"samples"`
	Timeouts        int64         `json:"timeouts"`
	Failures        int64         `json:"failures"`
	Recommendations []string      `json:"recommendations"`
}
