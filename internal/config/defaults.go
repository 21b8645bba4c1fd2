package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "livewire"
	DefaultTransportURL         = "ws://localhost:8080/stream"
	DefaultReconnectInterval    = 3 * time.Second
	DefaultReconnectMultiplier  = 1.0
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultCodec                = "json"
	DefaultBufferSize           = 1024
	DefaultMaxBufferSize        = 65536
	DefaultCacheCapacity        = 100
	DefaultCacheTTL             = 5 * time.Minute
	DefaultMaxConcurrent        = 5
	DefaultOperationTimeout     = 8 * time.Second
	DefaultUpstreamURL          = "http://localhost:8080/api"
	DefaultUpstreamTimeout      = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRefreshInterval      = time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultWriterBufferSize     = 10000
	DefaultMetricsPort          = 9090
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Transport defaults
	t := &c.Transport
	if t.URL == "" {
		t.URL = DefaultTransportURL
	}
	if t.ReconnectInterval == 0 {
		t.ReconnectInterval = DefaultReconnectInterval
	}
	if t.ReconnectMaxInterval == 0 {
		t.ReconnectMaxInterval = t.ReconnectInterval
	}
	if t.ReconnectMultiplier == 0 {
		t.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if t.MaxReconnectAttempts == 0 {
		t.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if t.HeartbeatInterval == 0 {
		t.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if t.LivenessTimeout == 0 {
		t.LivenessTimeout = 3 * t.HeartbeatInterval
	}
	if t.WriteTimeout == 0 {
		t.WriteTimeout = DefaultWriteTimeout
	}
	if t.HandshakeTimeout == 0 {
		t.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if t.Codec == "" {
		t.Codec = DefaultCodec
	}
	if t.BufferSize == 0 {
		t.BufferSize = DefaultBufferSize
	}
	if t.MaxBufferSize == 0 {
		t.MaxBufferSize = DefaultMaxBufferSize
	}

	// Executor defaults
	e := &c.Executor
	if e.CacheCapacity == 0 {
		e.CacheCapacity = DefaultCacheCapacity
	}
	if e.CacheTTL == 0 {
		e.CacheTTL = DefaultCacheTTL
	}
	if e.MaxConcurrentOperations == 0 {
		e.MaxConcurrentOperations = DefaultMaxConcurrent
	}
	if e.OperationTimeout == 0 {
		e.OperationTimeout = DefaultOperationTimeout
	}

	// Upstream defaults
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}

	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}

	// Database defaults only matter when a database is configured
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database)
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultWriterBufferSize
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
