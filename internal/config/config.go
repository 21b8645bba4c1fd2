package config

import (
	"time"

	"github.com/rickgao/livewire/internal/poller"
)

// Config is the root configuration for a livewire instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Transport TransportConfig `yaml:"transport"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Database  DBConfig        `yaml:"database"`
	Writer    WriterConfig    `yaml:"writer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// TransportConfig holds websocket connection manager and dispatcher settings.
type TransportConfig struct {
	URL                  string        `yaml:"url"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
	ReconnectMultiplier  float64       `yaml:"reconnect_multiplier"`
	ReconnectJitter      float64       `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // < 0 = unlimited
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	LivenessTimeout      time.Duration `yaml:"liveness_timeout"` // 0 = 3x heartbeat, < 0 disables
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	Codec                string        `yaml:"codec"`
	BufferSize           int           `yaml:"buffer_size"`
	MaxBufferSize        int           `yaml:"max_buffer_size"`
}

// ExecutorConfig holds request executor settings.
type ExecutorConfig struct {
	CacheCapacity           int           `yaml:"cache_capacity"`
	CacheTTL                time.Duration `yaml:"cache_ttl"`
	MaxConcurrentOperations int           `yaml:"max_concurrent_operations"`
	OperationTimeout        time.Duration `yaml:"operation_timeout"`
	CoalesceInFlight        bool          `yaml:"coalesce_in_flight"`
}

// UpstreamConfig holds REST API settings.
type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AuthConfig holds optional request signing credentials.
type AuthConfig struct {
	KeyID          string `yaml:"key_id"`           // Sent as X-Access-Key
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
}

// Enabled reports whether signing is configured.
func (a AuthConfig) Enabled() bool {
	return a.KeyID != "" || a.PrivateKeyPath != ""
}

// RefreshConfig holds cache refresher settings.
type RefreshConfig struct {
	Interval  time.Duration     `yaml:"interval"`
	Endpoints []poller.Endpoint `yaml:"endpoints"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// WriterConfig holds sample writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds the HTTP status endpoint settings.
type MetricsConfig struct {
	Port int `yaml:"port"`
}
