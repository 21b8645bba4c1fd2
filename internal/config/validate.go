package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/rickgao/livewire/internal/codec"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}

	e := c.Executor
	if e.CacheCapacity < 1 {
		return errors.New("executor.cache_capacity must be >= 1")
	}
	if e.CacheTTL <= 0 {
		return errors.New("executor.cache_ttl must be positive")
	}
	if e.MaxConcurrentOperations < 1 {
		return errors.New("executor.max_concurrent_operations must be >= 1")
	}
	if e.OperationTimeout <= 0 {
		return errors.New("executor.operation_timeout must be positive")
	}

	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream.base_url is invalid: %w", err)
	}
	if c.Upstream.MaxRetries < 0 {
		return errors.New("upstream.max_retries must be >= 0")
	}

	if c.Auth.Enabled() && (c.Auth.KeyID == "" || c.Auth.PrivateKeyPath == "") {
		return errors.New("auth.key_id and auth.private_key_path must be set together")
	}

	seen := make(map[string]bool, len(c.Refresh.Endpoints))
	for i, ep := range c.Refresh.Endpoints {
		if ep.Key == "" || ep.Path == "" {
			return fmt.Errorf("refresh.endpoints[%d] requires key and path", i)
		}
		if seen[ep.Key] {
			return fmt.Errorf("refresh.endpoints[%d]: duplicate key %q", i, ep.Key)
		}
		seen[ep.Key] = true
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (t *TransportConfig) validate() error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("transport.url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("transport.url must use ws or wss, got %q", u.Scheme)
	}
	if t.ReconnectInterval <= 0 {
		return errors.New("transport.reconnect_interval must be positive")
	}
	if t.ReconnectMaxInterval < t.ReconnectInterval {
		return fmt.Errorf("transport.reconnect_max_interval (%s) cannot be below reconnect_interval (%s)",
			t.ReconnectMaxInterval, t.ReconnectInterval)
	}
	if t.ReconnectMultiplier < 1 {
		return errors.New("transport.reconnect_multiplier must be >= 1")
	}
	if t.ReconnectJitter < 0 || t.ReconnectJitter > 1 {
		return errors.New("transport.reconnect_jitter must be between 0 and 1")
	}
	if t.HeartbeatInterval <= 0 {
		return errors.New("transport.heartbeat_interval must be positive")
	}
	if _, err := codec.ByName(t.Codec); err != nil {
		return fmt.Errorf("transport.codec: %w", err)
	}
	if t.BufferSize < 1 {
		return errors.New("transport.buffer_size must be >= 1")
	}
	if t.MaxBufferSize < 0 {
		return errors.New("transport.max_buffer_size must be >= 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
