package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// maxBackoffDelay caps exponential growth when no Max is configured.
const maxBackoffDelay = 24 * time.Hour

// Backoff computes reconnect delays and tracks the attempt counter.
// It is owned by the manager's event loop and is not safe for concurrent
// use.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration // 0 = Base
	Multiplier  float64       // <= 1 = fixed delay
	Jitter      float64       // fraction of the delay, 0-1
	MaxAttempts int           // <= 0 = unlimited

	attempts int
}

// NewBackoff builds a Backoff from the manager configuration.
func NewBackoff(cfg ManagerConfig) *Backoff {
	return &Backoff{
		Base:        cfg.ReconnectInterval,
		Max:         cfg.ReconnectMaxInterval,
		Multiplier:  cfg.ReconnectMultiplier,
		Jitter:      cfg.ReconnectJitter,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}
}

// Attempts returns the number of reconnect attempts since the last reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Exhausted reports whether no further attempts are allowed.
func (b *Backoff) Exhausted() bool {
	return b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts
}

// Next records a new attempt and returns its number and delay.
func (b *Backoff) Next() (attempt int, delay time.Duration) {
	b.attempts++
	return b.attempts, b.Delay(b.attempts)
}

// Reset zeroes the attempt counter.
func (b *Backoff) Reset() { b.attempts = 0 }

// Delay returns the wait before the given 1-based attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.Base)
	if b.Multiplier > 1 {
		delay *= math.Pow(b.Multiplier, float64(attempt-1))
	}

	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = b.Base
		if b.Multiplier > 1 {
			ceiling = maxBackoffDelay
		}
	}
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}

	if b.Jitter > 0 && delay > 0 {
		// Spread: delay * (1 - jitter .. 1 + jitter)
		spread := delay * math.Min(b.Jitter, 1)
		delay = delay - spread + rand.Float64()*2*spread
	}

	return time.Duration(delay)
}
