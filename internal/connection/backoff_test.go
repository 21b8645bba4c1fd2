package connection

import (
	"testing"
	"time"
)

func TestBackoff_FixedInterval(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Multiplier: 1, MaxAttempts: 3}

	for i := 1; i <= 3; i++ {
		if b.Exhausted() {
			t.Fatalf("exhausted before attempt %d", i)
		}
		attempt, delay := b.Next()
		if attempt != i {
			t.Errorf("attempt = %d, want %d", attempt, i)
		}
		if delay != 100*time.Millisecond {
			t.Errorf("attempt %d delay = %v, want 100ms", i, delay)
		}
	}

	if !b.Exhausted() {
		t.Error("expected exhausted after 3 attempts")
	}

	b.Reset()
	if b.Attempts() != 0 || b.Exhausted() {
		t.Errorf("after Reset attempts = %d, exhausted = %v", b.Attempts(), b.Exhausted())
	}
}

func TestBackoff_Exponential(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 10 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Unlimited(t *testing.T) {
	b := &Backoff{Base: time.Millisecond, MaxAttempts: 0}
	for i := 0; i < 100; i++ {
		b.Next()
	}
	if b.Exhausted() {
		t.Error("unlimited backoff should never be exhausted")
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := &Backoff{Base: time.Second, Jitter: 0.5}

	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("Delay = %v, want within [500ms, 1.5s]", d)
		}
	}
}

func TestNewBackoff(t *testing.T) {
	cfg := DefaultManagerConfig()
	b := NewBackoff(cfg)

	if b.Base != cfg.ReconnectInterval {
		t.Errorf("Base = %v, want %v", b.Base, cfg.ReconnectInterval)
	}
	if b.MaxAttempts != cfg.MaxReconnectAttempts {
		t.Errorf("MaxAttempts = %d, want %d", b.MaxAttempts, cfg.MaxReconnectAttempts)
	}
}
