package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_FIFO(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := buf.TryReceive()
		if !ok || val != i {
			t.Fatalf("TryReceive() = %d, %v; want %d, true", val, ok, i)
		}
	}
	if _, ok := buf.TryReceive(); ok {
		t.Error("TryReceive on empty buffer should return false")
	}
}

func TestGrowableBuffer_Growth(t *testing.T) {
	tests := []struct {
		name        string
		initial     int
		max         int
		sends       int
		wantCap     int
		wantDropped int64
	}{
		{"grows at 70 percent", 10, 0, 7, 20, 0},
		{"unbounded keeps doubling", 4, 0, 100, 256, 0},
		{"clamped to ceiling", 4, 8, 10, 8, 2},
		{"ceiling below initial", 16, 4, 20, 16, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewGrowableBuffer[int](tt.initial, tt.max)
			for i := 0; i < tt.sends; i++ {
				buf.Send(i)
			}

			stats := buf.Stats()
			if stats.Capacity != tt.wantCap {
				t.Errorf("Capacity = %d, want %d", stats.Capacity, tt.wantCap)
			}
			if stats.Dropped != tt.wantDropped {
				t.Errorf("Dropped = %d, want %d", stats.Dropped, tt.wantDropped)
			}

			// Accepted items keep their order across resizes
			want := 0
			for {
				val, ok := buf.TryReceive()
				if !ok {
					break
				}
				if val != want {
					t.Fatalf("received %d, want %d", val, want)
				}
				want++
			}
			if int64(want) != int64(tt.sends)-tt.wantDropped {
				t.Errorf("received %d items, want %d", want, int64(tt.sends)-tt.wantDropped)
			}
		})
	}
}

func TestGrowableBuffer_WrapAround(t *testing.T) {
	buf := NewGrowableBuffer[int](5, 0)

	buf.Send(1)
	buf.Send(2)
	buf.Send(3)
	buf.TryReceive()
	buf.TryReceive()

	// Wraps, then grows while wrapped
	for i := 4; i <= 8; i++ {
		buf.Send(i)
	}

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := buf.TryReceive()
		if !ok || got != want {
			t.Fatalf("TryReceive() = %d, %v; want %d, true", got, ok, want)
		}
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	received := make(chan int, 1)

	go func() {
		val, ok := buf.Receive()
		if ok {
			received <- val
		}
	}()

	// Give receiver time to start waiting
	time.Sleep(10 * time.Millisecond)
	buf.Send(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	buf.Send(1)
	buf.Send(2)
	buf.Close()

	if !buf.Closed() {
		t.Error("Closed() = false after Close")
	}
	if buf.Send(3) {
		t.Error("Send should return false after Close")
	}

	// Buffered items are still delivered, then Receive reports closed
	for _, want := range []int{1, 2} {
		val, ok := buf.Receive()
		if !ok || val != want {
			t.Errorf("Receive() = %d, %v; want %d, true", val, ok, want)
		}
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive should return false when empty and closed")
	}
}

func TestGrowableBuffer_CloseUnblocksReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	done := make(chan bool, 1)

	go func() {
		_, ok := buf.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Receive should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Receive")
	}
}

func TestGrowableBuffer_DrainTo(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	for i := 0; i < 10; i++ {
		buf.Send(i)
	}

	items := buf.DrainTo(5)
	if len(items) != 5 {
		t.Fatalf("DrainTo(5) returned %d items, want 5", len(items))
	}
	for i, val := range items {
		if val != i {
			t.Errorf("items[%d] = %d, want %d", i, val, i)
		}
	}

	items = buf.DrainTo(0) // 0 means all
	if len(items) != 5 || items[0] != 5 {
		t.Errorf("DrainTo(0) = %v, want [5..9]", items)
	}
	if items := buf.DrainTo(0); items != nil {
		t.Errorf("DrainTo on empty = %v, want nil", items)
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 0)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			buf.Send(i)
		}
	}()

	received := make([]int, 0, numItems)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			if val, ok := buf.Receive(); ok {
				received = append(received, val)
			}
		}
	}()

	wg.Wait()

	// Single producer and single consumer preserve order
	if len(received) != numItems {
		t.Fatalf("received %d items, want %d", len(received), numItems)
	}
	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d", i, val)
		}
	}
}

func TestGrowableBuffer_Stats(t *testing.T) {
	buf := NewGrowableBuffer[int](10, 40)

	stats := buf.Stats()
	if stats.Count != 0 || stats.Capacity != 10 || stats.MaxCapacity != 40 {
		t.Errorf("initial stats incorrect: %+v", stats)
	}

	buf.Send(1)
	buf.Send(2)
	buf.Send(3)
	buf.TryReceive()
	buf.TryReceive()

	stats = buf.Stats()
	if stats.Count != 1 || stats.TotalReceived != 3 || stats.TotalSent != 2 {
		t.Errorf("stats after traffic: %+v", stats)
	}
}

func TestNewGrowableBuffer_MinCapacity(t *testing.T) {
	for _, initial := range []int{0, -5} {
		if got := NewGrowableBuffer[int](initial, 0).Cap(); got != 1 {
			t.Errorf("Cap() = %d, want 1 for initial capacity %d", got, initial)
		}
	}
}
