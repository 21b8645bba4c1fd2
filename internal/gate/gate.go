package gate

import (
	"container/heap"
	"log/slog"
	"sync"
)

// Gate bounds the number of concurrently running operations.
type Gate struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active int
	queue  opHeap
	seq    uint64
	idle   *sync.Cond

	peakActive int
	peakQueued int
	submitted  int64
	admitted   int64
	completed  int64
	cancelled  int64
	panics     int64
}

// Ticket tracks one submitted operation.
type Ticket struct {
	Key string

	gate     *Gate
	priority int
	seq      uint64
	index    int
	state    ticketState
	run      func()
	started  chan struct{}
	done     chan struct{}
}

// Priority returns the clamped priority the ticket was queued with.
func (t *Ticket) Priority() int { return t.priority }

// Started is closed when the operation is admitted.
func (t *Ticket) Started() <-chan struct{} { return t.started }

// Done is closed when the operation has finished or was cancelled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Cancel removes the ticket from the queue if it has not been admitted.
func (t *Ticket) Cancel() bool { return t.gate.Cancel(t) }

// New creates a Gate.
func New(cfg Config, logger *slog.Logger) *Gate {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gate{
		cfg:    cfg,
		logger: logger.With("component", "gate"),
	}
	g.idle = sync.NewCond(&g.mu)
	return g
}

// Submit runs fn now if a slot is free, otherwise queues it at priority
// (clamped to 1-10). fn runs on its own goroutine; a panic in fn is
// recovered and still frees the slot.
func (g *Gate) Submit(key string, priority int, fn func()) *Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	t := &Ticket{
		Key:      key,
		gate:     g,
		priority: ClampPriority(priority),
		seq:      g.seq,
		index:    -1,
		run:      fn,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	g.submitted++

	if g.active < g.cfg.MaxConcurrent {
		g.admit(t)
		return t
	}

	heap.Push(&g.queue, t)
	if n := g.queue.Len(); n > g.peakQueued {
		g.peakQueued = n
	}
	g.logger.Debug("operation queued",
		"key", key,
		"priority", t.priority,
		"queued", g.queue.Len(),
	)
	return t
}

// Cancel removes a still-queued ticket. It returns false if the
// operation was already admitted or finished.
func (g *Gate) Cancel(t *Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t.state != stateQueued || t.index < 0 {
		return false
	}
	heap.Remove(&g.queue, t.index)
	t.state = stateCancelled
	close(t.done)
	g.cancelled++
	g.signalIdle()
	return true
}

// Wait blocks until no operation is active or queued.
func (g *Gate) Wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.active > 0 || g.queue.Len() > 0 {
		g.idle.Wait()
	}
}

// Stats returns gate statistics.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		MaxConcurrent: g.cfg.MaxConcurrent,
		Active:        g.active,
		Queued:        g.queue.Len(),
		PeakActive:    g.peakActive,
		PeakQueued:    g.peakQueued,
		Submitted:     g.submitted,
		Admitted:      g.admitted,
		Completed:     g.completed,
		Cancelled:     g.cancelled,
		Panics:        g.panics,
	}
}

// admit starts t. Must be called with lock held.
func (g *Gate) admit(t *Ticket) {
	t.state = stateRunning
	g.active++
	g.admitted++
	if g.active > g.peakActive {
		g.peakActive = g.active
	}
	close(t.started)
	go g.execute(t)
}

func (g *Gate) execute(t *Ticket) {
	defer g.release(t)
	defer func() {
		if r := recover(); r != nil {
			g.mu.Lock()
			g.panics++
			g.mu.Unlock()
			g.logger.Error("operation panicked", "key", t.Key, "panic", r)
		}
	}()
	t.run()
}

// release frees t's slot and drains the queue.
func (g *Gate) release(t *Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t.state = stateDone
	close(t.done)
	g.active--
	g.completed++

	for g.active < g.cfg.MaxConcurrent && g.queue.Len() > 0 {
		next := heap.Pop(&g.queue).(*Ticket)
		g.admit(next)
	}
	g.signalIdle()
}

// Must be called with lock held.
func (g *Gate) signalIdle() {
	if g.active == 0 && g.queue.Len() == 0 {
		g.idle.Broadcast()
	}
}
