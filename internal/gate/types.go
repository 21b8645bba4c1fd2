package gate

// Priority bounds.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Config configures a Gate.
type Config struct {
	MaxConcurrent int // Default: 5
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5}
}

// ClampPriority limits p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	switch {
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	default:
		return p
	}
}

// Stats contains gate statistics.
type Stats struct {
	MaxConcurrent int   `json:"maxConcurrent"`
	Active        int   `json:"active"`
	Queued        int   `json:"queued"`
	PeakActive    int   `json:"peakActive"`
	PeakQueued    int   `json:"peakQueued"`
	Submitted     int64 `json:"submitted"`
	Admitted      int64 `json:"admitted"`
	Completed     int64 `json:"completed"`
	Cancelled     int64 `json:"cancelled"`
	Panics        int64 `json:"panics"`
}

type ticketState int

const (
	stateQueued ticketState = iota
	stateRunning
	stateDone
	stateCancelled
)

// opHeap orders queued tickets by priority descending, then seq
// ascending. Implements container/heap.Interface.
type opHeap []*Ticket

func (h opHeap) Len() int { return len(h) }

func (h opHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *opHeap) Push(x any) {
	t := x.(*Ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
