package button

import "time"

// Edge is one raw level change from the hardware. The producing context
// (interrupt handler or kernel event thread) only constructs and enqueues
// edges; all state evaluation happens in the consumer.
type Edge struct {
	Pressed bool
	Time    time.Time
}

// Source delivers raw button edges. The real implementation uses the Linux
// GPIO character device; the fake replays a script.
type Source interface {
	// Edges returns the channel of raw edges. The channel is bounded;
	// edges are dropped, never blocked on, when the consumer lags.
	Edges() <-chan Edge

	// Close releases the underlying line.
	Close() error
}

// edgeQueueCap bounds the edge channel. A human press produces a handful of
// bounce edges; anything beyond this is noise we can drop.
const edgeQueueCap = 32

// Default button wiring (BCM numbering, active-low with pull-up).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 11
)
