//go:build linux

package button

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealSource reads button edges from the Linux GPIO character device. The
// line is requested active-low with a pull-up, so a physical press reports
// as logical true.
type RealSource struct {
	line  *gpiocdev.Line
	edges chan Edge
}

// NewRealSource requests the button line with both-edge events. The kernel
// event handler only enqueues; it never evaluates classifier state.
func NewRealSource(chip string, pin int) (*RealSource, error) {
	s := &RealSource{edges: make(chan Edge, edgeQueueCap)}

	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.AsActiveLow,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handleEvent))
	if err != nil {
		return nil, fmt.Errorf("request button line %s:%d: %w", chip, pin, err)
	}

	s.line = line
	return s, nil
}

// handleEvent runs on the gpiocdev event goroutine. Enqueue only; drop when
// the consumer lags rather than blocking the event thread.
func (s *RealSource) handleEvent(evt gpiocdev.LineEvent) {
	pressed := evt.Type == gpiocdev.LineEventRisingEdge
	select {
	case s.edges <- Edge{Pressed: pressed, Time: time.Now()}:
	default:
		// Queue full. Bounce edges beyond the queue are noise.
	}
}

// Edges returns the edge channel.
func (s *RealSource) Edges() <-chan Edge {
	return s.edges
}

// Close releases the GPIO line.
func (s *RealSource) Close() error {
	if s.line != nil {
		if err := s.line.Close(); err != nil {
			return fmt.Errorf("close button line: %w", err)
		}
	}
	return nil
}
