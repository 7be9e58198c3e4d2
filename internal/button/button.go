// Package button converts raw button edges into debounced, classified
// press events. The classifier is pure: it has no goroutines or sleeps, and
// time is always passed in, so tests drive it with synthetic timestamps.
package button

import "time"

// State is the classifier's debounce state.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StatePressed
)

// String returns the state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StatePressed:
		return "pressed"
	}
	return "unknown"
}

// EventKind classifies one full press-release cycle.
type EventKind int

const (
	// ShortRelease is a press shorter than the medium-hold threshold.
	ShortRelease EventKind = iota
	// MediumHold is a press at/above the medium threshold and below the
	// long threshold. Enters DFU at boot.
	MediumHold
	// LongHold is a press at/above the long threshold. Factory reset.
	LongHold
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case ShortRelease:
		return "SHORT_RELEASE"
	case MediumHold:
		return "MEDIUM_HOLD"
	case LongHold:
		return "LONG_HOLD"
	}
	return "unknown"
}

// Event is one classified press. Exactly one Event is emitted per physical
// press-release cycle.
type Event struct {
	Kind     EventKind
	Duration time.Duration // measured hold duration
	At       time.Time     // release time
}

// Default timing. The settle window filters electrical bounce; the two hold
// thresholds separate DFU entry from factory reset.
const (
	DefaultSettleWindow = 50 * time.Millisecond
	DefaultMediumHold   = 3000 * time.Millisecond
	DefaultLongHold     = 10000 * time.Millisecond
)

// Counts tracks presses and holds since startup, for diagnostics.
type Counts struct {
	Presses int
	Holds   int
}

// Classifier is the debounced press/hold state machine:
// Idle -> Debouncing -> Pressed -> {ShortRelease | MediumHold | LongHold}.
type Classifier struct {
	settle time.Duration
	medium time.Duration
	long   time.Duration

	state      State
	pressStart time.Time
	counts     Counts
}

// NewClassifier creates a Classifier with the given settle window and hold
// thresholds. medium must be below long; callers pass the configured values.
func NewClassifier(settle, medium, long time.Duration) *Classifier {
	return &Classifier{settle: settle, medium: medium, long: long}
}

// Edge feeds one confirmed-level edge into the state machine. pressed is the
// logical level after the edge (true = button down). Returns a classified
// event and true when a press-release cycle completes.
func (c *Classifier) Edge(pressed bool, now time.Time) (Event, bool) {
	switch c.state {
	case StateIdle:
		if pressed {
			c.state = StateDebouncing
			c.pressStart = now
		}
		return Event{}, false

	case StateDebouncing:
		if pressed {
			// Further edges within the settle window are ignored,
			// not queued.
			return Event{}, false
		}
		held := now.Sub(c.pressStart)
		if held < c.settle {
			// Bounce: the level did not stay stable for the
			// settle window. No classification.
			c.state = StateIdle
			return Event{}, false
		}
		return c.classify(held, now), true

	case StatePressed:
		if pressed {
			return Event{}, false
		}
		return c.classify(now.Sub(c.pressStart), now), true
	}
	return Event{}, false
}

// Tick promotes Debouncing to Pressed once the level has been stable past
// the settle window. Classification still happens on release; Tick only
// keeps State() accurate for status consumers.
func (c *Classifier) Tick(now time.Time) {
	if c.state == StateDebouncing && now.Sub(c.pressStart) >= c.settle {
		c.state = StatePressed
		c.counts.Presses++
	}
}

// State returns the current debounce state.
func (c *Classifier) State() State {
	return c.state
}

// Counts returns press/hold counters since startup.
func (c *Classifier) Counts() Counts {
	return c.counts
}

func (c *Classifier) classify(held time.Duration, now time.Time) Event {
	if c.state == StateDebouncing {
		// Release arrived before any Tick promoted the state; the
		// press still counts.
		c.counts.Presses++
	}
	c.state = StateIdle

	kind := ShortRelease
	switch {
	case held >= c.long:
		kind = LongHold
		c.counts.Holds++
	case held >= c.medium:
		kind = MediumHold
		c.counts.Holds++
	}
	return Event{Kind: kind, Duration: held, At: now}
}
