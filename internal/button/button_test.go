package button

import (
	"testing"
	"time"
)

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultSettleWindow, DefaultMediumHold, DefaultLongHold)
}

// press runs a full press-release cycle of the given duration and returns
// the emitted event, failing if none or more than one is emitted.
func press(t *testing.T, c *Classifier, start time.Time, held time.Duration) Event {
	t.Helper()

	if _, ok := c.Edge(true, start); ok {
		t.Fatal("press edge emitted an event")
	}
	evt, ok := c.Edge(false, start.Add(held))
	if !ok {
		t.Fatalf("release after %v emitted no event", held)
	}
	return evt
}

func TestHoldClassificationBoundaries(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		held time.Duration
		want EventKind
	}{
		{100 * time.Millisecond, ShortRelease},
		{2999 * time.Millisecond, ShortRelease},
		{3000 * time.Millisecond, MediumHold}, // at medium threshold
		{3200 * time.Millisecond, MediumHold},
		{9999 * time.Millisecond, MediumHold},
		{10000 * time.Millisecond, LongHold}, // at long threshold
		{15 * time.Second, LongHold},
	}

	for _, tt := range tests {
		c := newTestClassifier()
		evt := press(t, c, base, tt.held)
		if evt.Kind != tt.want {
			t.Errorf("held %v: got %v, want %v", tt.held, evt.Kind, tt.want)
		}
		if evt.Duration != tt.held {
			t.Errorf("held %v: reported duration %v", tt.held, evt.Duration)
		}
	}
}

func TestBounceWithinSettleWindowIgnored(t *testing.T) {
	c := newTestClassifier()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Press then release 10ms later: electrical bounce, no event.
	c.Edge(true, base)
	if _, ok := c.Edge(false, base.Add(10*time.Millisecond)); ok {
		t.Fatal("bounce release emitted an event")
	}
	if c.State() != StateIdle {
		t.Fatalf("state after bounce: %v, want idle", c.State())
	}

	// A clean press afterwards still classifies normally.
	evt := press(t, c, base.Add(time.Second), 500*time.Millisecond)
	if evt.Kind != ShortRelease {
		t.Errorf("got %v, want ShortRelease", evt.Kind)
	}
}

func TestRepeatedEdgesWhileDebouncingIgnored(t *testing.T) {
	c := newTestClassifier()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.Edge(true, base)
	// Glitchy repeated press edges inside the settle window.
	for i := 1; i <= 3; i++ {
		if _, ok := c.Edge(true, base.Add(time.Duration(i)*5*time.Millisecond)); ok {
			t.Fatal("glitch edge emitted an event")
		}
	}

	evt, ok := c.Edge(false, base.Add(4*time.Second))
	if !ok {
		t.Fatal("release emitted no event")
	}
	if evt.Kind != MediumHold {
		t.Errorf("got %v, want MediumHold", evt.Kind)
	}
}

func TestSingleEventPerPressCycle(t *testing.T) {
	c := newTestClassifier()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	press(t, c, base, 4*time.Second)

	// A stray release edge after the cycle must not emit again.
	if _, ok := c.Edge(false, base.Add(5*time.Second)); ok {
		t.Fatal("stray release emitted a second event")
	}
	if c.Counts().Presses != 1 {
		t.Errorf("press count: got %d, want 1", c.Counts().Presses)
	}
	if c.Counts().Holds != 1 {
		t.Errorf("hold count: got %d, want 1", c.Counts().Holds)
	}
}

func TestTickPromotesToPressed(t *testing.T) {
	c := newTestClassifier()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.Edge(true, base)
	if c.State() != StateDebouncing {
		t.Fatalf("state: %v, want debouncing", c.State())
	}

	c.Tick(base.Add(20 * time.Millisecond))
	if c.State() != StateDebouncing {
		t.Fatal("promoted before settle window elapsed")
	}

	c.Tick(base.Add(60 * time.Millisecond))
	if c.State() != StatePressed {
		t.Fatalf("state: %v, want pressed", c.State())
	}

	// Release from Pressed classifies once, and press is not double counted.
	evt, ok := c.Edge(false, base.Add(12*time.Second))
	if !ok || evt.Kind != LongHold {
		t.Fatalf("got (%v, %v), want LongHold", evt, ok)
	}
	if c.Counts().Presses != 1 {
		t.Errorf("press count: got %d, want 1", c.Counts().Presses)
	}
}

func TestFakeSource(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := NewFakeSource([]Edge{
		{Pressed: true, Time: base},
		{Pressed: false, Time: base.Add(3200 * time.Millisecond)},
	})
	defer src.Close()

	c := newTestClassifier()
	var got []Event
	for i := 0; i < 2; i++ {
		e := <-src.Edges()
		if evt, ok := c.Edge(e.Pressed, e.Time); ok {
			got = append(got, evt)
		}
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Kind != MediumHold {
		t.Errorf("got %v, want MediumHold", got[0].Kind)
	}
}
