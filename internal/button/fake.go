package button

// FakeSource replays scripted edges for tests.
type FakeSource struct {
	edges chan Edge

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSource creates a FakeSource preloaded with the given edges.
func NewFakeSource(edges []Edge) *FakeSource {
	s := &FakeSource{edges: make(chan Edge, len(edges)+1)}
	for _, e := range edges {
		s.edges <- e
	}
	return s
}

// Push appends another edge to the script.
func (s *FakeSource) Push(e Edge) {
	s.edges <- e
}

// Edges returns the edge channel.
func (s *FakeSource) Edges() <-chan Edge {
	return s.edges
}

// Close marks the source as closed.
func (s *FakeSource) Close() error {
	s.Closed = true
	return nil
}
