package conn

import "sync"

// FakeTransport records transport calls for test assertions.
type FakeTransport struct {
	mu sync.Mutex

	// Advertising reports the current advertising state.
	Advertising bool

	// AdvStarts counts Advertise calls; LastMode is the last mode used.
	AdvStarts int
	LastMode  AdvMode

	// ParamRequests records every parameter request.
	ParamRequests []Params

	// DeclineParams makes RequestParams fail, simulating a peer decline.
	DeclineParams bool

	// Notifications records Notify calls per characteristic.
	Notifications map[Characteristic][][]byte

	// NotifyError, if set, is returned by Notify.
	NotifyError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeTransport creates a FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Notifications: make(map[Characteristic][][]byte)}
}

// Advertise records the advertising start.
func (f *FakeTransport) Advertise(mode AdvMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Advertising = true
	f.AdvStarts++
	f.LastMode = mode
	return nil
}

// StopAdvertising records the stop.
func (f *FakeTransport) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Advertising = false
	return nil
}

// RequestParams records the request, optionally declining it.
func (f *FakeTransport) RequestParams(p Params) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ParamRequests = append(f.ParamRequests, p)
	if f.DeclineParams {
		return ErrParamsDeclined
	}
	return nil
}

// Notify records the payload.
func (f *FakeTransport) Notify(c Characteristic, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyError != nil {
		return f.NotifyError
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.Notifications[c] = append(f.Notifications[c], cp)
	return nil
}

// Close marks the transport as closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Sent returns the recorded notifications for a characteristic.
func (f *FakeTransport) Sent(c Characteristic) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Notifications[c]
}
