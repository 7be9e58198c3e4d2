package conn

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrBusy is returned when a second peer attempts to connect; the device
// supports exactly one concurrent link.
var ErrBusy = errors.New("conn: a peer is already connected")

// ErrNotConnected is returned for operations that need an active link.
var ErrNotConnected = errors.New("conn: no peer connected")

// ErrParamsDeclined is returned by transports when the peer or controller
// declines a connection-parameter request.
var ErrParamsDeclined = errors.New("conn: parameter request declined")

// Manager owns the connection lifecycle. It is the only writer of the
// Context; everything else reads snapshots.
type Manager struct {
	mu        sync.Mutex
	transport Transport
	mode      AdvMode
	ctx       *Context
	shutdown  bool

	disconnects  int
	lastReason   DisconnectReason
	onDisconnect []func(DisconnectReason)
	onSubscribe  []func(Characteristic, bool)

	now func() time.Time
}

// NewManager creates a Manager over the given transport.
func NewManager(transport Transport, now func() time.Time) *Manager {
	return &Manager{transport: transport, now: now}
}

// Start begins advertising in the given configuration. The mode is fixed at
// startup by the boot decision: DFU advertising or normal telemetry.
func (m *Manager) Start(mode AdvMode) error {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()

	if err := m.transport.Advertise(mode); err != nil {
		return fmt.Errorf("start advertising (%v): %w", mode, err)
	}
	log.Printf("conn: advertising started (%v)", mode)
	return nil
}

// Shutdown stops advertising and suppresses the automatic restart.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	if err := m.transport.StopAdvertising(); err != nil {
		log.Printf("conn: stop advertising: %v", err)
	}
	return m.transport.Close()
}

// PeerConnected is called by the transport when a link is established. It
// creates the connection context and requests parameter renegotiation once;
// a declined request leaves the link at default parameters.
func (m *Manager) PeerConnected(addr string) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		log.Printf("conn: rejecting second peer %s", addr)
		return ErrBusy
	}
	ctx := &Context{PeerAddr: addr, ConnectedAt: m.now()}
	m.ctx = ctx
	m.mu.Unlock()

	log.Printf("conn: peer %s connected", addr)

	if err := m.transport.StopAdvertising(); err != nil {
		log.Printf("conn: stop advertising: %v", err)
	}

	// Requested once, immediately after link establishment. Not retried:
	// default parameters are acceptable, a torn-down link is not.
	if err := m.transport.RequestParams(DesiredParams); err != nil {
		log.Printf("conn: parameter request declined, staying at defaults: %v", err)
	} else {
		m.mu.Lock()
		if m.ctx == ctx {
			m.ctx.Negotiated = DesiredParams
			m.ctx.ParamsAccepted = true
		}
		m.mu.Unlock()
	}
	return nil
}

// PeerDisconnected is called by the transport with the raw reason code. The
// context is destroyed, the classified reason is surfaced to collaborators,
// and advertising restarts unless the device is mid-shutdown.
func (m *Manager) PeerDisconnected(rawReason byte) {
	reason := MapReason(rawReason)

	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return
	}
	addr := m.ctx.PeerAddr
	m.ctx = nil
	m.disconnects++
	m.lastReason = reason
	callbacks := append([]func(DisconnectReason){}, m.onDisconnect...)
	restart := !m.shutdown
	mode := m.mode
	m.mu.Unlock()

	log.Printf("conn: peer %s disconnected (%v)", addr, reason)

	for _, fn := range callbacks {
		fn(reason)
	}

	if restart {
		if err := m.transport.Advertise(mode); err != nil {
			log.Printf("conn: restart advertising: %v", err)
		} else {
			log.Printf("conn: advertising restarted (%v)", mode)
		}
	}
}

// SetSubscription is called by the transport on a subscription configuration
// write from the peer.
func (m *Manager) SetSubscription(c Characteristic, on bool) {
	m.mu.Lock()
	if m.ctx == nil || c < 0 || c >= NumCharacteristics {
		m.mu.Unlock()
		return
	}
	m.ctx.Subscriptions[c] = on
	callbacks := append([]func(Characteristic, bool){}, m.onSubscribe...)
	m.mu.Unlock()

	log.Printf("conn: %v subscription %v", c, on)
	for _, fn := range callbacks {
		fn(c, on)
	}
}

// Subscribed reports whether the peer has an active subscription for the
// characteristic.
func (m *Manager) Subscribed(c Characteristic) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil || c < 0 || c >= NumCharacteristics {
		return false
	}
	return m.ctx.Subscriptions[c]
}

// AnySubscribed reports whether at least one telemetry subscription is
// active.
func (m *Manager) AnySubscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return false
	}
	for _, on := range m.ctx.Subscriptions {
		if on {
			return true
		}
	}
	return false
}

// Notify pushes a payload to the peer on the given characteristic.
func (m *Manager) Notify(c Characteristic, payload []byte) error {
	m.mu.Lock()
	connected := m.ctx != nil
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return m.transport.Notify(c, payload)
}

// Context returns a snapshot of the current connection context, if any.
func (m *Manager) Context() (Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return Context{}, false
	}
	return *m.ctx, true
}

// Stats returns the disconnect counter and the last classified reason.
func (m *Manager) Stats() (disconnects int, last DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects, m.lastReason
}

// OnDisconnect registers a collaborator callback for classified disconnect
// events. Callbacks run outside the manager lock.
func (m *Manager) OnDisconnect(fn func(DisconnectReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// OnSubscribe registers a collaborator callback for subscription changes.
func (m *Manager) OnSubscribe(fn func(Characteristic, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSubscribe = append(m.onSubscribe, fn)
}
