package ble

import "sync"

// peerTracker enforces the single-peer rule at the transport edge: the first
// central to touch a characteristic owns the link, and activity from any
// other address is refused until the link is released. Notify sessions are
// reference-counted so the last one ending marks the disconnect.
type peerTracker struct {
	mu   sync.Mutex
	addr string
	refs int
}

// acquire claims a notify session for addr. first reports the link's first
// activity; ok is false while a different peer holds the link.
func (t *peerTracker) acquire(addr string) (first, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.addr {
	case "":
		t.addr = addr
		t.refs = 1
		return true, true
	case addr:
		t.refs++
		return false, true
	}
	return false, false
}

// release drops one of addr's notify sessions. last reports that the link's
// final session ended.
func (t *peerTracker) release(addr string) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addr != addr {
		return false
	}
	t.refs--
	if t.refs <= 0 {
		t.addr = ""
		t.refs = 0
		return true
	}
	return false
}

// ensure registers addr as the link peer without claiming a session: a
// central may write before it subscribes to anything.
func (t *peerTracker) ensure(addr string) (first, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.addr {
	case "":
		t.addr = addr
		return true, true
	case addr:
		return false, true
	}
	return false, false
}

// forget rolls back a registration the connection manager refused.
func (t *peerTracker) forget(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addr == addr && t.refs <= 1 {
		t.addr = ""
		t.refs = 0
	}
}
