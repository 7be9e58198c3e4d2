package conn

import (
	"errors"
	"testing"
	"time"
)

func testNow() time.Time {
	return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func newTestManager() (*Manager, *FakeTransport) {
	tr := NewFakeTransport()
	return NewManager(tr, testNow), tr
}

func TestMapReason(t *testing.T) {
	tests := []struct {
		code byte
		want DisconnectReason
	}{
		{0x08, ReasonTimeout},
		{0x13, ReasonPeer},
		{0x16, ReasonLocal},
		{0x22, ReasonLinkLayerTimeout},
		{0x3E, ReasonSetupFailure},
		{0x77, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := MapReason(tt.code); got != tt.want {
			t.Errorf("code 0x%02X: got %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestConnectRequestsParamsOnce(t *testing.T) {
	m, tr := newTestManager()
	if err := m.Start(AdvTelemetry); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.PeerConnected("aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if len(tr.ParamRequests) != 1 {
		t.Fatalf("param requests: got %d, want 1", len(tr.ParamRequests))
	}
	p := tr.ParamRequests[0]
	if p.IntervalMin != 30*time.Millisecond || p.IntervalMax != 50*time.Millisecond {
		t.Errorf("interval: got %v-%v", p.IntervalMin, p.IntervalMax)
	}
	if p.Latency != 0 {
		t.Errorf("latency: got %d, want 0", p.Latency)
	}
	if p.SupervisionTimeout != 4000*time.Millisecond {
		t.Errorf("supervision timeout: got %v", p.SupervisionTimeout)
	}

	ctx, ok := m.Context()
	if !ok {
		t.Fatal("no context after connect")
	}
	if !ctx.ParamsAccepted {
		t.Error("params not marked accepted")
	}
	if tr.Advertising {
		t.Error("still advertising while connected")
	}
}

func TestDeclinedParamsKeepLinkUsable(t *testing.T) {
	m, tr := newTestManager()
	tr.DeclineParams = true

	if err := m.PeerConnected("aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, ok := m.Context()
	if !ok {
		t.Fatal("link torn down after declined params")
	}
	if ctx.ParamsAccepted {
		t.Error("params marked accepted despite decline")
	}
	// Only one request: not retried.
	if len(tr.ParamRequests) != 1 {
		t.Errorf("param requests: got %d, want 1", len(tr.ParamRequests))
	}
}

func TestSecondPeerRejected(t *testing.T) {
	m, _ := newTestManager()
	if err := m.PeerConnected("aa:aa:aa:aa:aa:aa"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := m.PeerConnected("bb:bb:bb:bb:bb:bb"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	ctx, _ := m.Context()
	if ctx.PeerAddr != "aa:aa:aa:aa:aa:aa" {
		t.Errorf("context peer: %s", ctx.PeerAddr)
	}
}

func TestSubscriptionsResetOnReconnect(t *testing.T) {
	m, _ := newTestManager()

	m.PeerConnected("aa:bb:cc:dd:ee:ff")
	m.SetSubscription(CharHeartRate, true)
	m.SetSubscription(CharSpO2, true)
	if !m.Subscribed(CharHeartRate) || !m.AnySubscribed() {
		t.Fatal("subscriptions not tracked")
	}

	m.PeerDisconnected(0x13)
	if m.AnySubscribed() {
		t.Error("subscriptions survive disconnect")
	}

	// New link starts with no subscriptions: no persistence across
	// reconnects.
	m.PeerConnected("aa:bb:cc:dd:ee:ff")
	if m.Subscribed(CharHeartRate) || m.AnySubscribed() {
		t.Error("subscriptions persisted across reconnect")
	}
}

func TestDisconnectRestartsAdvertising(t *testing.T) {
	m, tr := newTestManager()
	m.Start(AdvDFU)
	m.PeerConnected("aa:bb:cc:dd:ee:ff")

	var got DisconnectReason
	m.OnDisconnect(func(r DisconnectReason) { got = r })

	m.PeerDisconnected(0x08)

	if got != ReasonTimeout {
		t.Errorf("surfaced reason: got %v, want timeout", got)
	}
	if !tr.Advertising {
		t.Error("advertising not restarted after disconnect")
	}
	if tr.LastMode != AdvDFU {
		t.Errorf("restart mode: got %v, want dfu", tr.LastMode)
	}
	if n, last := m.Stats(); n != 1 || last != ReasonTimeout {
		t.Errorf("stats: got (%d, %v)", n, last)
	}
}

func TestNoRestartDuringShutdown(t *testing.T) {
	m, tr := newTestManager()
	m.Start(AdvTelemetry)
	m.PeerConnected("aa:bb:cc:dd:ee:ff")

	if err := m.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	m.PeerDisconnected(0x16)

	if tr.Advertising {
		t.Error("advertising restarted during shutdown")
	}
	if !tr.Closed {
		t.Error("transport not closed")
	}
}

func TestNotifyRequiresConnection(t *testing.T) {
	m, tr := newTestManager()

	if err := m.Notify(CharHeartRate, []byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	m.PeerConnected("aa:bb:cc:dd:ee:ff")
	if err := m.Notify(CharHeartRate, []byte{1, 2}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sent := tr.Sent(CharHeartRate); len(sent) != 1 || len(sent[0]) != 2 {
		t.Errorf("sent: %v", sent)
	}
}
