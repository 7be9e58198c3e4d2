// Package status provides a thread-safe status tracker for the wearable
// daemon. It is read by HTTP handlers and the uplink heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/nisc/wearable-core/internal/bootmode"
	"github.com/nisc/wearable-core/internal/button"
	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/dfu"
	"github.com/nisc/wearable-core/internal/image"
	"github.com/nisc/wearable-core/internal/telemetry"
)

// LinkInfo contains connection state. This is a local copy to avoid holding
// live conn types in the snapshot.
type LinkInfo struct {
	PeerAddr      string
	ConnectedAt   time.Time
	ParamsOK      bool
	Subscriptions int
}

// FaultInfo is the persisted fault record for display.
type FaultInfo struct {
	Code   string
	Detail string
	Time   time.Time
}

// Config contains daemon configuration for display.
type Config struct {
	FlushMs      int64
	InactivityMs int64
	Broker       string
	HTTPPort     string
	FlashPath    string
}

// Snapshot is a point-in-time view of daemon state. It is a value type,
// safe to use after the lock is released.
type Snapshot struct {
	Mode          bootmode.Mode
	Slot          image.SlotState
	DFU           dfu.Progress
	Link          *LinkInfo
	Disconnects   int
	LastReason    conn.DisconnectReason
	Buttons       button.Counts
	LastRecord    telemetry.Record
	Fault         *FaultInfo
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, boot mode, and
// config.
func NewTracker(startTime time.Time, mode bootmode.Mode, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Mode:      mode,
			Config:    cfg,
		},
	}
}

// Update sets slot state, transfer progress, and button counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(slot image.SlotState, progress dfu.Progress, buttons button.Counts) {
	t.mu.Lock()
	t.snap.Slot = slot
	t.snap.DFU = progress
	t.snap.Buttons = buttons
	t.mu.Unlock()
}

// SetLink sets the connection info. A nil info means no peer is connected.
func (t *Tracker) SetLink(info *LinkInfo) {
	t.mu.Lock()
	t.snap.Link = info
	t.mu.Unlock()
}

// SetDisconnects sets the disconnect counter and last classified reason.
func (t *Tracker) SetDisconnects(n int, last conn.DisconnectReason) {
	t.mu.Lock()
	t.snap.Disconnects = n
	t.snap.LastReason = last
	t.mu.Unlock()
}

// SetRecord sets the most recent coalesced telemetry record.
func (t *Tracker) SetRecord(rec telemetry.Record) {
	t.mu.Lock()
	t.snap.LastRecord = rec
	t.mu.Unlock()
}

// SetFault sets the persisted fault record for display.
func (t *Tracker) SetFault(f *FaultInfo) {
	t.mu.Lock()
	t.snap.Fault = f
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
