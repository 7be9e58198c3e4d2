package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nisc/wearable-core/internal/bootmode"
	"github.com/nisc/wearable-core/internal/button"
	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/dfu"
	"github.com/nisc/wearable-core/internal/image"
	"github.com/nisc/wearable-core/internal/telemetry"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{FlushMs: 1000, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, bootmode.Normal, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Mode != bootmode.Normal {
		t.Errorf("Mode: got %v, want normal", snap.Mode)
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if snap.Slot != image.SlotEmpty {
		t.Errorf("Slot: got %v, want empty", snap.Slot)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), bootmode.DFU, Config{})

	tr.Update(image.SlotPending, dfu.Progress{Active: true, Received: 512, Total: 4096}, button.Counts{Presses: 3, Holds: 1})

	snap := tr.Snapshot()
	if snap.Slot != image.SlotPending {
		t.Errorf("Slot: got %v, want pending", snap.Slot)
	}
	if !snap.DFU.Active || snap.DFU.Received != 512 {
		t.Errorf("DFU: %+v", snap.DFU)
	}
	if snap.Buttons.Presses != 3 || snap.Buttons.Holds != 1 {
		t.Errorf("Buttons: %+v", snap.Buttons)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), bootmode.Normal, Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetLink(t *testing.T) {
	tr := NewTracker(time.Now(), bootmode.Normal, Config{})

	if tr.Snapshot().Link != nil {
		t.Error("expected nil Link initially")
	}

	tr.SetLink(&LinkInfo{PeerAddr: "aa:bb:cc:dd:ee:ff", ParamsOK: true, Subscriptions: 2})

	snap := tr.Snapshot()
	if snap.Link == nil {
		t.Fatal("expected non-nil Link")
	}
	if snap.Link.PeerAddr != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Link.PeerAddr: got %q", snap.Link.PeerAddr)
	}

	tr.SetLink(nil)
	if tr.Snapshot().Link != nil {
		t.Error("Link not cleared")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), bootmode.Normal, Config{})
	tr.Update(image.SlotPending, dfu.Progress{}, button.Counts{Presses: 1})

	snap1 := tr.Snapshot()

	tr.Update(image.SlotConfirmed, dfu.Progress{}, button.Counts{Presses: 2})

	// snap1 should still reflect old state
	if snap1.Slot != image.SlotPending {
		t.Error("snapshot should be a copy; Slot was modified")
	}
	if snap1.Buttons.Presses != 1 {
		t.Error("snapshot should be a copy; Buttons were modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Mode:          bootmode.DFU,
		Slot:          image.SlotPending,
		DFU:           dfu.Progress{Active: true, Received: 100, Total: 400, Sessions: 1},
		Buttons:       button.Counts{Presses: 5, Holds: 2},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{FlushMs: 1000, Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Mode != "dfu" {
		t.Errorf("Mode: got %q, want dfu", parsed.Status.Mode)
	}
	if parsed.Status.Slot != "pending" {
		t.Errorf("Slot: got %q, want pending", parsed.Status.Slot)
	}
	if !parsed.Status.DFU.Active || parsed.Status.DFU.Received != 100 {
		t.Errorf("DFU: %+v", parsed.Status.DFU)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Buttons.Presses != 5 {
		t.Errorf("Buttons.Presses: got %d, want 5", parsed.Status.Buttons.Presses)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONWithLinkAndTelemetry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Mode:      bootmode.Normal,
		StartTime: start,
		Now:       start.Add(time.Minute),
		Link: &LinkInfo{
			PeerAddr:      "aa:bb:cc:dd:ee:ff",
			ConnectedAt:   start.Add(30 * time.Second),
			ParamsOK:      true,
			Subscriptions: 2,
		},
		LastRecord: telemetry.Record{
			Mask:      telemetry.FieldHeartRate | telemetry.FieldSpO2,
			HeartRate: 72,
			SpO2:      98,
			At:        start.Add(55 * time.Second),
		},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Link == nil {
		t.Fatal("expected link in JSON")
	}
	if parsed.Status.Link.Peer != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Link.Peer: got %q", parsed.Status.Link.Peer)
	}
	tj := parsed.Status.Telemetry
	if tj == nil {
		t.Fatal("expected telemetry in JSON")
	}
	if tj.HeartRate == nil || *tj.HeartRate != 72 {
		t.Errorf("HeartRate: %v", tj.HeartRate)
	}
	if tj.SpO2 == nil || *tj.SpO2 != 98 {
		t.Errorf("SpO2: %v", tj.SpO2)
	}
	if tj.Temperature != nil || tj.Motion != nil {
		t.Error("absent fields should be omitted")
	}
}

func TestFormatJSONDisconnectReason(t *testing.T) {
	snap := Snapshot{
		StartTime:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:         time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Disconnects: 2,
		LastReason:  conn.ReasonTimeout,
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Disconnects != 2 {
		t.Errorf("Disconnects: got %d, want 2", parsed.Status.Disconnects)
	}
	if parsed.Status.LastReason != "timeout" {
		t.Errorf("LastReason: got %q, want timeout", parsed.Status.LastReason)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Mode:      bootmode.Normal,
		Slot:      image.SlotConfirmed,
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Slot != "confirmed" {
		t.Errorf("Slot: got %q, want confirmed", parsed.Status.Slot)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithFault(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Fault: &FaultInfo{
			Code:   "flash-protect",
			Detail: "write to active slot",
			Time:   time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC),
		},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Fault == nil {
		t.Fatal("expected fault in JSON")
	}
	if parsed.Status.Fault.Code != "flash-protect" {
		t.Errorf("Fault.Code: got %q", parsed.Status.Fault.Code)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), bootmode.Normal, Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(image.SlotPending, dfu.Progress{Received: uint32(i)}, button.Counts{Presses: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetLink(&LinkInfo{PeerAddr: "aa:bb:cc:dd:ee:ff"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
