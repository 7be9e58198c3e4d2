package uplink

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nisc/wearable-core/internal/telemetry"
)

func TestFormatRecordPayload(t *testing.T) {
	rec := telemetry.Record{
		Mask:        telemetry.FieldHeartRate | telemetry.FieldTemperature,
		HeartRate:   72,
		Temperature: 3685,
		At:          time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
	}

	payload, err := FormatRecordPayload(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Wearable.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Wearable.Timestamp)
	}
	if parsed.Wearable.HeartRate == nil || *parsed.Wearable.HeartRate != 72 {
		t.Errorf("unexpected heart rate: %v", parsed.Wearable.HeartRate)
	}
	if parsed.Wearable.Temperature == nil || *parsed.Wearable.Temperature != 3685 {
		t.Errorf("unexpected temperature: %v", parsed.Wearable.Temperature)
	}
	if parsed.Wearable.SpO2 != nil || parsed.Wearable.Motion != nil {
		t.Error("absent readings should be omitted")
	}
}

func TestFormatRecordPayloadExactJSON(t *testing.T) {
	rec := telemetry.Record{
		Mask:      telemetry.FieldHeartRate | telemetry.FieldSpO2,
		HeartRate: 68,
		SpO2:      97,
		At:        time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
	}

	payload, err := FormatRecordPayload(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"wearable":{"timestamp":"2026-02-03T10:30:45Z","heart_rate":68,"spo2":97}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatRecordPayloadTimezoneConversion(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	rec := telemetry.Record{
		Mask:      telemetry.FieldHeartRate,
		HeartRate: 70,
		At:        time.Date(2026, 2, 3, 10, 30, 0, 0, loc), // 10:30 EST = 15:30 UTC
	}

	payload, err := FormatRecordPayload(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Wearable.Timestamp != "2026-02-03T15:30:00Z" {
		t.Errorf("expected UTC timestamp 2026-02-03T15:30:00Z, got %s", parsed.Wearable.Timestamp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 19, 5, 51, 0, time.UTC),
		Event:     "STARTUP",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("reason field should be omitted for startup events")
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"mode":"normal"}}`)
	event := SystemEvent{
		Timestamp:  time.Now(),
		Event:      "HEARTBEAT",
		RawPayload: raw,
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	rec := telemetry.Record{
		Mask:      telemetry.FieldHeartRate,
		HeartRate: 75,
		At:        time.Now(),
	}

	if err := f.PublishRecord(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(f.Records))
	}
	if f.Records[0].HeartRate != 75 {
		t.Errorf("unexpected heart rate: %d", f.Records[0].HeartRate)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	err := f.PublishRecord(telemetry.Record{Mask: telemetry.FieldHeartRate})
	if err == nil {
		t.Error("expected error")
	}
	if len(f.Records) != 0 {
		t.Errorf("expected no records recorded on error, got %d", len(f.Records))
	}
}

func TestFakePublisherPublishSystem(t *testing.T) {
	f := NewFakePublisher()

	event := SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	if err := f.PublishSystem(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(f.SystemEvents))
	}
	if f.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("unexpected event: %s", f.SystemEvents[0].Event)
	}
	if len(f.SystemPayloads) != 1 {
		t.Fatalf("expected 1 system payload, got %d", len(f.SystemPayloads))
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()

	f.PublishRecord(telemetry.Record{Mask: telemetry.FieldHeartRate, HeartRate: 70})
	f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN"})
	f.Close()
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Records) != 0 || len(f.Payloads) != 0 {
		t.Error("records should be cleared")
	}
	if len(f.SystemEvents) != 0 || len(f.SystemPayloads) != 0 {
		t.Error("system events should be cleared")
	}
	if f.Closed {
		t.Error("closed should be reset")
	}
	if f.PublishError != nil {
		t.Error("error should be cleared")
	}
}

func TestTopics(t *testing.T) {
	if Topic != "wearable/core/telemetry" {
		t.Errorf("unexpected topic: %s", Topic)
	}
	if TopicSystem != "wearable/core/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

// Interface compliance, checked at compile time.
var _ Publisher = (*FakePublisher)(nil)
var _ Publisher = (*RealPublisher)(nil)
var _ ConnectionStatus = (*FakePublisher)(nil)
var _ ConnectionStatus = (*RealPublisher)(nil)
