// Package uplink publishes telemetry and lifecycle events to the companion
// gateway over MQTT, with abstraction for testing. The device is frequently
// out of dock range: messages published while disconnected are buffered and
// replayed on reconnect.
package uplink

import (
	"encoding/json"
	"time"

	"github.com/nisc/wearable-core/internal/telemetry"
)

// Topic is the MQTT topic for coalesced telemetry records.
const Topic = "wearable/core/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "wearable/core/system"

// Publisher publishes events to the gateway.
type Publisher interface {
	// PublishRecord sends a coalesced telemetry record to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishRecord(rec telemetry.Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown,
// heartbeat, firmware install).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "FW_INSTALLED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Wearable RecordPayload `json:"wearable"`
}

// RecordPayload contains the telemetry record details. Absent readings are
// omitted, mirroring the record's presence mask.
type RecordPayload struct {
	Timestamp   string  `json:"timestamp"`
	HeartRate   *uint16 `json:"heart_rate,omitempty"`
	Temperature *int16  `json:"temperature_centi_c,omitempty"`
	SpO2        *uint8  `json:"spo2,omitempty"`
	Motion      *uint16 `json:"motion_mg,omitempty"`
}

// FormatRecordPayload creates the JSON payload for a telemetry record.
func FormatRecordPayload(rec telemetry.Record) ([]byte, error) {
	rp := RecordPayload{
		Timestamp: rec.At.UTC().Format(time.RFC3339),
	}
	if rec.Has(telemetry.FieldHeartRate) {
		v := rec.HeartRate
		rp.HeartRate = &v
	}
	if rec.Has(telemetry.FieldTemperature) {
		v := rec.Temperature
		rp.Temperature = &v
	}
	if rec.Has(telemetry.FieldSpO2) {
		v := rec.SpO2
		rp.SpO2 = &v
	}
	if rec.Has(telemetry.FieldMotion) {
		v := rec.Motion
		rp.Motion = &v
	}
	return json.Marshal(Payload{Wearable: rp})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
