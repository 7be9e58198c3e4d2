package status

import (
	"encoding/json"
	"time"

	"github.com/nisc/wearable-core/internal/telemetry"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Mode          string         `json:"mode"`
	Slot          string         `json:"slot"`
	DFU           DFUJSON        `json:"dfu"`
	Link          *LinkJSON      `json:"link,omitempty"`
	Disconnects   int            `json:"disconnects"`
	LastReason    string         `json:"last_disconnect_reason,omitempty"`
	Buttons       CountsJSON     `json:"button_counts"`
	Telemetry     *TelemetryJSON `json:"telemetry,omitempty"`
	Fault         *FaultJSON     `json:"fault,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Config        ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of button event counts.
type CountsJSON struct {
	Presses int `json:"presses"`
	Holds   int `json:"holds"`
}

// DFUJSON is the JSON representation of transfer progress.
type DFUJSON struct {
	Active     bool   `json:"active"`
	Received   uint32 `json:"received"`
	Total      uint32 `json:"total"`
	Committing bool   `json:"committing"`
	Sessions   int    `json:"sessions"`
	Timeouts   int    `json:"timeouts"`
}

// LinkJSON is the JSON representation of the peer link.
type LinkJSON struct {
	Peer          string `json:"peer"`
	ConnectedAt   string `json:"connected_at"`
	ParamsOK      bool   `json:"params_ok"`
	Subscriptions int    `json:"subscriptions"`
}

// TelemetryJSON is the JSON representation of the last coalesced record.
type TelemetryJSON struct {
	HeartRate   *uint16 `json:"heart_rate,omitempty"`
	Temperature *int16  `json:"temperature_centi_c,omitempty"`
	SpO2        *uint8  `json:"spo2,omitempty"`
	Motion      *uint16 `json:"motion_mg,omitempty"`
	At          string  `json:"at"`
}

// FaultJSON is the JSON representation of a persisted fault.
type FaultJSON struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	Time   string `json:"time"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	FlushMs      int64  `json:"flush_ms"`
	InactivityMs int64  `json:"dfu_inactivity_ms"`
	Broker       string `json:"broker"`
	HTTPPort     string `json:"http_port"`
	FlashPath    string `json:"flash_path,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Mode: snap.Mode.String(),
		Slot: snap.Slot.String(),
		DFU: DFUJSON{
			Active:     snap.DFU.Active,
			Received:   snap.DFU.Received,
			Total:      snap.DFU.Total,
			Committing: snap.DFU.Committing,
			Sessions:   snap.DFU.Sessions,
			Timeouts:   snap.DFU.Timeouts,
		},
		Disconnects:   snap.Disconnects,
		Buttons:       CountsJSON{Presses: snap.Buttons.Presses, Holds: snap.Buttons.Holds},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			FlushMs:      snap.Config.FlushMs,
			InactivityMs: snap.Config.InactivityMs,
			Broker:       snap.Config.Broker,
			HTTPPort:     snap.Config.HTTPPort,
			FlashPath:    snap.Config.FlashPath,
		},
	}
	if snap.Disconnects > 0 {
		inner.LastReason = snap.LastReason.String()
	}
	return inner
}

func buildOptional(snap Snapshot, inner *StatusInner) {
	if snap.Link != nil {
		inner.Link = &LinkJSON{
			Peer:          snap.Link.PeerAddr,
			ConnectedAt:   snap.Link.ConnectedAt.UTC().Format(time.RFC3339),
			ParamsOK:      snap.Link.ParamsOK,
			Subscriptions: snap.Link.Subscriptions,
		}
	}
	if rec := snap.LastRecord; rec.Mask != 0 {
		tj := &TelemetryJSON{At: rec.At.UTC().Format(time.RFC3339)}
		if rec.Has(telemetry.FieldHeartRate) {
			v := rec.HeartRate
			tj.HeartRate = &v
		}
		if rec.Has(telemetry.FieldTemperature) {
			v := rec.Temperature
			tj.Temperature = &v
		}
		if rec.Has(telemetry.FieldSpO2) {
			v := rec.SpO2
			tj.SpO2 = &v
		}
		if rec.Has(telemetry.FieldMotion) {
			v := rec.Motion
			tj.Motion = &v
		}
		inner.Telemetry = tj
	}
	if snap.Fault != nil {
		inner.Fault = &FaultJSON{
			Code:   snap.Fault.Code,
			Detail: snap.Fault.Detail,
			Time:   snap.Fault.Time.UTC().Format(time.RFC3339),
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildOptional(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildOptional(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
