// Package ble binds the connection manager and DFU coordinator to a real
// Bluetooth LE peripheral. Only the Linux HCI stack is supported; other
// platforms get a stub so the daemon still builds for tests.
package ble

import (
	"github.com/go-ble/ble"
)

// DeviceName is the advertised peripheral name.
const DeviceName = "nisc-wearable"

// Telemetry service UUIDs. The record characteristic carries the single
// coalesced notification per flush period; subscribing to a per-field
// characteristic selects that field into the record.
var (
	TelemetrySvcUUID  = ble.MustParse("fff0")
	HeartRateCharUUID = ble.MustParse("fff1")
	TempCharUUID      = ble.MustParse("fff2")
	SpO2CharUUID      = ble.MustParse("fff3")
	MotionCharUUID    = ble.MustParse("fff4")
	RecordCharUUID    = ble.MustParse("fff5")
)

// Firmware-update service UUIDs: a control point for commands, a data sink
// for chunks, and a status characteristic notifying acks.
var (
	DFUSvcUUID         = ble.MustParse("00001530-1212-efde-1523-785feabcd123")
	DFUControlCharUUID = ble.MustParse("00001531-1212-efde-1523-785feabcd123")
	DFUDataCharUUID    = ble.MustParse("00001532-1212-efde-1523-785feabcd123")
	DFUStatusCharUUID  = ble.MustParse("00001533-1212-efde-1523-785feabcd123")
)
