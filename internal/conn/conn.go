// Package conn manages the single wireless peer link: advertising lifecycle,
// post-connection parameter negotiation, per-characteristic subscription
// tracking, and disconnect reason classification. The package is
// transport-agnostic; the BLE binding lives in internal/ble.
package conn

import (
	"fmt"
	"time"
)

// Characteristic identifies one telemetry stream a peer can subscribe to.
type Characteristic int

const (
	CharHeartRate Characteristic = iota
	CharTemperature
	CharSpO2
	CharMotion

	// CharRecord carries the one coalesced record notified per flush
	// period. The per-field characteristics above act as field selectors.
	CharRecord

	// NumCharacteristics is the count of subscribable telemetry streams.
	NumCharacteristics
)

// String returns the characteristic name used in logs and status output.
func (c Characteristic) String() string {
	switch c {
	case CharHeartRate:
		return "heart-rate"
	case CharTemperature:
		return "temperature"
	case CharSpO2:
		return "spo2"
	case CharMotion:
		return "motion"
	case CharRecord:
		return "record"
	}
	return fmt.Sprintf("char(%d)", int(c))
}

// Params are link-layer connection parameters.
type Params struct {
	IntervalMin        time.Duration
	IntervalMax        time.Duration
	Latency            uint16
	SupervisionTimeout time.Duration
}

// DesiredParams are the parameters requested once after link establishment:
// a 30-50 ms interval, zero skip latency, and an extended supervision
// timeout so the link rides out radio-busy windows during DFU.
var DesiredParams = Params{
	IntervalMin:        30 * time.Millisecond,
	IntervalMax:        50 * time.Millisecond,
	Latency:            0,
	SupervisionTimeout: 4000 * time.Millisecond,
}

// DisconnectReason classifies why a link was lost. Raw transport codes are
// mapped at the boundary; core logic never sees raw integers.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonTimeout                  // supervision timeout
	ReasonPeer                     // peer-initiated disconnect
	ReasonLocal                    // local-initiated disconnect
	ReasonSetupFailure             // link failed to establish
	ReasonLinkLayerTimeout         // link-layer procedure timeout
)

// String returns the reason name used in logs and telemetry.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonPeer:
		return "peer-initiated"
	case ReasonLocal:
		return "local-initiated"
	case ReasonSetupFailure:
		return "setup-failure"
	case ReasonLinkLayerTimeout:
		return "link-layer-timeout"
	}
	return "unknown"
}

// HCI disconnect reason codes consumed from the transport layer.
const (
	hciConnectionTimeout   = 0x08
	hciRemoteTerminated    = 0x13
	hciLocalTerminated     = 0x16
	hciLMPResponseTimeout  = 0x22
	hciFailedToEstablish   = 0x3E
)

// MapReason converts a raw transport disconnect code into the closed
// DisconnectReason set.
func MapReason(code byte) DisconnectReason {
	switch code {
	case hciConnectionTimeout:
		return ReasonTimeout
	case hciRemoteTerminated:
		return ReasonPeer
	case hciLocalTerminated:
		return ReasonLocal
	case hciLMPResponseTimeout:
		return ReasonLinkLayerTimeout
	case hciFailedToEstablish:
		return ReasonSetupFailure
	}
	return ReasonUnknown
}

// Context is the per-link state. Created on link establishment, destroyed on
// disconnect. Subscription flags always start empty: nothing persists across
// reconnects unless explicitly restored.
type Context struct {
	PeerAddr       string
	ConnectedAt    time.Time
	Negotiated     Params
	ParamsAccepted bool
	Subscriptions  [NumCharacteristics]bool
}

// AdvMode selects the advertising configuration.
type AdvMode int

const (
	AdvTelemetry AdvMode = iota // normal application mode
	AdvDFU                      // firmware-update session mode
)

// String returns the mode name used in logs.
func (m AdvMode) String() string {
	if m == AdvDFU {
		return "dfu"
	}
	return "telemetry"
}

// Transport is the radio surface the Manager drives. Implemented by the BLE
// binding and by the test fake.
type Transport interface {
	// Advertise starts peripheral advertising in the given configuration.
	Advertise(mode AdvMode) error

	// StopAdvertising stops advertising.
	StopAdvertising() error

	// RequestParams asks the peer/controller for new connection
	// parameters. A non-nil error means the request was declined or
	// unsupported; the link stays usable at default parameters.
	RequestParams(p Params) error

	// Notify pushes a payload to a characteristic's subscriber.
	Notify(c Characteristic, payload []byte) error

	// Close releases the transport.
	Close() error
}
