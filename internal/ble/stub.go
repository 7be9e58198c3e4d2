//go:build !linux

package ble

import (
	"errors"
	"time"

	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/dfu"
)

var _ conn.Transport = (*Peripheral)(nil)

// Peripheral is not available on non-Linux platforms.
type Peripheral struct{}

// NewPeripheral returns an error on non-Linux platforms.
func NewPeripheral(deviceID int, name string, now func() time.Time) (*Peripheral, error) {
	return nil, errors.New("ble: not supported on this platform (requires Linux)")
}

// Bind is a no-op on non-Linux platforms.
func (p *Peripheral) Bind(mgr *conn.Manager, coord *dfu.Coordinator) {}

// Advertise is not implemented on non-Linux platforms.
func (p *Peripheral) Advertise(mode conn.AdvMode) error { return nil }

// StopAdvertising is not implemented on non-Linux platforms.
func (p *Peripheral) StopAdvertising() error { return nil }

// RequestParams is not implemented on non-Linux platforms.
func (p *Peripheral) RequestParams(conn.Params) error { return conn.ErrParamsDeclined }

// Notify is not implemented on non-Linux platforms.
func (p *Peripheral) Notify(c conn.Characteristic, payload []byte) error {
	return conn.ErrNotConnected
}

// Close is not implemented on non-Linux platforms.
func (p *Peripheral) Close() error { return nil }
