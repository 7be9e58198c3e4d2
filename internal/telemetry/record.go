// Package telemetry coalesces sensor readings into notification payloads.
// Readings are latest-value-wins between flushes, and nothing is sent until
// the peer holds at least one active subscription.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nisc/wearable-core/internal/conn"
)

// Field identifies one reading in the coalesced record's presence mask.
type Field byte

const (
	FieldHeartRate   Field = 1 << 0
	FieldTemperature Field = 1 << 1
	FieldSpO2        Field = 1 << 2
	FieldMotion      Field = 1 << 3
)

// Record is one coalesced set of readings. Fields are only meaningful when
// the corresponding mask bit is set.
type Record struct {
	Mask        Field
	HeartRate   uint16 // beats per minute
	Temperature int16  // centi-degrees Celsius
	SpO2        uint8  // percent saturation
	Motion      uint16 // activity magnitude, milli-g
	At          time.Time
}

// Has reports whether the record carries the field.
func (r Record) Has(f Field) bool {
	return r.Mask&f != 0
}

// EncodeRecord serializes a record: presence mask, then the present fields in
// fixed order (heart rate, temperature, SpO2, motion), little-endian.
func EncodeRecord(r Record) []byte {
	buf := make([]byte, 1, 8)
	buf[0] = byte(r.Mask)
	if r.Has(FieldHeartRate) {
		buf = binary.LittleEndian.AppendUint16(buf, r.HeartRate)
	}
	if r.Has(FieldTemperature) {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(r.Temperature))
	}
	if r.Has(FieldSpO2) {
		buf = append(buf, r.SpO2)
	}
	if r.Has(FieldMotion) {
		buf = binary.LittleEndian.AppendUint16(buf, r.Motion)
	}
	return buf
}

// DecodeRecord parses a coalesced record payload.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) < 1 {
		return Record{}, fmt.Errorf("record too short")
	}
	r := Record{Mask: Field(data[0])}
	rest := data[1:]
	take := func(n int) ([]byte, error) {
		if len(rest) < n {
			return nil, fmt.Errorf("record truncated: mask 0x%02X, %d bytes left", r.Mask, len(rest))
		}
		b := rest[:n]
		rest = rest[n:]
		return b, nil
	}
	if r.Has(FieldHeartRate) {
		b, err := take(2)
		if err != nil {
			return Record{}, err
		}
		r.HeartRate = binary.LittleEndian.Uint16(b)
	}
	if r.Has(FieldTemperature) {
		b, err := take(2)
		if err != nil {
			return Record{}, err
		}
		r.Temperature = int16(binary.LittleEndian.Uint16(b))
	}
	if r.Has(FieldSpO2) {
		b, err := take(1)
		if err != nil {
			return Record{}, err
		}
		r.SpO2 = b[0]
	}
	if r.Has(FieldMotion) {
		b, err := take(2)
		if err != nil {
			return Record{}, err
		}
		r.Motion = binary.LittleEndian.Uint16(b)
	}
	if len(rest) != 0 {
		return Record{}, fmt.Errorf("record has %d trailing bytes", len(rest))
	}
	return r, nil
}

// Characteristic maps a field to its selector characteristic.
func (f Field) Characteristic() conn.Characteristic {
	switch f {
	case FieldHeartRate:
		return conn.CharHeartRate
	case FieldTemperature:
		return conn.CharTemperature
	case FieldSpO2:
		return conn.CharSpO2
	case FieldMotion:
		return conn.CharMotion
	}
	return -1
}

// fields is the fixed serialization and notification order.
var fields = []Field{FieldHeartRate, FieldTemperature, FieldSpO2, FieldMotion}
