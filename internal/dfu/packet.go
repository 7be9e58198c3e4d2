// Package dfu implements the firmware transfer session: packet reassembly,
// per-chunk integrity checking, and hand-off to image validation and flash
// commit. Packet acceptance runs in the transport's inbound context and never
// blocks; flash work is deferred to a lower-priority writer goroutine.
package dfu

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Control opcodes written to the DFU control characteristic.
const (
	OpStart  byte = 0x01
	OpData   byte = 0x02 // data packets arrive on the data characteristic
	OpEnd    byte = 0x03
	OpAbort  byte = 0x04
	OpStatus byte = 0x05
)

// Status codes notified back to the peer.
const (
	StatusOK          byte = 0x00
	StatusError       byte = 0x01
	StatusBusy        byte = 0x02
	StatusInvalidData byte = 0x03
)

// MaxChunkSize bounds a single data chunk (fits one transport write).
const MaxChunkSize = 244

// Data packet layout: seq u32 | len u16 | chunk | crc u32, little-endian.
// The CRC-32 (IEEE) covers only the chunk bytes.
const dataOverhead = 4 + 2 + 4

// Packet is one decoded data packet.
type Packet struct {
	Seq   uint32
	Chunk []byte
}

// EncodePacket serializes a data packet, computing the chunk CRC.
func EncodePacket(p Packet) []byte {
	buf := make([]byte, dataOverhead+len(p.Chunk))
	binary.LittleEndian.PutUint32(buf[0:], p.Seq)
	binary.LittleEndian.PutUint16(buf[4:], uint16(len(p.Chunk)))
	copy(buf[6:], p.Chunk)
	binary.LittleEndian.PutUint32(buf[6+len(p.Chunk):], crc32.ChecksumIEEE(p.Chunk))
	return buf
}

// DecodePacket parses and CRC-checks a data packet.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < dataOverhead {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	seq := binary.LittleEndian.Uint32(data[0:])
	n := int(binary.LittleEndian.Uint16(data[4:]))
	if n > MaxChunkSize {
		return Packet{}, fmt.Errorf("chunk length %d exceeds maximum %d", n, MaxChunkSize)
	}
	if len(data) != dataOverhead+n {
		return Packet{}, fmt.Errorf("packet length %d, declared chunk %d", len(data), n)
	}
	chunk := make([]byte, n)
	copy(chunk, data[6:6+n])

	declared := binary.LittleEndian.Uint32(data[6+n:])
	if actual := crc32.ChecksumIEEE(chunk); actual != declared {
		return Packet{}, &ChunkCRCError{Seq: seq, Declared: declared, Actual: actual}
	}
	return Packet{Seq: seq, Chunk: chunk}, nil
}

// ChunkCRCError indicates a data packet failed its chunk CRC. The session is
// aborted and the peer restarts the transfer.
type ChunkCRCError struct {
	Seq      uint32
	Declared uint32
	Actual   uint32
}

func (e *ChunkCRCError) Error() string {
	return fmt.Sprintf("chunk %d CRC mismatch: declared 0x%08X, computed 0x%08X",
		e.Seq, e.Declared, e.Actual)
}

// StartRequest is the decoded OpStart command: the declared total image size
// and whole-image CRC announced up front by the peer.
type StartRequest struct {
	TotalSize uint32
	CRC32     uint32
}

// EncodeStart serializes an OpStart command.
func EncodeStart(r StartRequest) []byte {
	buf := make([]byte, 9)
	buf[0] = OpStart
	binary.LittleEndian.PutUint32(buf[1:], r.TotalSize)
	binary.LittleEndian.PutUint32(buf[5:], r.CRC32)
	return buf
}

// decodeStart parses the body of an OpStart command.
func decodeStart(body []byte) (StartRequest, error) {
	if len(body) < 8 {
		return StartRequest{}, fmt.Errorf("start command too short: %d bytes", len(body))
	}
	return StartRequest{
		TotalSize: binary.LittleEndian.Uint32(body[0:]),
		CRC32:     binary.LittleEndian.Uint32(body[4:]),
	}, nil
}

// SeqNone in an ack's seq field means no data packet has been applied yet,
// distinguishing "nothing received" from "sequence 0 applied". Slot capacity
// keeps real sequence numbers far below it.
const SeqNone uint32 = 0xFFFFFFFF

// Ack is the response notified to the peer after a control command or data
// packet: status u8 | last-acked seq u32, little-endian.
type Ack struct {
	Status byte
	Seq    uint32 // last applied sequence number, or SeqNone
}

// Encode serializes the ack.
func (a Ack) Encode() []byte {
	buf := make([]byte, 5)
	buf[0] = a.Status
	binary.LittleEndian.PutUint32(buf[1:], a.Seq)
	return buf
}
