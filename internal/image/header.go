// Package image implements firmware image validation and flash slot
// management. Validation is a strict ordered pipeline (magic, length, CRC-32,
// signature); a payload that fails any stage is never marked bootable.
package image

import (
	"encoding/binary"
	"fmt"
)

// Magic is the image magic constant ("NISC" little-endian).
const Magic uint32 = 0x4E495343

// SignatureSize is the size of the signature block (ed25519).
const SignatureSize = 64

// HeaderSize is the fixed header size. The header occupies the first
// HeaderSize bytes of every accepted payload.
const HeaderSize = 32 + SignatureSize

// Header flag bits.
const (
	FlagSigned uint32 = 1 << 0
)

// Fixed byte offsets within the header. Reordering is a format-breaking
// change.
const (
	offMagic     = 0
	offMajor     = 4
	offMinor     = 8
	offPatch     = 12
	offLength    = 16
	offCRC       = 20
	offFlags     = 24
	offSlot      = 28
	offSignature = 32
)

// Header is the fixed-offset binary header at the start of a firmware image.
type Header struct {
	Magic      uint32
	Major      uint32
	Minor      uint32
	Patch      uint32
	Length     uint32 // payload length, excluding the header itself
	CRC32      uint32 // CRC-32 (IEEE) over the payload
	Flags      uint32
	TargetSlot uint32
	Signature  [SignatureSize]byte
}

// Signed reports whether the header carries a signature block.
func (h Header) Signed() bool {
	return h.Flags&FlagSigned != 0
}

// Version returns the semantic version as a display string.
func (h Header) Version() string {
	return fmt.Sprintf("%d.%d.%d", h.Major, h.Minor, h.Patch)
}

// EncodeHeader serializes the header into its fixed little-endian layout.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(buf[offMajor:], h.Major)
	binary.LittleEndian.PutUint32(buf[offMinor:], h.Minor)
	binary.LittleEndian.PutUint32(buf[offPatch:], h.Patch)
	binary.LittleEndian.PutUint32(buf[offLength:], h.Length)
	binary.LittleEndian.PutUint32(buf[offCRC:], h.CRC32)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint32(buf[offSlot:], h.TargetSlot)
	copy(buf[offSignature:], h.Signature[:])
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of data. It checks only
// structural size; field validation belongs to the Validator pipeline.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, &MalformedHeaderError{
			Reason: fmt.Sprintf("short header: %d bytes, need %d", len(data), HeaderSize),
		}
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(data[offMagic:])
	h.Major = binary.LittleEndian.Uint32(data[offMajor:])
	h.Minor = binary.LittleEndian.Uint32(data[offMinor:])
	h.Patch = binary.LittleEndian.Uint32(data[offPatch:])
	h.Length = binary.LittleEndian.Uint32(data[offLength:])
	h.CRC32 = binary.LittleEndian.Uint32(data[offCRC:])
	h.Flags = binary.LittleEndian.Uint32(data[offFlags:])
	h.TargetSlot = binary.LittleEndian.Uint32(data[offSlot:])
	copy(h.Signature[:], data[offSignature:offSignature+SignatureSize])
	return h, nil
}
