package image

import (
	"crypto/ed25519"
	"fmt"
	"hash/crc32"
)

// Validator checks firmware payloads against the header format, the slot
// capacity, and an optionally provisioned public key.
type Validator struct {
	capacity int
	pubKey   ed25519.PublicKey // nil disables signature enforcement
}

// NewValidator creates a Validator for slots of the given capacity. If pubKey
// is non-nil, images carrying FlagSigned are verified against it and unsigned
// images are rejected.
func NewValidator(capacity int, pubKey ed25519.PublicKey) *Validator {
	return &Validator{capacity: capacity, pubKey: pubKey}
}

// Validate runs the ordered validation pipeline over a complete image
// (header followed by payload) and returns the decoded header on success.
// Stages reject fast, in order: magic, declared length, CRC-32, signature.
func (v *Validator) Validate(data []byte) (Header, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return Header{}, err
	}

	if h.Magic != Magic {
		return Header{}, &MalformedHeaderError{
			Reason: fmt.Sprintf("bad magic 0x%08X, want 0x%08X", h.Magic, Magic),
		}
	}

	if int(h.Length)+HeaderSize > v.capacity {
		return Header{}, &CapacityError{Declared: h.Length, Capacity: v.capacity}
	}
	if len(data) != HeaderSize+int(h.Length) {
		return Header{}, &MalformedHeaderError{
			Reason: fmt.Sprintf("declared length %d, have %d payload bytes",
				h.Length, len(data)-HeaderSize),
		}
	}

	payload := data[HeaderSize:]
	actual := crc32.ChecksumIEEE(payload)
	if actual != h.CRC32 {
		return Header{}, &IntegrityError{Scope: "image", Expected: h.CRC32, Actual: actual}
	}

	if v.pubKey != nil {
		if !h.Signed() {
			return Header{}, &AuthenticationError{Reason: "image is unsigned but a key is provisioned"}
		}
		if !ed25519.Verify(v.pubKey, signedMessage(h, payload), h.Signature[:]) {
			return Header{}, &AuthenticationError{Reason: "ed25519 verify failed"}
		}
	}

	return h, nil
}

// signedMessage is the byte string covered by the signature: the header with
// a zeroed signature block, followed by the payload.
func signedMessage(h Header, payload []byte) []byte {
	h.Signature = [SignatureSize]byte{}
	msg := EncodeHeader(h)
	return append(msg, payload...)
}

// Sign computes the signature for an image and returns the header with the
// signature block filled in. Used by tooling and tests.
func Sign(h Header, payload []byte, key ed25519.PrivateKey) Header {
	h.Flags |= FlagSigned
	sig := ed25519.Sign(key, signedMessage(h, payload))
	copy(h.Signature[:], sig)
	return h
}
