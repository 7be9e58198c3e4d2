package image

import "fmt"

// MalformedHeaderError indicates a bad magic constant or a structurally
// invalid header.
type MalformedHeaderError struct {
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed header: %s", e.Reason)
}

// CapacityError indicates the declared payload length exceeds the physical
// slot capacity.
type CapacityError struct {
	Declared uint32
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("image size %d exceeds slot capacity %d", e.Declared, e.Capacity)
}

// IntegrityError indicates a CRC-32 mismatch, either for a single transfer
// chunk or for the whole image.
type IntegrityError struct {
	Scope    string // "chunk" or "image"
	Expected uint32
	Actual   uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s CRC mismatch: declared 0x%08X, computed 0x%08X",
		e.Scope, e.Expected, e.Actual)
}

// AuthenticationError indicates the signature check failed against the
// provisioned public key.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("signature verification failed: %s", e.Reason)
}
