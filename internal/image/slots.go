package image

import (
	"encoding/binary"
	"fmt"

	"github.com/nisc/wearable-core/internal/flash"
)

// SlotState describes the Update slot's lifecycle.
type SlotState int

const (
	SlotEmpty     SlotState = iota // no image, or image rejected and erased
	SlotPending                    // validated image awaiting post-swap confirmation
	SlotConfirmed                  // swap confirmed permanent
)

// String returns the state name used in logs and status output.
func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotPending:
		return "pending"
	case SlotConfirmed:
		return "confirmed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Manager owns the flash slot lifecycle. Two slot-swap conventions are
// implemented (a trailer in the Update slot, and an A/B marker page) so the
// transfer and validation logic stays agnostic to which one is in effect.
type Manager interface {
	// Capacity returns the maximum image size the Update slot accepts.
	Capacity() int

	// WriteUpdate erases the Update slot and programs a complete validated
	// image into it, erase-then-write per page.
	WriteUpdate(img []byte) error

	// MarkPending marks the Update image for a test boot. The next boot
	// runs it, but it must be confirmed before a further reset.
	MarkPending() error

	// Confirm makes a pending swap permanent.
	Confirm() error

	// Revert abandons a pending image: the Update slot is erased and the
	// previous Active image stays in effect.
	Revert() error

	// EraseUpdate erases the Update slot.
	EraseUpdate() error

	// EraseScratch erases the Scratch region.
	EraseScratch() error

	// State returns the Update slot's current state.
	State() SlotState
}

// trailerMagic marks a valid slot-state trailer page.
const trailerMagic uint32 = 0x54524C52 // "TRLR"

// Trailer flag byte value. Each flag byte is programmed exactly once into
// erased flash: pending at offset 4, confirmed at offset 5.
const trailerFlagSet byte = 0x0F

// TrailerManager stores slot state in a metadata trailer occupying the last
// page of the Update slot, in the style of swap-based bootloaders.
type TrailerManager struct {
	dev flash.Device
}

// NewTrailerManager creates a TrailerManager. The Active slot is protected
// against erase and write for the lifetime of the manager: it is executing.
func NewTrailerManager(dev flash.Device) *TrailerManager {
	dev.Protect(flash.RegionActive, true)
	return &TrailerManager{dev: dev}
}

func (m *TrailerManager) trailerOff() int {
	return m.dev.RegionSize(flash.RegionUpdate) - flash.PageSize
}

// Capacity returns the Update slot size minus the trailer page.
func (m *TrailerManager) Capacity() int {
	return m.dev.RegionSize(flash.RegionUpdate) - flash.PageSize
}

// WriteUpdate erases the Update slot and programs the image.
func (m *TrailerManager) WriteUpdate(img []byte) error {
	if len(img) > m.Capacity() {
		return &CapacityError{Declared: uint32(len(img)), Capacity: m.Capacity()}
	}
	if err := m.EraseUpdate(); err != nil {
		return err
	}
	return writePaged(m.dev, flash.RegionUpdate, img)
}

// MarkPending writes the trailer magic and sets the pending flag.
func (m *TrailerManager) MarkPending() error {
	off := m.trailerOff()
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf, trailerMagic)
	buf[4] = trailerFlagSet
	return m.dev.Write(flash.RegionUpdate, off, buf)
}

// Confirm sets the confirmed flag byte. The byte is still erased after
// MarkPending, so this is a plain one-shot program, no erase cycle.
func (m *TrailerManager) Confirm() error {
	if m.State() != SlotPending {
		return fmt.Errorf("confirm: update slot is not pending")
	}
	return m.dev.Write(flash.RegionUpdate, m.trailerOff()+5, []byte{trailerFlagSet})
}

// Revert erases the Update slot, dropping the pending image.
func (m *TrailerManager) Revert() error {
	return m.EraseUpdate()
}

// EraseUpdate erases the whole Update slot including the trailer.
func (m *TrailerManager) EraseUpdate() error {
	return m.dev.Erase(flash.RegionUpdate, 0, m.dev.RegionSize(flash.RegionUpdate))
}

// EraseScratch erases the Scratch region.
func (m *TrailerManager) EraseScratch() error {
	return m.dev.Erase(flash.RegionScratch, 0, m.dev.RegionSize(flash.RegionScratch))
}

// State reads the trailer flags.
func (m *TrailerManager) State() SlotState {
	buf, err := m.dev.Read(flash.RegionUpdate, m.trailerOff(), 6)
	if err != nil {
		return SlotEmpty
	}
	if binary.LittleEndian.Uint32(buf) != trailerMagic {
		return SlotEmpty
	}
	if buf[5] == trailerFlagSet {
		return SlotConfirmed
	}
	if buf[4] == trailerFlagSet {
		return SlotPending
	}
	return SlotEmpty
}

// markerMagic marks a valid A/B marker page.
const markerMagic uint32 = 0x41424D4B // "ABMK"

// MarkerManager stores slot state in a dedicated marker page at the tail of
// the bootloader region: a simple A/B scheme with an explicit state byte.
type MarkerManager struct {
	dev flash.Device
}

// NewMarkerManager creates a MarkerManager. The Active slot is protected
// against erase and write for the lifetime of the manager.
func NewMarkerManager(dev flash.Device) *MarkerManager {
	dev.Protect(flash.RegionActive, true)
	return &MarkerManager{dev: dev}
}

func (m *MarkerManager) markerOff() int {
	return m.dev.RegionSize(flash.RegionBootloader) - flash.PageSize
}

// Capacity returns the full Update slot size; the marker lives outside it.
func (m *MarkerManager) Capacity() int {
	return m.dev.RegionSize(flash.RegionUpdate)
}

// WriteUpdate erases the Update slot and programs the image.
func (m *MarkerManager) WriteUpdate(img []byte) error {
	if len(img) > m.Capacity() {
		return &CapacityError{Declared: uint32(len(img)), Capacity: m.Capacity()}
	}
	if err := m.EraseUpdate(); err != nil {
		return err
	}
	return writePaged(m.dev, flash.RegionUpdate, img)
}

// MarkPending writes the marker with the pending state.
func (m *MarkerManager) MarkPending() error {
	return m.writeMarker(SlotPending)
}

// Confirm rewrites the marker with the confirmed state.
func (m *MarkerManager) Confirm() error {
	if m.State() != SlotPending {
		return fmt.Errorf("confirm: update slot is not pending")
	}
	return m.writeMarker(SlotConfirmed)
}

// Revert erases the Update slot and clears the marker.
func (m *MarkerManager) Revert() error {
	if err := m.EraseUpdate(); err != nil {
		return err
	}
	return m.dev.Erase(flash.RegionBootloader, m.markerOff(), flash.PageSize)
}

// EraseUpdate erases the Update slot.
func (m *MarkerManager) EraseUpdate() error {
	return m.dev.Erase(flash.RegionUpdate, 0, m.dev.RegionSize(flash.RegionUpdate))
}

// EraseScratch erases the Scratch region.
func (m *MarkerManager) EraseScratch() error {
	return m.dev.Erase(flash.RegionScratch, 0, m.dev.RegionSize(flash.RegionScratch))
}

// State reads the marker page.
func (m *MarkerManager) State() SlotState {
	buf, err := m.dev.Read(flash.RegionBootloader, m.markerOff(), 5)
	if err != nil {
		return SlotEmpty
	}
	if binary.LittleEndian.Uint32(buf) != markerMagic {
		return SlotEmpty
	}
	switch buf[4] {
	case byte(SlotPending):
		return SlotPending
	case byte(SlotConfirmed):
		return SlotConfirmed
	}
	return SlotEmpty
}

func (m *MarkerManager) writeMarker(state SlotState) error {
	off := m.markerOff()
	if err := m.dev.Erase(flash.RegionBootloader, off, flash.PageSize); err != nil {
		return err
	}
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf, markerMagic)
	buf[4] = byte(state)
	return m.dev.Write(flash.RegionBootloader, off, buf)
}

// writePaged programs img into a freshly erased region, one page at a time.
func writePaged(dev flash.Device, r flash.Region, img []byte) error {
	for off := 0; off < len(img); off += flash.PageSize {
		end := off + flash.PageSize
		if end > len(img) {
			end = len(img)
		}
		if err := dev.Write(r, off, img[off:end]); err != nil {
			return fmt.Errorf("write page at %d: %w", off, err)
		}
	}
	return nil
}
