// Package flash abstracts the device's flash medium as fixed regions with
// page-granular erase-then-write semantics. The real implementation is backed
// by a partition file; the in-memory implementation is used in tests.
package flash

import (
	"errors"
	"fmt"
)

// Region identifies one fixed flash region.
type Region int

const (
	RegionBootloader Region = iota
	RegionActive
	RegionUpdate
	RegionScratch
)

// String returns the region name used in logs and status output.
func (r Region) String() string {
	switch r {
	case RegionBootloader:
		return "bootloader"
	case RegionActive:
		return "active"
	case RegionUpdate:
		return "update"
	case RegionScratch:
		return "scratch"
	}
	return fmt.Sprintf("region(%d)", int(r))
}

// Default region sizes. Update and Scratch must each hold the maximum
// supported image, Active additionally holds the running image.
const (
	PageSize = 4096

	BootloaderSize = 32 * 1024
	SlotSize       = 256 * 1024
)

// ErasedByte is the value flash reads as after an erase.
const ErasedByte = 0xFF

var (
	// ErrProtected is returned for erase/write attempts on a protected
	// region (the executing Active slot).
	ErrProtected = errors.New("flash: region is protected")

	// ErrNotErased is returned when a write targets bytes that were not
	// erased first. Writes are always erase-then-write per page.
	ErrNotErased = errors.New("flash: write to non-erased page")

	// ErrBounds is returned when an access falls outside the region.
	ErrBounds = errors.New("flash: access out of region bounds")

	// ErrAlignment is returned when an erase is not page aligned.
	ErrAlignment = errors.New("flash: erase not page aligned")
)

// Device is the single logical flash writer. Callers serialize erase/write
// sequences externally; implementations only guard their own bookkeeping.
type Device interface {
	// RegionSize returns the capacity of the region in bytes.
	RegionSize(r Region) int

	// Erase erases n bytes at off within the region. Both off and n must
	// be page aligned.
	Erase(r Region, off, n int) error

	// Write programs data at off within the region. The destination bytes
	// must have been erased.
	Write(r Region, off int, data []byte) error

	// Read returns n bytes at off within the region.
	Read(r Region, off, n int) ([]byte, error)

	// Protect marks a region as non-erasable and non-writable. Used for
	// the executing Active slot.
	Protect(r Region, on bool)

	// Protected reports whether the region is currently protected.
	Protected(r Region) bool

	// Close releases the underlying storage.
	Close() error
}

// checkErase validates erase arguments against a region size.
func checkErase(size, off, n int) error {
	if off < 0 || n < 0 || off+n > size {
		return ErrBounds
	}
	if off%PageSize != 0 || n%PageSize != 0 {
		return ErrAlignment
	}
	return nil
}

// checkWrite validates write arguments against a region size.
func checkWrite(size, off, n int) error {
	if off < 0 || off+n > size {
		return ErrBounds
	}
	return nil
}
