package flash

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory flash device used in tests. It enforces the same
// erase-then-write and protection rules as real flash.
type MemDevice struct {
	mu        sync.Mutex
	regions   map[Region][]byte
	erased    map[Region][]bool // per-byte erased flag
	protected map[Region]bool

	// EraseCount tracks erase calls per region, for test assertions.
	EraseCount map[Region]int
}

// NewMemDevice creates a MemDevice with the default region layout. All
// regions start fully erased.
func NewMemDevice() *MemDevice {
	d := &MemDevice{
		regions:    make(map[Region][]byte),
		erased:     make(map[Region][]bool),
		protected:  make(map[Region]bool),
		EraseCount: make(map[Region]int),
	}
	sizes := map[Region]int{
		RegionBootloader: BootloaderSize,
		RegionActive:     SlotSize,
		RegionUpdate:     SlotSize,
		RegionScratch:    SlotSize,
	}
	for r, size := range sizes {
		buf := make([]byte, size)
		er := make([]bool, size)
		for i := range buf {
			buf[i] = ErasedByte
			er[i] = true
		}
		d.regions[r] = buf
		d.erased[r] = er
	}
	return d
}

// RegionSize returns the capacity of the region.
func (d *MemDevice) RegionSize(r Region) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.regions[r])
}

// Erase erases n bytes at off. Page aligned only.
func (d *MemDevice) Erase(r Region, off, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.regions[r]
	if !ok {
		return fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if d.protected[r] {
		return fmt.Errorf("%w: %v", ErrProtected, r)
	}
	if err := checkErase(len(buf), off, n); err != nil {
		return err
	}
	for i := off; i < off+n; i++ {
		buf[i] = ErasedByte
		d.erased[r][i] = true
	}
	d.EraseCount[r]++
	return nil
}

// Write programs data at off. Destination bytes must be erased.
func (d *MemDevice) Write(r Region, off int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.regions[r]
	if !ok {
		return fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if d.protected[r] {
		return fmt.Errorf("%w: %v", ErrProtected, r)
	}
	if err := checkWrite(len(buf), off, len(data)); err != nil {
		return err
	}
	for i := range data {
		if !d.erased[r][off+i] {
			return fmt.Errorf("%w: %v offset %d", ErrNotErased, r, off+i)
		}
	}
	for i, b := range data {
		buf[off+i] = b
		d.erased[r][off+i] = false
	}
	return nil
}

// Read returns n bytes at off.
func (d *MemDevice) Read(r Region, off, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.regions[r]
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if off < 0 || n < 0 || off+n > len(buf) {
		return nil, ErrBounds
	}
	out := make([]byte, n)
	copy(out, buf[off:off+n])
	return out, nil
}

// Protect sets the protection flag for a region.
func (d *MemDevice) Protect(r Region, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protected[r] = on
}

// Protected reports the protection flag for a region.
func (d *MemDevice) Protected(r Region) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protected[r]
}

// Close is a no-op for the in-memory device.
func (d *MemDevice) Close() error {
	return nil
}

// IsErased reports whether the whole region reads as erased. Test helper.
func (d *MemDevice) IsErased(r Region) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.regions[r] {
		if b != ErasedByte {
			return false
		}
	}
	return true
}
