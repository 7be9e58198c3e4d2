package flash

import (
	"fmt"
	"os"
	"sync"
)

// Region order within the backing file. Fixed base offsets: reordering is a
// layout-breaking change.
var fileLayout = []struct {
	region Region
	size   int
}{
	{RegionBootloader, BootloaderSize},
	{RegionActive, SlotSize},
	{RegionUpdate, SlotSize},
	{RegionScratch, SlotSize},
}

// FileDevice is a flash device backed by a partition image file. It mirrors
// real NOR flash behavior: page-aligned erase to 0xFF, writes only into
// erased bytes.
type FileDevice struct {
	mu        sync.Mutex
	f         *os.File
	base      map[Region]int
	size      map[Region]int
	protected map[Region]bool
}

// OpenFileDevice opens (or creates) the partition image at path. A newly
// created image reads fully erased.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image: %w", err)
	}

	total := 0
	base := make(map[Region]int)
	size := make(map[Region]int)
	for _, e := range fileLayout {
		base[e.region] = total
		size[e.region] = e.size
		total += e.size
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat flash image: %w", err)
	}
	if st.Size() < int64(total) {
		// Fresh image: fill with the erased pattern.
		blank := make([]byte, total)
		for i := range blank {
			blank[i] = ErasedByte
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialize flash image: %w", err)
		}
	}

	return &FileDevice{
		f:         f,
		base:      base,
		size:      size,
		protected: make(map[Region]bool),
	}, nil
}

// RegionSize returns the capacity of the region.
func (d *FileDevice) RegionSize(r Region) int {
	return d.size[r]
}

// Erase erases n bytes at off within the region.
func (d *FileDevice) Erase(r Region, off, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.size[r]
	if !ok {
		return fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if d.protected[r] {
		return fmt.Errorf("%w: %v", ErrProtected, r)
	}
	if err := checkErase(size, off, n); err != nil {
		return err
	}
	blank := make([]byte, n)
	for i := range blank {
		blank[i] = ErasedByte
	}
	if _, err := d.f.WriteAt(blank, int64(d.base[r]+off)); err != nil {
		return fmt.Errorf("erase %v: %w", r, err)
	}
	return nil
}

// Write programs data at off within the region. Destination must be erased.
func (d *FileDevice) Write(r Region, off int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.size[r]
	if !ok {
		return fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if d.protected[r] {
		return fmt.Errorf("%w: %v", ErrProtected, r)
	}
	if err := checkWrite(size, off, len(data)); err != nil {
		return err
	}

	current := make([]byte, len(data))
	if _, err := d.f.ReadAt(current, int64(d.base[r]+off)); err != nil {
		return fmt.Errorf("write %v: readback: %w", r, err)
	}
	for i, b := range current {
		if b != ErasedByte {
			return fmt.Errorf("%w: %v offset %d", ErrNotErased, r, off+i)
		}
	}

	if _, err := d.f.WriteAt(data, int64(d.base[r]+off)); err != nil {
		return fmt.Errorf("write %v: %w", r, err)
	}
	return nil
}

// Read returns n bytes at off within the region.
func (d *FileDevice) Read(r Region, off, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size, ok := d.size[r]
	if !ok {
		return nil, fmt.Errorf("%w: unknown region %v", ErrBounds, r)
	}
	if off < 0 || n < 0 || off+n > size {
		return nil, ErrBounds
	}
	out := make([]byte, n)
	if _, err := d.f.ReadAt(out, int64(d.base[r]+off)); err != nil {
		return nil, fmt.Errorf("read %v: %w", r, err)
	}
	return out, nil
}

// Protect sets the protection flag for a region.
func (d *FileDevice) Protect(r Region, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protected[r] = on
}

// Protected reports the protection flag for a region.
func (d *FileDevice) Protected(r Region) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protected[r]
}

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("sync flash image: %w", err)
	}
	return d.f.Close()
}
