package image

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nisc/wearable-core/internal/flash"
)

// managers returns both slot-swap implementations over fresh devices, so
// every lifecycle test runs against each convention.
func managers() map[string]struct {
	mgr Manager
	dev *flash.MemDevice
} {
	devT := flash.NewMemDevice()
	devM := flash.NewMemDevice()
	return map[string]struct {
		mgr Manager
		dev *flash.MemDevice
	}{
		"trailer": {NewTrailerManager(devT), devT},
		"marker":  {NewMarkerManager(devM), devM},
	}
}

func TestSlotLifecycle(t *testing.T) {
	for name, tc := range managers() {
		t.Run(name, func(t *testing.T) {
			mgr, dev := tc.mgr, tc.dev

			if got := mgr.State(); got != SlotEmpty {
				t.Fatalf("fresh state: got %v, want empty", got)
			}

			img := make([]byte, 3*flash.PageSize+17)
			for i := range img {
				img[i] = byte(i % 251)
			}
			if err := mgr.WriteUpdate(img); err != nil {
				t.Fatalf("write update: %v", err)
			}
			got, err := dev.Read(flash.RegionUpdate, 0, len(img))
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if !bytes.Equal(got, img) {
				t.Fatal("update slot contents differ from written image")
			}

			if err := mgr.MarkPending(); err != nil {
				t.Fatalf("mark pending: %v", err)
			}
			if got := mgr.State(); got != SlotPending {
				t.Fatalf("state after mark: got %v, want pending", got)
			}

			if err := mgr.Confirm(); err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if got := mgr.State(); got != SlotConfirmed {
				t.Fatalf("state after confirm: got %v, want confirmed", got)
			}
		})
	}
}

func TestSlotRevert(t *testing.T) {
	for name, tc := range managers() {
		t.Run(name, func(t *testing.T) {
			mgr, dev := tc.mgr, tc.dev

			img := make([]byte, flash.PageSize)
			for i := range img {
				img[i] = 0xA5
			}
			if err := mgr.WriteUpdate(img); err != nil {
				t.Fatalf("write update: %v", err)
			}
			if err := mgr.MarkPending(); err != nil {
				t.Fatalf("mark pending: %v", err)
			}

			if err := mgr.Revert(); err != nil {
				t.Fatalf("revert: %v", err)
			}
			if got := mgr.State(); got != SlotEmpty {
				t.Fatalf("state after revert: got %v, want empty", got)
			}
			if !dev.IsErased(flash.RegionUpdate) {
				t.Error("update slot not erased after revert")
			}
		})
	}
}

func TestSlotConfirmRequiresPending(t *testing.T) {
	for name, tc := range managers() {
		t.Run(name, func(t *testing.T) {
			if err := tc.mgr.Confirm(); err == nil {
				t.Fatal("confirm on empty slot should fail")
			}
		})
	}
}

func TestSlotCapacityEnforced(t *testing.T) {
	for name, tc := range managers() {
		t.Run(name, func(t *testing.T) {
			mgr := tc.mgr
			img := make([]byte, mgr.Capacity()+1)
			err := mgr.WriteUpdate(img)
			if err == nil {
				t.Fatal("expected capacity rejection")
			}
			if _, ok := err.(*CapacityError); !ok {
				t.Fatalf("expected CapacityError, got %T: %v", err, err)
			}
		})
	}
}

func TestActiveSlotProtected(t *testing.T) {
	// Constructing a manager protects the executing Active slot: an erase
	// attempt is the fatal invariant violation, surfaced as ErrProtected.
	for name, tc := range managers() {
		t.Run(name, func(t *testing.T) {
			err := tc.dev.Erase(flash.RegionActive, 0, flash.PageSize)
			if !errors.Is(err, flash.ErrProtected) {
				t.Fatalf("expected ErrProtected, got %v", err)
			}
		})
	}
}
