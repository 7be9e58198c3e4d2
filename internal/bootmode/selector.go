package bootmode

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nisc/wearable-core/internal/button"
	"github.com/nisc/wearable-core/internal/image"
)

// Slots is the slice of the slot manager the selector needs: pending-image
// state, revert, and confirm.
type Slots interface {
	State() image.SlotState
	Revert() error
	Confirm() error
}

// Selector computes the boot decision. It runs synchronously during startup,
// before the application thread set starts, and is the only component
// allowed to block the whole system, bounded by the wait window.
type Selector struct {
	store      Store
	slots      Slots
	waitWindow time.Duration
	guardLimit int
}

// NewSelector creates a Selector. guardLimit is the number of consecutive
// unconfirmed boots of a pending image before the guard reverts the swap.
func NewSelector(store Store, slots Slots, waitWindow time.Duration, guardLimit int) *Selector {
	return &Selector{
		store:      store,
		slots:      slots,
		waitWindow: waitWindow,
		guardLimit: guardLimit,
	}
}

// Select blocks for at most the wait window for one classified button event
// and returns the boot decision. The boot-loop guard and the deferred-DFU
// flag take precedence over button input.
func (s *Selector) Select(ctx context.Context, events <-chan button.Event, cause ResetCause) (Decision, error) {
	rec, err := s.store.Load()
	if err != nil {
		log.Printf("bootmode: load record: %v (treating as fresh)", err)
		rec = Record{}
	}
	rec.LastCause = cause

	// Boot-loop guard: a pending image must confirm before a further
	// reset. Count this boot; past the limit, revert and force Recovery.
	if s.slots.State() == image.SlotPending {
		rec.PendingBoots++
		if rec.PendingBoots >= s.guardLimit {
			log.Printf("bootmode: %d boots without confirmation, reverting pending image", rec.PendingBoots)
			attempts := rec.PendingBoots
			if err := s.slots.Revert(); err != nil {
				return Decision{}, fmt.Errorf("revert pending image: %w", err)
			}
			rec.PendingBoots = 0
			s.save(rec)
			return Decision{Mode: Recovery, Cause: cause, BootLoop: true},
				&BootLoopError{Attempts: attempts}
		}
		s.save(rec)
		log.Printf("bootmode: pending image test boot %d/%d", rec.PendingBoots, s.guardLimit)
	}

	// Deferred DFU request from the application.
	if rec.DFURequested {
		rec.DFURequested = false
		s.save(rec)
		log.Printf("bootmode: dfu requested via persistent flag")
		return Decision{Mode: DFU, Cause: cause}, nil
	}

	s.save(rec)

	timer := time.NewTimer(s.waitWindow)
	defer timer.Stop()

	select {
	case evt := <-events:
		d := Decision{Cause: cause, Hold: evt.Duration}
		switch evt.Kind {
		case button.MediumHold:
			d.Mode = DFU
		case button.LongHold:
			d.Mode = FactoryReset
		default:
			d.Mode = Normal
		}
		log.Printf("bootmode: button %v (%v) -> %v", evt.Kind, evt.Duration, d.Mode)
		return d, nil

	case <-timer.C:
		return Decision{Mode: Normal, Cause: cause}, nil

	case <-ctx.Done():
		return Decision{Mode: Normal, Cause: cause}, ctx.Err()
	}
}

// Confirm makes the pending slot swap permanent and clears the boot-attempt
// counter. The application calls this once it is satisfied the new image
// runs correctly.
func (s *Selector) Confirm() error {
	if err := s.slots.Confirm(); err != nil {
		return err
	}
	rec, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load boot record: %w", err)
	}
	rec.PendingBoots = 0
	return s.store.Save(rec)
}

// RequestDFU sets the persistent flag selecting DFU on the next boot.
func (s *Selector) RequestDFU() error {
	rec, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load boot record: %w", err)
	}
	rec.DFURequested = true
	return s.store.Save(rec)
}

func (s *Selector) save(rec Record) {
	if err := s.store.Save(rec); err != nil {
		// Bookkeeping failure must not fail the boot.
		log.Printf("bootmode: save record: %v", err)
	}
}
