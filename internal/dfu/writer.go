package dfu

import (
	"fmt"
	"hash/crc32"
	"log"

	"github.com/nisc/wearable-core/internal/flash"
	"github.com/nisc/wearable-core/internal/image"
)

// writerQueueCap bounds the flash work queue. The transport's inbound
// context enqueues without blocking; when the writer falls this far behind,
// the peer is told Busy and retries.
const writerQueueCap = 64

// job is one unit of deferred flash work.
type job struct {
	// stage: write chunk into Scratch at off.
	data []byte
	off  int

	// erase: erase the Scratch region before a new session.
	erase bool

	// commit: validate the staged image and install it. length is the
	// staged byte count, declaredCRC the whole-image CRC from OpStart.
	commit      bool
	length      int
	declaredCRC uint32
	onDone      func(err error)

	// drain: reply and do nothing. Test synchronization.
	drained chan struct{}
}

// writer is the dedicated lower-priority flash execution context. All slot
// erase/write sequences go through here, giving the flash medium a single
// logical writer. The image is assembled in Scratch, never in RAM; commit
// reads it back from the medium.
type writer struct {
	jobs      chan job
	slots     image.Manager
	validator *image.Validator
	dev       flash.Device
	done      chan struct{}

	// stageErr poisons the session's commit when any chunk failed to
	// stage. Writer-goroutine state; reset by the next erase job.
	stageErr error
}

func newWriter(dev flash.Device, slots image.Manager, validator *image.Validator) *writer {
	w := &writer{
		jobs:      make(chan job, writerQueueCap),
		slots:     slots,
		validator: validator,
		dev:       dev,
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// tryEnqueue adds a job without blocking. Returns false when the queue is
// full.
func (w *writer) tryEnqueue(j job) bool {
	select {
	case w.jobs <- j:
		return true
	default:
		return false
	}
}

// drain blocks until every job enqueued before it has completed.
func (w *writer) drain() {
	ch := make(chan struct{})
	w.jobs <- job{drained: ch}
	<-ch
}

// close stops the writer after the queue empties.
func (w *writer) close() {
	close(w.jobs)
	<-w.done
}

func (w *writer) run() {
	defer close(w.done)
	for j := range w.jobs {
		switch {
		case j.drained != nil:
			close(j.drained)

		case j.erase:
			w.stageErr = w.slots.EraseScratch()
			if w.stageErr != nil {
				log.Printf("dfu: erase scratch: %v", w.stageErr)
			}

		case j.commit:
			j.onDone(w.commitStaged(j.length, j.declaredCRC))

		case j.data != nil:
			if w.stageErr != nil {
				continue
			}
			if err := w.dev.Write(flash.RegionScratch, j.off, j.data); err != nil {
				log.Printf("dfu: stage chunk at %d: %v", j.off, err)
				w.stageErr = err
			}
		}
	}
}

// commitStaged reads the staged image back from Scratch, checks it against
// the CRC the peer announced at session start, then runs full-header
// validation and installs it. Any rejection leaves the Update slot erased;
// Scratch is erased on both outcomes.
func (w *writer) commitStaged(length int, declaredCRC uint32) error {
	defer func() {
		if err := w.slots.EraseScratch(); err != nil {
			log.Printf("dfu: erase scratch after commit: %v", err)
		}
	}()

	if w.stageErr != nil {
		return fmt.Errorf("chunk staging failed: %w", w.stageErr)
	}

	img, err := w.dev.Read(flash.RegionScratch, 0, length)
	if err != nil {
		return fmt.Errorf("read staged image: %w", err)
	}

	if got := crc32.ChecksumIEEE(img); got != declaredCRC {
		if e := w.slots.EraseUpdate(); e != nil {
			log.Printf("dfu: erase update after rejection: %v", e)
		}
		return &TransferCRCError{Declared: declaredCRC, Computed: got}
	}

	hdr, err := w.validator.Validate(img)
	if err != nil {
		if e := w.slots.EraseUpdate(); e != nil {
			log.Printf("dfu: erase update after rejection: %v", e)
		}
		return err
	}

	if err := w.slots.WriteUpdate(img); err != nil {
		if e := w.slots.EraseUpdate(); e != nil {
			log.Printf("dfu: erase update after write failure: %v", e)
		}
		return err
	}
	if err := w.slots.MarkPending(); err != nil {
		return err
	}

	log.Printf("dfu: image %s installed, %d bytes, pending test boot", hdr.Version(), length)
	return nil
}
