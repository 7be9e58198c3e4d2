package dfu

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nisc/wearable-core/internal/conn"
	"github.com/nisc/wearable-core/internal/flash"
	"github.com/nisc/wearable-core/internal/image"
)

// DefaultInactivity is the window after which a silent session is discarded.
const DefaultInactivity = 15 * time.Second

// SessionTimeoutError reports an inactivity abort.
type SessionTimeoutError struct {
	Idle time.Duration
}

func (e *SessionTimeoutError) Error() string {
	return fmt.Sprintf("session timed out after %v of inactivity", e.Idle)
}

// TransferCRCError reports that the assembled image does not match the
// whole-image CRC the peer announced at session start.
type TransferCRCError struct {
	Declared uint32
	Computed uint32
}

func (e *TransferCRCError) Error() string {
	return fmt.Sprintf("image CRC mismatch: declared 0x%08X, computed 0x%08X",
		e.Declared, e.Computed)
}

// session is the state of one DFU attempt. Created by the first valid Start
// command; destroyed on completion, abort, disconnect, or inactivity. Owned
// exclusively by the Coordinator; chunk bytes go straight to the flash
// writer's queue and are assembled in Scratch, never held in RAM.
type session struct {
	total        uint32
	declaredCRC  uint32
	received     uint32
	nextSeq      uint32
	lastActivity time.Time
}

// Progress is a snapshot of the transfer for status consumers.
type Progress struct {
	Active     bool
	Received   uint32
	Total      uint32
	Committing bool

	// Counters since startup.
	Sessions      int
	Timeouts      int
	SeqViolations int
}

// Coordinator runs the DFU protocol. Control and Data execute in the
// transport's inbound context: they validate, update session state, and
// enqueue flash work, but never touch the flash medium directly.
type Coordinator struct {
	mu         sync.Mutex
	w          *writer
	capacity   int
	inactivity time.Duration

	sess       *session
	committing bool
	lastErr    error

	sessions      int
	timeouts      int
	seqViolations int

	onComplete func(error)
}

// NewCoordinator creates a Coordinator. Flash access happens on a dedicated
// writer goroutine owned by the coordinator; Close stops it.
func NewCoordinator(dev flash.Device, slots image.Manager, validator *image.Validator, inactivity time.Duration) *Coordinator {
	return &Coordinator{
		w:          newWriter(dev, slots, validator),
		capacity:   slots.Capacity(),
		inactivity: inactivity,
	}
}

// OnComplete registers a callback invoked with the commit outcome (nil on a
// successful install). Runs on the writer goroutine.
func (c *Coordinator) OnComplete(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Close drains and stops the flash writer.
func (c *Coordinator) Close() {
	c.w.close()
}

// Control handles a command written to the DFU control characteristic.
func (c *Coordinator) Control(body []byte, now time.Time) Ack {
	if len(body) == 0 {
		return Ack{Status: StatusInvalidData}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch body[0] {
	case OpStart:
		return c.start(body[1:], now)

	case OpEnd:
		return c.end(now)

	case OpAbort:
		log.Printf("dfu: session aborted by peer")
		c.abortLocked()
		return Ack{Status: StatusOK}

	case OpStatus:
		if c.committing {
			return Ack{Status: StatusBusy, Seq: c.lastAckedLocked()}
		}
		if c.lastErr != nil {
			return Ack{Status: StatusError, Seq: c.lastAckedLocked()}
		}
		return Ack{Status: StatusOK, Seq: c.lastAckedLocked()}
	}

	log.Printf("dfu: unknown command 0x%02X", body[0])
	return Ack{Status: StatusError}
}

// start begins a fresh session. A new session cannot start while the commit
// of a previous session's image is in progress.
func (c *Coordinator) start(body []byte, now time.Time) Ack {
	if c.committing {
		return Ack{Status: StatusBusy}
	}

	req, err := decodeStart(body)
	if err != nil {
		log.Printf("dfu: %v", err)
		return Ack{Status: StatusInvalidData}
	}
	if int(req.TotalSize) > c.capacity {
		log.Printf("dfu: declared size %d exceeds slot capacity %d", req.TotalSize, c.capacity)
		return Ack{Status: StatusInvalidData}
	}
	if req.TotalSize < image.HeaderSize {
		log.Printf("dfu: declared size %d below header size", req.TotalSize)
		return Ack{Status: StatusInvalidData}
	}

	if c.sess != nil {
		// Peer restarting mid-session. Drop the old attempt.
		log.Printf("dfu: restarting session at %d/%d", c.sess.received, c.sess.total)
		c.abortLocked()
	}

	c.sess = &session{
		total:        req.TotalSize,
		declaredCRC:  req.CRC32,
		lastActivity: now,
	}
	c.sessions++
	c.lastErr = nil
	// Scratch is erased before any chunk is staged.
	if !c.w.tryEnqueue(job{erase: true}) {
		c.sess = nil
		return Ack{Status: StatusBusy}
	}

	log.Printf("dfu: session started, %d bytes declared, crc 0x%08X", req.TotalSize, req.CRC32)
	return Ack{Status: StatusOK}
}

// Data handles one data packet. Non-blocking: flash staging is enqueued, and
// a full queue answers Busy without applying the chunk.
func (c *Coordinator) Data(raw []byte, now time.Time) Ack {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil {
		return Ack{Status: StatusInvalidData}
	}

	pkt, err := DecodePacket(raw)
	if err != nil {
		if _, ok := err.(*ChunkCRCError); ok {
			// A corrupt chunk voids the whole attempt; the peer
			// restarts the transfer. No partial-chunk writes.
			log.Printf("dfu: %v, aborting session", err)
			c.abortLocked()
			return Ack{Status: StatusError}
		}
		log.Printf("dfu: %v", err)
		return Ack{Status: StatusInvalidData}
	}

	if pkt.Seq != s.nextSeq {
		// Duplicate or out-of-order under retransmission: acknowledge
		// as received, do not re-apply. Recoverable, never fatal.
		c.seqViolations++
		log.Printf("dfu: sequence %d, expected %d (ignored)", pkt.Seq, s.nextSeq)
		return Ack{Status: StatusOK, Seq: c.lastAckedLocked()}
	}

	if s.received+uint32(len(pkt.Chunk)) > s.total {
		log.Printf("dfu: chunk overruns declared size %d", s.total)
		return Ack{Status: StatusInvalidData}
	}

	if !c.w.tryEnqueue(job{data: pkt.Chunk, off: int(s.received)}) {
		// Writer backlog: the chunk is not applied, the peer retries
		// the same sequence number.
		return Ack{Status: StatusBusy, Seq: c.lastAckedLocked()}
	}

	s.received += uint32(len(pkt.Chunk))
	s.nextSeq++
	s.lastActivity = now

	if s.received == s.total {
		return c.finishLocked()
	}
	return Ack{Status: StatusOK, Seq: s.nextSeq - 1}
}

// end handles OpEnd: the peer believes the transfer is complete.
func (c *Coordinator) end(now time.Time) Ack {
	if c.committing {
		return Ack{Status: StatusBusy}
	}
	s := c.sess
	if s == nil {
		return Ack{Status: StatusInvalidData}
	}
	if s.received != s.total {
		log.Printf("dfu: end with %d/%d bytes received", s.received, s.total)
		return Ack{Status: StatusInvalidData}
	}
	s.lastActivity = now
	return c.finishLocked()
}

// finishLocked hands the staged image to validation and flash commit.
// Header-level validation is authoritative even though every chunk CRC
// passed.
func (c *Coordinator) finishLocked() Ack {
	s := c.sess
	seq := s.nextSeq - 1
	c.sess = nil
	c.committing = true

	ok := c.w.tryEnqueue(job{
		commit:      true,
		length:      int(s.received),
		declaredCRC: s.declaredCRC,
		onDone:      c.commitDone,
	})
	if !ok {
		c.committing = false
		c.lastErr = fmt.Errorf("flash writer backlog at commit")
		c.w.tryEnqueue(job{erase: true})
		return Ack{Status: StatusBusy, Seq: seq}
	}

	log.Printf("dfu: transfer complete, %d bytes, validating", s.received)
	return Ack{Status: StatusOK, Seq: seq}
}

// commitDone runs on the writer goroutine when the commit finishes.
func (c *Coordinator) commitDone(err error) {
	c.mu.Lock()
	c.committing = false
	c.lastErr = err
	fn := c.onComplete
	c.mu.Unlock()

	if err != nil {
		log.Printf("dfu: install rejected: %v", err)
	}
	if fn != nil {
		fn(err)
	}
}

// Tick enforces the inactivity window. A silent session is discarded and
// its Scratch staging erased, freeing the device for a fresh attempt.
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil {
		return
	}
	idle := now.Sub(s.lastActivity)
	if idle < c.inactivity {
		return
	}
	c.timeouts++
	c.lastErr = &SessionTimeoutError{Idle: idle}
	log.Printf("dfu: %v", c.lastErr)
	c.abortLocked()
}

// HandleDisconnect cancels any active session when the link drops.
func (c *Coordinator) HandleDisconnect(reason conn.DisconnectReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	log.Printf("dfu: session cancelled by disconnect (%v)", reason)
	c.abortLocked()
}

// abortLocked destroys the session and schedules Scratch erasure. The slot
// cannot be reused until the erase completes, which the writer guarantees by
// ordering: the erase job precedes any job of a later session.
func (c *Coordinator) abortLocked() {
	if c.sess == nil {
		return
	}
	c.sess = nil
	c.w.tryEnqueue(job{erase: true})
}

// Progress returns a snapshot of the transfer state.
func (c *Coordinator) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := Progress{
		Committing:    c.committing,
		Sessions:      c.sessions,
		Timeouts:      c.timeouts,
		SeqViolations: c.seqViolations,
	}
	if c.sess != nil {
		p.Active = true
		p.Received = c.sess.received
		p.Total = c.sess.total
	}
	return p
}

// LastError returns the most recent session-level failure, if any.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Drain blocks until pending flash work completes. Test synchronization.
func (c *Coordinator) Drain() {
	c.w.drain()
}

func (c *Coordinator) lastAckedLocked() uint32 {
	if c.sess == nil || c.sess.nextSeq == 0 {
		return SeqNone
	}
	return c.sess.nextSeq - 1
}
