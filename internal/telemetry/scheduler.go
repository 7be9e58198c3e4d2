package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/nisc/wearable-core/internal/conn"
)

// DefaultFlushInterval is the cadence at which coalesced readings are pushed.
const DefaultFlushInterval = time.Second

// Subscriptions is the view of the peer's notification configuration the
// scheduler gates on. *conn.Manager implements it.
type Subscriptions interface {
	Subscribed(c conn.Characteristic) bool
	AnySubscribed() bool
}

// Notifier pushes payloads to the peer. *conn.Manager implements it.
type Notifier interface {
	Notify(c conn.Characteristic, payload []byte) error
}

// Scheduler buffers the latest reading per sensor and flushes on a fixed
// cadence. Between flushes a newer reading replaces the older one; nothing
// is sent while no subscription is active, and nothing sent is older than
// the previous flush.
type Scheduler struct {
	mu      sync.Mutex
	pending Record // readings accumulated since the last flush
	subs    Subscriptions
	sink    Notifier

	flushes int
	dropped int // readings coalesced away by a newer value

	onRecord []func(Record)
}

// NewScheduler creates a Scheduler pushing through sink, gated on subs.
func NewScheduler(subs Subscriptions, sink Notifier) *Scheduler {
	return &Scheduler{subs: subs, sink: sink}
}

// OnRecord registers a callback receiving every flushed record. Used for
// uplink and status feeds; runs outside the scheduler lock.
func (s *Scheduler) OnRecord(fn func(Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRecord = append(s.onRecord, fn)
}

// SetHeartRate records a heart-rate reading, replacing any unflushed one.
func (s *Scheduler) SetHeartRate(bpm uint16, now time.Time) {
	s.set(FieldHeartRate, now, func(r *Record) { r.HeartRate = bpm })
}

// SetTemperature records a skin-temperature reading in centi-degrees.
func (s *Scheduler) SetTemperature(centiC int16, now time.Time) {
	s.set(FieldTemperature, now, func(r *Record) { r.Temperature = centiC })
}

// SetSpO2 records a blood-oxygen reading in percent.
func (s *Scheduler) SetSpO2(pct uint8, now time.Time) {
	s.set(FieldSpO2, now, func(r *Record) { r.SpO2 = pct })
}

// SetMotion records an activity-magnitude reading in milli-g.
func (s *Scheduler) SetMotion(mg uint16, now time.Time) {
	s.set(FieldMotion, now, func(r *Record) { r.Motion = mg })
}

func (s *Scheduler) set(f Field, now time.Time, apply func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.Has(f) {
		s.dropped++
	}
	apply(&s.pending)
	s.pending.Mask |= f
	s.pending.At = now
}

// Flush pushes the readings accumulated since the previous flush. Without an
// active subscription the pending readings are held, not sent: the peer sees
// data only after it has asked for it.
func (s *Scheduler) Flush(now time.Time) {
	s.mu.Lock()
	if s.pending.Mask == 0 || !s.subs.AnySubscribed() {
		s.mu.Unlock()
		return
	}
	rec := s.pending
	s.pending = Record{}
	s.flushes++
	callbacks := append([]func(Record){}, s.onRecord...)
	s.mu.Unlock()

	// One outbound message per period: the record characteristic carries a
	// single coalesced record holding the subscribed fields. A peer
	// subscribed to the record alone receives every collected field.
	out := rec
	out.Mask = 0
	for _, f := range fields {
		if rec.Has(f) && s.subs.Subscribed(f.Characteristic()) {
			out.Mask |= f
		}
	}
	if out.Mask == 0 && s.subs.Subscribed(conn.CharRecord) {
		out.Mask = rec.Mask
	}
	if out.Mask != 0 {
		if err := s.sink.Notify(conn.CharRecord, EncodeRecord(out)); err != nil {
			log.Printf("telemetry: notify record: %v", err)
		}
	}

	for _, fn := range callbacks {
		fn(rec)
	}
}

// Stats returns the flush counter and the number of readings coalesced away.
func (s *Scheduler) Stats() (flushes, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes, s.dropped
}
