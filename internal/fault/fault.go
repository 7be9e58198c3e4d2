// Package fault records internal invariant violations. Validation and
// transfer errors are recovered locally elsewhere; this package handles the
// one class of error that is not recoverable: the device halts safely, and
// the last-fault record survives the reset for audit.
package fault

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

// Record is the persisted description of the last fatal fault.
type Record struct {
	Code   string    `json:"code"`   // stable short identifier, e.g. "active-slot-write"
	Detail string    `json:"detail"` // human-readable context
	Time   time.Time `json:"time"`
}

// Store persists the fault record across resets.
type Store interface {
	Save(Record) error
	Load() (Record, bool, error) // ok=false when no record exists
	Clear() error
}

// FileStore keeps the fault record in a JSON file on retained storage.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the record.
func (s *FileStore) Save(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode fault record: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write fault record: %w", err)
	}
	return nil
}

// Load reads the record if one exists.
func (s *FileStore) Load() (Record, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read fault record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, false, fmt.Errorf("decode fault record: %w", err)
	}
	return r, true, nil
}

// Clear removes the record.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	Record Record
	Has    bool
}

// Save stores the record in memory.
func (s *FakeStore) Save(r Record) error {
	s.Record = r
	s.Has = true
	return nil
}

// Load returns the in-memory record.
func (s *FakeStore) Load() (Record, bool, error) {
	return s.Record, s.Has, nil
}

// Clear drops the in-memory record.
func (s *FakeStore) Clear() error {
	s.Has = false
	s.Record = Record{}
	return nil
}

// Recorder writes the fault record and halts. The halt function is
// replaceable so tests can observe a halt without killing the process.
type Recorder struct {
	store Store
	now   func() time.Time
	halt  func(format string, v ...any)
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(store Store, now func() time.Time) *Recorder {
	return &Recorder{store: store, now: now, halt: log.Fatalf}
}

// SetHalt replaces the halt function. Test hook.
func (r *Recorder) SetHalt(halt func(format string, v ...any)) {
	r.halt = halt
}

// Fatal records the fault and halts the device. It does not return in
// production (the default halt function is log.Fatalf).
func (r *Recorder) Fatal(code, format string, v ...any) {
	rec := Record{
		Code:   code,
		Detail: fmt.Sprintf(format, v...),
		Time:   r.now(),
	}
	if err := r.store.Save(rec); err != nil {
		// The halt proceeds regardless: running in an inconsistent
		// state is worse than losing the audit record.
		log.Printf("fault: save record: %v", err)
	}
	r.halt("fatal fault [%s]: %s", rec.Code, rec.Detail)
}
