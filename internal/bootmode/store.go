package bootmode

import (
	"encoding/json"
	"fmt"
	"os"
)

// Record is the persisted boot record. It survives resets; the boot-loop
// guard and the deferred-DFU flag live here.
type Record struct {
	// PendingBoots counts consecutive boots of an unconfirmed pending
	// image. Reset to zero by Confirm.
	PendingBoots int `json:"pending_boots"`

	// DFURequested defers DFU entry to the next boot; set by the
	// application (console collaborator), cleared once honored.
	DFURequested bool `json:"dfu_requested"`

	// LastCause records the previous reset cause for diagnostics.
	LastCause ResetCause `json:"last_cause"`
}

// Store persists the boot record across resets.
type Store interface {
	Load() (Record, error)
	Save(Record) error
}

// FileStore keeps the boot record in a JSON file on retained storage.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the record. A missing file is a fresh record, not an error.
func (s *FileStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read boot record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		// A corrupt record is treated as fresh; boot must not fail
		// over bookkeeping.
		return Record{}, nil
	}
	return r, nil
}

// Save writes the record atomically (write temp, rename).
func (s *FileStore) Save(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode boot record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write boot record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit boot record: %w", err)
	}
	return nil
}

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	Record Record

	// LoadError and SaveError, if set, are returned by the calls.
	LoadError error
	SaveError error

	// Saves counts Save calls.
	Saves int
}

// Load returns the in-memory record.
func (s *FakeStore) Load() (Record, error) {
	if s.LoadError != nil {
		return Record{}, s.LoadError
	}
	return s.Record, nil
}

// Save stores the record in memory.
func (s *FakeStore) Save(r Record) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.Record = r
	s.Saves++
	return nil
}
