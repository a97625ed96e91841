// Package migration moves data out of the legacy flat-file key-value
// store into the record store, and bridges reads during the transition.
package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatStore is the legacy storage format: one JSON object per device,
// every key in a single file. It survives only to be read during the
// import and as a fallback while the transition completes.
type FlatStore struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

// OpenFlatStore loads the legacy file at path. A missing file is an
// empty store, not an error.
func OpenFlatStore(path string) (*FlatStore, error) {
	s := &FlatStore{path: path, data: make(map[string]json.RawMessage)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy store: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parse legacy store: %w", err)
		}
	}
	return s, nil
}

// Get returns the raw value for key and whether it exists.
func (s *FlatStore) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	return value, ok
}

// Set stores a value and persists the whole file.
func (s *FlatStore) Set(key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.persistLocked()
}

// Delete removes a key and persists. Unknown keys are a no-op.
func (s *FlatStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persistLocked()
}

// Keys returns every key in sorted order.
func (s *FlatStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (s *FlatStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// persistLocked writes the file via temp and rename. Caller holds mu.
func (s *FlatStore) persistLocked() error {
	encoded, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("encode legacy store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".flat-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
