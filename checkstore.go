// Copyright 2026 The pyprod Authors
// SPDX-License-Identifier: Apache-2.0

package pyprod

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"
)

// StateDir is the build working directory pyprod uses for persisted state,
// mirroring the teacher's ".mk" directory.
const StateDir = ".pyprod"

// CheckStoreFile returns the check-value store path within StateDir.
func CheckStoreFile() string {
	return filepath.Join(StateDir, "checks.json")
}

// checkEntry is one resource's last-probed value and the time it was
// recorded, as persisted to disk.
type checkEntry struct {
	Value    json.RawMessage `json:"value"`
	Recorded time.Time       `json:"recorded"`
}

// CheckStore is the persistent resource-name -> last-probed-value mapping
// described in §3 and §9. It is loaded once at start, mutated only by the
// staleness oracle, and flushed at completion via write-temp-then-rename so
// a crash mid-run cannot corrupt already-committed entries. A single lock
// serializes each compare-and-update in Observe; the probe call that
// produces the value runs before Observe, outside that lock, so probes of
// the same resource are not serialized against each other.
type CheckStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]checkEntry

	// Now returns the current time; overridable in tests. Defaults to
	// time.Now.
	Now func() time.Time
}

// LoadCheckStore loads the check-value store from path. A missing or
// corrupt file is tolerated by starting empty (§9).
func LoadCheckStore(path string) *CheckStore {
	s := &CheckStore{path: path, entries: make(map[string]checkEntry), Now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var entries map[string]checkEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return s
	}
	s.entries = entries
	return s
}

// Get returns the recorded entry for resource, if any.
func (s *CheckStore) Get(resource string) (value json.RawMessage, recorded time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[resource]
	return e.Value, e.Recorded, ok
}

// Observe records the result of probing resource, serialized through the
// store's single lock. It returns the effective timestamp the staleness
// oracle should use for the virtual node, and whether the probed value
// differs from (or was absent from) the prior recording.
//
// Per §4.4: when the value differs (or there was no prior entry), the
// effective timestamp is "now" and the store is updated; otherwise it is
// the timestamp already recorded for that resource.
func (s *CheckStore) Observe(resource string, value any) (effective time.Time, changed bool, err error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return time.Time{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, ok := s.entries[resource]
	if ok && bytes.Equal(prior.Value, raw) {
		return prior.Recorded, false, nil
	}

	now := s.Now()
	s.entries[resource] = checkEntry{Value: raw, Recorded: now}
	return now, true, nil
}

// Save flushes the store back to the path it was loaded from, using
// write-temp-then-rename so a crash mid-write never leaves a truncated or
// partially-written file in place.
func (s *CheckStore) Save() error {
	s.mu.Lock()
	path := s.path
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, data, 0o644)
}
