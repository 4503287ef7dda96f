// Copyright 2025 Cloudlint Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package state persists per-source fetch bookkeeping and run history as a
// single JSON document with atomic writes.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudlint/harvest/core"
)

const (
	stateVersion     = "1.0.0"
	maxSeenPerSource = 10000
	maxRuns          = 100
	backupTimeFormat = "20060102150405"
)

// SourceState tracks one source's fetch history and seen fingerprints.
type SourceState struct {
	LastFetchedAt     *time.Time           `json:"last_fetched_at"`
	ETag              string               `json:"etag,omitempty"`
	LastModified      string               `json:"last_modified,omitempty"`
	Seen              map[string]time.Time `json:"content_hashes"`
	ConsecutiveEmpty  int                  `json:"consecutive_empty"`
	ConsecutiveErrors int                  `json:"consecutive_errors"`
}

// State is the persisted document.
type State struct {
	Version string                  `json:"version"`
	Sources map[string]*SourceState `json:"sources"`
	Runs    []core.RunRecord        `json:"runs"`

	// corrupt marks state recovered from an undecodable file.
	corrupt bool
}

// Store owns the state file. All methods are safe for concurrent use.
type Store struct {
	path   string
	mu     sync.Mutex
	state  *State
	logger *slog.Logger

	now func() time.Time
}

func defaultState() *State {
	return &State{
		Version: stateVersion,
		Sources: make(map[string]*SourceState),
	}
}

// Load opens the state file at path, creating default state when the file
// does not exist. A corrupt file is backed up next to the original and
// replaced with defaults; the returned store is usable either way.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "state"),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.state = defaultState()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil || st.Sources == nil {
		if err == nil {
			err = fmt.Errorf("missing sources map")
		}
		s.logger.Error("state file corrupted, continuing with defaults", "path", path, "err", err)
		backup := fmt.Sprintf("%s.corrupt.%s", path, s.now().Format(backupTimeFormat))
		if werr := os.WriteFile(backup, data, 0o644); werr != nil {
			s.logger.Error("failed to back up corrupt state", "backup", backup, "err", werr)
		} else {
			s.logger.Error("backed up corrupt state", "backup", backup)
		}
		s.state = defaultState()
		s.state.corrupt = true
		return s, nil
	}

	for _, src := range st.Sources {
		if src.Seen == nil {
			src.Seen = make(map[string]time.Time)
		}
	}
	s.state = &st
	return s, nil
}

// Save writes the state atomically via a temp file and rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// WasCorrupt reports whether the last Load recovered from a corrupt file.
func (s *Store) WasCorrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.corrupt
}

// Conditional returns the validators recorded for a source.
func (s *Store) Conditional(sourceID string) (etag, lastModified string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.state.Sources[sourceID]; ok {
		return src.ETag, src.LastModified
	}
	return "", ""
}

// IsSeen reports whether the fingerprint was already ingested for the source.
func (s *Store) IsSeen(sourceID, fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.state.Sources[sourceID]
	if !ok {
		return false
	}
	_, seen := src.Seen[fingerprint]
	return seen
}

// MarkSeen records a fingerprint for the source. When the per-source cap is
// exceeded the oldest entries are evicted.
func (s *Store) MarkSeen(sourceID, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.sourceLocked(sourceID)
	src.Seen[fingerprint] = s.now().UTC()

	if len(src.Seen) <= maxSeenPerSource {
		return
	}
	excess := len(src.Seen) - maxSeenPerSource
	for i := 0; i < excess; i++ {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range src.Seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(src.Seen, oldestKey)
	}
}

// SeenCount returns the number of fingerprints recorded for the source.
func (s *Store) SeenCount(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.state.Sources[sourceID]; ok {
		return len(src.Seen)
	}
	return 0
}

// UpdateAfterFetch records the outcome of a fetch attempt. Errors and empty
// results feed the consecutive counters used by health checks.
func (s *Store) UpdateAfterFetch(sourceID, etag, lastModified string, itemCount int, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.sourceLocked(sourceID)
	now := s.now().UTC()
	src.LastFetchedAt = &now

	if etag != "" {
		src.ETag = etag
	}
	if lastModified != "" {
		src.LastModified = lastModified
	}

	if fetchErr != nil {
		src.ConsecutiveErrors++
	} else {
		src.ConsecutiveErrors = 0
	}

	if itemCount == 0 && fetchErr == nil {
		src.ConsecutiveEmpty++
	} else {
		src.ConsecutiveEmpty = 0
	}
}

// RecordRun appends a run record, keeping at most the last 100 runs.
func (s *Store) RecordRun(rec core.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Runs = append(s.state.Runs, rec)
	if len(s.state.Runs) > maxRuns {
		s.state.Runs = s.state.Runs[len(s.state.Runs)-maxRuns:]
	}
}

// Runs returns a copy of the run history, newest last.
func (s *Store) Runs() []core.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RunRecord(nil), s.state.Runs...)
}

// Snapshot returns a copy of all source states keyed by source id.
func (s *Store) Snapshot() map[string]SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]SourceState, len(s.state.Sources))
	for id, src := range s.state.Sources {
		cp := *src
		out[id] = cp
	}
	return out
}

func (s *Store) sourceLocked(sourceID string) *SourceState {
	src, ok := s.state.Sources[sourceID]
	if !ok {
		src = &SourceState{Seen: make(map[string]time.Time)}
		s.state.Sources[sourceID] = src
	}
	return src
}
