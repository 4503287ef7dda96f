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


// Package stage manages the staging area where validated recommendations
// wait for a human promote or reject decision. One JSON file per staged
// recommendation, named by its id.
package stage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/kb"
)

const stagedBy = "ingest-pipeline"

// Store owns the staging directory and the knowledge base promote target.
type Store struct {
	dir    string
	kb     *kb.Store
	logger *slog.Logger

	now func() time.Time
}

// NewStore creates a staging store. The kb store receives promoted entries.
func NewStore(dir string, kbStore *kb.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		kb:     kbStore,
		logger: logger.With("component", "stage"),
		now:    time.Now,
	}
}

// Stage writes a recommendation with its provenance to the staging area and
// returns the file path.
func (s *Store) Stage(rec core.Recommendation, prov core.Provenance) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	entry := core.StagedEntry{
		StagedAt:        s.now().UTC(),
		StagedBy:        stagedBy,
		SourceID:        prov.SourceID,
		SourceURL:       prov.SourceURL,
		DedupScore:      math.Round(prov.DedupScore*10000) / 10000,
		ClosestExisting: prov.ClosestExisting,
		Recommendation:  rec,
	}

	path := s.entryPath(rec.ID)
	if err := writeJSON(path, entry); err != nil {
		return "", err
	}

	s.logger.Info("staged recommendation", "id", rec.ID, "scenario", clip(rec.Scenario, 60))
	return path, nil
}

// Summary is one row of the staged listing.
type Summary struct {
	ID              string  `json:"id"`
	File            string  `json:"file"`
	StagedAt        string  `json:"staged_at"`
	SourceID        string  `json:"source_id"`
	ServiceName     string  `json:"service_name"`
	Scenario        string  `json:"scenario"`
	RiskDetail      string  `json:"risk_detail"`
	DedupScore      float64 `json:"dedup_score"`
	ClosestExisting string  `json:"closest_existing"`
}

// List returns summaries of all staged recommendations in filename order,
// optionally filtered by service name. Unreadable files are skipped.
func (s *Store) List(serviceFilter string) ([]Summary, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []Summary
	for _, path := range matches {
		entry, err := s.read(path)
		if err != nil {
			s.logger.Warn("failed to read staged file", "path", path, "err", err)
			continue
		}
		rec := entry.Recommendation
		if serviceFilter != "" && rec.ServiceName != serviceFilter {
			continue
		}
		out = append(out, Summary{
			ID:              rec.ID,
			File:            filepath.Base(path),
			StagedAt:        entry.StagedAt.UTC().Format(time.RFC3339),
			SourceID:        entry.SourceID,
			ServiceName:     rec.ServiceName,
			Scenario:        rec.Scenario,
			RiskDetail:      rec.RiskDetail,
			DedupScore:      entry.DedupScore,
			ClosestExisting: entry.ClosestExisting,
		})
	}
	return out, nil
}

// Count returns the number of staged files.
func (s *Store) Count() int {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0
	}
	return len(matches)
}

// Promote moves a staged recommendation into its knowledge base partition.
// On duplicate id the staged file is left in place so the conflict can be
// inspected.
func (s *Store) Promote(id string) (string, error) {
	path := s.entryPath(id)
	entry, err := s.read(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", core.ErrNotStaged, id)
	}
	if err != nil {
		return "", fmt.Errorf("read staged file: %w", err)
	}

	target, err := s.kb.Append(entry.Recommendation)
	if err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove staged file: %w", err)
	}

	s.logger.Info("promoted recommendation", "id", id, "target", target)
	return fmt.Sprintf("Promoted to %s", target), nil
}

// Reject removes a staged recommendation. A non-empty reason is recorded in
// the file before removal so an interrupted reject still leaves a trace.
func (s *Store) Reject(id, reason string) (string, error) {
	path := s.entryPath(id)
	entry, err := s.read(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", core.ErrNotStaged, id)
	}
	if err != nil {
		return "", fmt.Errorf("read staged file: %w", err)
	}

	if reason != "" {
		entry.RejectedAt = s.now().UTC().Format(time.RFC3339)
		entry.RejectionReason = reason
		if err := writeJSON(path, *entry); err != nil {
			return "", err
		}
		s.logger.Info("rejected recommendation", "id", id, "reason", reason)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove staged file: %w", err)
	}
	return fmt.Sprintf("Rejected: %s", id), nil
}

func (s *Store) entryPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(path string) (*core.StagedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry core.StagedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
