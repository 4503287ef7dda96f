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


// Package kb reads and updates the knowledge base, one JSON document per
// service under the by-service directory.
package kb

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudlint/harvest/core"
)

// ServiceDoc is the on-disk partition for one service.
type ServiceDoc struct {
	Service           string                `json:"service"`
	Count             int                   `json:"count"`
	Misconfigurations []core.Recommendation `json:"misconfigurations"`
}

// Store owns the by-service directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at the by-service directory.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With("component", "kb")}
}

// LoadAll returns every recommendation across all service partitions, in
// stable filename order. A missing directory yields an empty corpus.
func (s *Store) LoadAll() ([]core.Recommendation, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var all []core.Recommendation
	for _, path := range matches {
		doc, err := s.readDoc(path)
		if err != nil {
			s.logger.Warn("skipping unreadable service file", "path", path, "err", err)
			continue
		}
		all = append(all, doc.Misconfigurations...)
	}
	return all, nil
}

// Append adds a recommendation to its service partition, creating the
// partition if needed. Appending an id that already exists in the partition
// returns core.ErrDuplicateID and leaves the file untouched.
func (s *Store) Append(rec core.Recommendation) (string, error) {
	service := strings.ToLower(strings.TrimSpace(rec.ServiceName))
	if service == "" {
		return "", core.ErrMissingService
	}

	path := filepath.Join(s.dir, service+".json")
	doc, err := s.readDoc(path)
	if os.IsNotExist(err) {
		doc = &ServiceDoc{Service: service}
	} else if err != nil {
		return "", fmt.Errorf("read service file: %w", err)
	}

	for _, existing := range doc.Misconfigurations {
		if existing.ID == rec.ID {
			return "", fmt.Errorf("%w: %s", core.ErrDuplicateID, rec.ID)
		}
	}

	doc.Misconfigurations = append(doc.Misconfigurations, rec)
	doc.Count = len(doc.Misconfigurations)

	if err := s.writeDoc(path, doc); err != nil {
		return "", err
	}
	s.logger.Info("appended recommendation", "service", service, "id", rec.ID)
	return filepath.Base(path), nil
}

func (s *Store) readDoc(path string) (*ServiceDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ServiceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) writeDoc(path string, doc *ServiceDoc) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
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
