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


// Package registry loads and validates the source registry. Registry errors
// are the only fatal failure mode of a pipeline run.
package registry

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/cloudlint/harvest/core"
	"gopkg.in/yaml.v3"
)

// Registry is the decoded source registry document.
type Registry struct {
	Version string        `yaml:"version"`
	Sources []core.Source `yaml:"sources"`
}

// Load reads and validates the registry file. Any structural problem wraps
// core.ErrInvalidRegistry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", core.ErrInvalidRegistry, path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a registry document.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidRegistry, err)
	}
	if err := validate(&reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func validate(reg *Registry) error {
	if reg.Version == "" {
		return fmt.Errorf("%w: missing version", core.ErrInvalidRegistry)
	}
	if len(reg.Sources) == 0 {
		return fmt.Errorf("%w: no sources defined", core.ErrInvalidRegistry)
	}

	var errs []string
	seen := make(map[string]bool, len(reg.Sources))
	for i, src := range reg.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)

		if src.ID == "" || src.Name == "" || src.URL == "" {
			errs = append(errs, fmt.Sprintf("%s: id, name and url are required", prefix))
			continue
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Sprintf("%s: %v %q", prefix, core.ErrDuplicateSourceID, src.ID))
		}
		seen[src.ID] = true

		if !slices.Contains(core.SourceTypes, src.Type) {
			errs = append(errs, fmt.Sprintf("%s: %v %q, must be one of %v", prefix, core.ErrUnknownSourceType, src.Type, core.SourceTypes))
		}
		if len(src.Categories) == 0 {
			errs = append(errs, fmt.Sprintf("%s: categories must be non-empty", prefix))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", core.ErrInvalidRegistry, strings.Join(errs, "; "))
	}
	return nil
}

// Filter returns enabled sources, optionally restricted by type and ids.
func (r *Registry) Filter(sourceType core.SourceType, ids []string) []core.Source {
	var out []core.Source
	for _, src := range r.Sources {
		if !src.Enabled {
			continue
		}
		if sourceType != "" && src.Type != sourceType {
			continue
		}
		if len(ids) > 0 && !slices.Contains(ids, src.ID) {
			continue
		}
		out = append(out, src)
	}
	return out
}

// Lookup returns the source with the given id.
func (r *Registry) Lookup(id string) (core.Source, bool) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return core.Source{}, false
}
