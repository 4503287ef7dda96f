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


package core

import (
	"encoding/json"
	"fmt"
	"os"
)

// Property describes one schema field. Type may be a single JSON type name
// or a list of alternatives (nullable unions such as ["integer", "null"]).
type Property struct {
	Type    any      `json:"type,omitempty"`
	Enum    []any    `json:"enum,omitempty"`
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
}

// Types returns the allowed JSON type names for the property.
func (p Property) Types() []string {
	switch t := p.Type.(type) {
	case string:
		return []string{t}
	case []any:
		names := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

// Schema is the knowledge-base entry schema, consumed opaquely by the
// validator. Raw preserves the original document text for embedding in
// conversion prompts.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
	Raw        []byte              `json:"-"`
}

// ParseSchema decodes a schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s.Raw = data
	return &s, nil
}

// LoadSchema reads and decodes a schema document from disk.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSchema(data)
}
