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


// Package parse turns fetched payloads into candidate items. Parsers are
// lenient: malformed entries are skipped with a warning, never fatal.
package parse

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/fetch"
)

const maxBodyLen = 4000

// Parser extracts candidate items from a fetch result.
type Parser interface {
	Parse(src core.Source, res *fetch.Result) ([]core.RawItem, error)
}

// Registry maps source types to parsers.
type Registry struct {
	parsers map[core.SourceType]Parser
}

// NewRegistry creates a registry with the default parser per source type.
func NewRegistry() *Registry {
	return &Registry{
		parsers: map[core.SourceType]Parser{
			core.SourceTypeFeed:       NewFeedParser(),
			core.SourceTypePage:       NewPageParser(),
			core.SourceTypeRepository: NewRepoParser(),
		},
	}
}

// ForSource returns the parser for the given source type.
func (r *Registry) ForSource(t core.SourceType) (Parser, error) {
	p, ok := r.parsers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownSourceType, t)
	}
	return p, nil
}

// Register replaces the parser for a source type. Used by tests.
func (r *Registry) Register(t core.SourceType, p Parser) {
	r.parsers[t] = p
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// stripHTML removes tags, decodes entities and collapses whitespace.
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// truncate caps s at n bytes, backing off to the nearest rune boundary so a
// multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// capItems applies the source's max_items setting.
func capItems(items []core.RawItem, opts core.SourceOptions) []core.RawItem {
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		return items[:opts.MaxItems]
	}
	return items
}
