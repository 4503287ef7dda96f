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


// Package dedup scores new candidates against the existing knowledge base.
// The primary check is TF-IDF cosine similarity; an optional semantic pass
// with an embedding backend runs only when the lexical score stays below the
// threshold, and the higher of the two scores wins.
package dedup

import (
	"context"
	"log/slog"

	"github.com/cloudlint/harvest/ai"
	"github.com/cloudlint/harvest/core"
)

// DefaultThreshold is the similarity score at or above which a candidate is
// treated as a duplicate.
const DefaultThreshold = 0.70

// Engine compares candidates against a fixed corpus of existing entries.
type Engine struct {
	threshold float64

	scenarios  []string
	texts      []string
	vectorizer *Vectorizer
	matrix     []sparseVec

	embedder   ai.Embedder
	cache      *EmbedCache
	embeddings [][]float32
	semantic   bool

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the duplicate threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.threshold = t
	}
}

// WithEmbedder enables the semantic pass using the given backend.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(e *Engine) {
		e.embedder = embedder
	}
}

// WithCache persists corpus embeddings across runs.
func WithCache(cache *EmbedCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine builds the comparison corpus from existing entries.
func NewEngine(entries []core.Recommendation, opts ...Option) *Engine {
	e := &Engine{
		threshold: DefaultThreshold,
		logger:    slog.Default().With("component", "dedup"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.scenarios = make([]string, len(entries))
	e.texts = make([]string, len(entries))
	for i := range entries {
		e.scenarios[i] = entries[i].Scenario
		e.texts[i] = entries[i].ComparisonText()
	}

	if len(e.texts) > 0 {
		e.vectorizer = NewVectorizer(e.texts)
		e.matrix = make([]sparseVec, len(e.texts))
		for i, text := range e.texts {
			e.matrix[i] = e.vectorizer.Vectorize(text)
		}
	}

	e.logger.Info("dedup corpus ready", "entries", len(e.texts), "threshold", e.threshold)
	return e
}

// PrepareEmbeddings computes or loads corpus embeddings for the semantic
// pass. A failing embedder disables the semantic pass instead of failing the
// run.
func (e *Engine) PrepareEmbeddings(ctx context.Context) {
	if e.embedder == nil || len(e.texts) == 0 {
		return
	}

	e.embeddings = make([][]float32, len(e.texts))
	var misses []int
	for i, text := range e.texts {
		if e.cache != nil {
			if vec, ok := e.cache.Get(text); ok {
				e.embeddings[i] = vec
				continue
			}
		}
		misses = append(misses, i)
	}

	for _, i := range misses {
		vec, err := e.embedder.EmbedText(ctx, e.texts[i])
		if err != nil {
			e.logger.Warn("embedding backend unavailable, semantic pass disabled", "err", err)
			e.embeddings = nil
			return
		}
		e.embeddings[i] = vec
		if e.cache != nil {
			if err := e.cache.Put(e.texts[i], vec); err != nil {
				e.logger.Warn("failed to cache embedding", "err", err)
			}
		}
	}

	e.semantic = true
	e.logger.Info("semantic dedup ready", "cached", len(e.texts)-len(misses), "embedded", len(misses))
}

// Threshold returns the duplicate threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// CorpusSize returns the number of existing entries being compared against.
func (e *Engine) CorpusSize() int {
	return len(e.texts)
}

// Check scores a candidate against the corpus and returns the maximum
// similarity with the scenario of the closest existing entry.
func (e *Engine) Check(ctx context.Context, title, body string) (float64, string) {
	if len(e.texts) == 0 {
		return 0, ""
	}

	newText := title + " " + body
	vec := e.vectorizer.Vectorize(newText)

	maxScore, maxIdx := 0.0, 0
	for i, row := range e.matrix {
		if score := cosine(vec, row); score > maxScore {
			maxScore, maxIdx = score, i
		}
	}
	closest := e.scenarios[maxIdx]

	if maxScore >= e.threshold {
		return maxScore, closest
	}

	if !e.semantic {
		return maxScore, closest
	}

	newVec, err := e.embedder.EmbedText(ctx, newText)
	if err != nil {
		e.logger.Warn("semantic similarity check failed, using lexical score", "err", err)
		return maxScore, closest
	}

	for i, corpusVec := range e.embeddings {
		if score := cosine32(newVec, corpusVec); score > maxScore {
			maxScore, maxIdx = score, i
			closest = e.scenarios[i]
		}
	}
	return maxScore, closest
}

// IsDuplicate reports whether the candidate meets the duplicate threshold.
func (e *Engine) IsDuplicate(ctx context.Context, title, body string) bool {
	score, _ := e.Check(ctx, title, body)
	return score >= e.threshold
}
