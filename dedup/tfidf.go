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


package dedup

import (
	"math"
	"strings"
)

// Stop words filtered out before building term vectors
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "your": true, "all": true, "can": true,
	"if": true, "when": true, "should": true, "must": true,
}

// tokenize splits text into words, lowercases, trims punctuation, and removes
// stop words.
func tokenize(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// terms returns unigrams and bigrams for the text.
func terms(text string) []string {
	tokens := tokenize(text)
	out := make([]string, 0, 2*len(tokens))
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}

// sparseVec is an l2-normalized term-weight vector indexed by vocabulary id.
type sparseVec map[int]float64

// Vectorizer maps text to TF-IDF vectors over a fixed corpus vocabulary.
// Terms unseen at build time are ignored, matching the behavior of fitting
// once on the existing corpus.
type Vectorizer struct {
	vocab map[string]int
	idf   []float64
}

// NewVectorizer builds the vocabulary and smoothed inverse document
// frequencies from the corpus documents.
func NewVectorizer(docs []string) *Vectorizer {
	v := &Vectorizer{vocab: make(map[string]int)}

	df := make([]int, 0)
	for _, doc := range docs {
		seen := make(map[int]bool)
		for _, term := range terms(doc) {
			id, ok := v.vocab[term]
			if !ok {
				id = len(v.idf)
				v.vocab[term] = id
				v.idf = append(v.idf, 0)
				df = append(df, 0)
			}
			if !seen[id] {
				df[id]++
				seen[id] = true
			}
		}
	}

	n := float64(len(docs))
	for id, count := range df {
		v.idf[id] = math.Log((1+n)/(1+float64(count))) + 1
	}
	return v
}

// Vectorize returns the normalized TF-IDF vector for the text.
func (v *Vectorizer) Vectorize(text string) sparseVec {
	counts := make(map[int]float64)
	for _, term := range terms(text) {
		if id, ok := v.vocab[term]; ok {
			counts[id]++
		}
	}

	var norm float64
	vec := make(sparseVec, len(counts))
	for id, tf := range counts {
		w := tf * v.idf[id]
		vec[id] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for id := range vec {
			vec[id] /= norm
		}
	}
	return vec
}

// cosine returns the cosine similarity of two normalized sparse vectors.
func cosine(a, b sparseVec) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for id, w := range a {
		sum += w * b[id]
	}
	return sum
}

// cosine32 returns the cosine similarity of two dense embedding vectors.
func cosine32(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
