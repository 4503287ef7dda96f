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


// Package fetch retrieves raw content from registered sources. Each source
// type has a dedicated fetcher; all of them honor conditional requests so
// unchanged sources cost a single round trip.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudlint/harvest/core"
)

const (
	userAgent   = "cloudlint-harvest/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// Conditional carries validators from the previous successful fetch of a
// source. Zero values mean an unconditional request.
type Conditional struct {
	ETag         string
	LastModified string
}

// Page is one fetched and parsed HTML document.
type Page struct {
	URL string
	Doc *goquery.Document
}

// File is one file retrieved from a rule repository.
type File struct {
	Path string
	URL  string
	Body []byte
}

// Result is the outcome of fetching a source. Exactly one of Body, Pages or
// Files is populated depending on the source type. When NotModified is set
// the payload fields are empty and the caller should skip parsing.
type Result struct {
	Body  []byte
	Pages []Page
	Files []File

	ETag         string
	LastModified string
	NotModified  bool
}

// Error wraps a fetch failure with the source it belongs to. StatusCode is
// zero for transport-level failures.
type Error struct {
	SourceID   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.SourceID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fetcher retrieves raw content for one source type.
type Fetcher interface {
	Fetch(ctx context.Context, src core.Source, cond Conditional) (*Result, error)
}

// Registry maps source types to fetchers.
type Registry struct {
	fetchers map[core.SourceType]Fetcher
}

// NewRegistry creates a registry with the default fetcher per source type,
// all sharing the given client. A nil client gets a 30 second timeout default.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{
		fetchers: map[core.SourceType]Fetcher{
			core.SourceTypeFeed:       NewFeedFetcher(client),
			core.SourceTypePage:       NewPageFetcher(client),
			core.SourceTypeRepository: NewRepoFetcher(client),
		},
	}
}

// ForSource returns the fetcher for the given source type.
func (r *Registry) ForSource(t core.SourceType) (Fetcher, error) {
	f, ok := r.fetchers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownSourceType, t)
	}
	return f, nil
}

// Register replaces the fetcher for a source type. Used by tests.
func (r *Registry) Register(t core.SourceType, f Fetcher) {
	r.fetchers[t] = f
}

// doGet performs a bounded GET with conditional headers. The caller owns the
// returned body; it is nil when the server answered 304.
func doGet(ctx context.Context, client *http.Client, src core.Source, url string, cond Conditional) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, &Error{SourceID: src.ID, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	if cond.ETag != "" {
		req.Header.Set("If-None-Match", cond.ETag)
	}
	if cond.LastModified != "" {
		req.Header.Set("If-Modified-Since", cond.LastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, &Error{SourceID: src.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &Error{SourceID: src.ID, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, &Error{SourceID: src.ID, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp, nil
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
