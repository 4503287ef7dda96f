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


// Package pipeline orchestrates a full ingestion run: fetch, filter, dedup,
// convert, validate, stage. Sources are fetched concurrently; item conversion
// runs serially behind the backend rate limiter.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/cloudlint/harvest/convert"
	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/dedup"
	"github.com/cloudlint/harvest/fetch"
	"github.com/cloudlint/harvest/kb"
	"github.com/cloudlint/harvest/parse"
	"github.com/cloudlint/harvest/registry"
	"github.com/cloudlint/harvest/stage"
	"github.com/cloudlint/harvest/state"
	"github.com/panjf2000/ants/v2"
)

// Pipeline runs the ingestion flow over the registry's enabled sources.
type Pipeline struct {
	reg      *registry.Registry
	store    *state.Store
	kbStore  *kb.Store
	staging  *stage.Store
	schema   *core.Schema
	fetchers *fetch.Registry
	parsers  *parse.Registry

	converter *convert.Converter
	dedupOpts []dedup.Option
	pool      *ants.Pool
	progress  *ProgressTracker
	logger    *slog.Logger

	sourceType core.SourceType
	sourceIDs  []string
	dryRun     bool
	maxItems   int

	autoPromote          bool
	autoPromoteThreshold float64

	now func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConverter sets the generative converter. Without one, items stop after
// the dedup check and conversion is skipped entirely.
func WithConverter(c *convert.Converter) Option {
	return func(p *Pipeline) error {
		p.converter = c
		return nil
	}
}

// WithDedupOptions passes options through to the dedup engine built for the
// run, such as a semantic embedder or a custom threshold.
func WithDedupOptions(opts ...dedup.Option) Option {
	return func(p *Pipeline) error {
		p.dedupOpts = append(p.dedupOpts, opts...)
		return nil
	}
}

// WithWorkers sets the fetch worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "pipeline")
		return nil
	}
}

// WithSourceFilter restricts the run to sources of the given type and ids.
// Either may be empty.
func WithSourceFilter(sourceType core.SourceType, ids []string) Option {
	return func(p *Pipeline) error {
		p.sourceType = sourceType
		p.sourceIDs = ids
		return nil
	}
}

// WithDryRun stops each item after the dedup check. No state is written.
func WithDryRun(dryRun bool) Option {
	return func(p *Pipeline) error {
		p.dryRun = dryRun
		return nil
	}
}

// WithMaxItems caps the number of items taken from each source.
func WithMaxItems(n int) Option {
	return func(p *Pipeline) error {
		p.maxItems = n
		return nil
	}
}

// WithAutoPromote promotes staged entries whose dedup score is at or below
// the given threshold straight into the knowledge base.
func WithAutoPromote(threshold float64) Option {
	return func(p *Pipeline) error {
		p.autoPromote = true
		p.autoPromoteThreshold = threshold
		return nil
	}
}

// WithFetchRegistry replaces the default fetcher registry.
func WithFetchRegistry(r *fetch.Registry) Option {
	return func(p *Pipeline) error {
		p.fetchers = r
		return nil
	}
}

// WithProgress attaches a progress tracker for the item processing phase.
func WithProgress(tracker *ProgressTracker) Option {
	return func(p *Pipeline) error {
		p.progress = tracker
		return nil
	}
}

// New creates a pipeline over the given stores.
func New(
	reg *registry.Registry,
	store *state.Store,
	kbStore *kb.Store,
	staging *stage.Store,
	schema *core.Schema,
	opts ...Option,
) (*Pipeline, error) {
	if reg == nil {
		return nil, ErrRegistryRequired
	}
	if store == nil {
		return nil, ErrStateRequired
	}
	if kbStore == nil {
		return nil, ErrKnowledgeBaseRequired
	}
	if staging == nil {
		return nil, ErrStagingRequired
	}
	if schema == nil {
		return nil, ErrSchemaRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		reg:      reg,
		store:    store,
		kbStore:  kbStore,
		staging:  staging,
		schema:   schema,
		fetchers: fetch.NewRegistry(nil),
		parsers:  parse.NewRegistry(),
		pool:     pool,
		logger:   slog.Default().With("component", "pipeline"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release releases the worker pool. The pipeline should not be used after
// calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

type sourceResult struct {
	src          core.Source
	items        []core.RawItem
	etag         string
	lastModified string
	notModified  bool
}

// Run executes one full pipeline pass and returns its metrics. Per-source
// failures are recorded in the metrics, not returned; the error covers only
// setup failures such as an unreadable knowledge base.
func (p *Pipeline) Run(ctx context.Context) (*core.PipelineMetrics, error) {
	start := p.now()
	metrics := &core.PipelineMetrics{Errors: []string{}}

	sources := p.reg.Filter(p.sourceType, p.sourceIDs)
	if len(sources) == 0 {
		p.logger.Warn("no matching enabled sources found")
		return metrics, nil
	}
	metrics.SourcesAttempted = len(sources)

	existing, err := p.kbStore.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load existing entries: %w", err)
	}
	engine := dedup.NewEngine(existing, p.dedupOpts...)
	engine.PrepareEmbeddings(ctx)
	p.logger.Info("loaded existing entries for deduplication", "count", engine.CorpusSize())

	results := p.fetchAll(ctx, sources, metrics)

	if p.progress != nil {
		total := 0
		for _, res := range results {
			total += len(res.items)
		}
		p.progress.Start(total)
	}

	var mu sync.Mutex
	for _, res := range results {
		p.processSource(ctx, res, engine, metrics, &mu)
	}
	if p.progress != nil {
		p.progress.Finish()
	}

	metrics.ElapsedSeconds = math.Round(p.now().Sub(start).Seconds()*100) / 100

	if !p.dryRun {
		p.store.RecordRun(core.RunRecord{
			Timestamp: p.now().UTC(),
			DryRun:    false,
			Metrics:   *metrics,
		})
		if err := p.store.Save(); err != nil {
			p.logger.Error("failed to save state", "err", err)
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("save state: %v", err))
		}
	}
	return metrics, nil
}

// fetchAll fetches and parses every source on the worker pool. Sources that
// fail or report not-modified are accounted for here and excluded from the
// returned results.
func (p *Pipeline) fetchAll(ctx context.Context, sources []core.Source, metrics *core.PipelineMetrics) []*sourceResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*sourceResult
	)

	for _, src := range sources {
		src := src
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			res := p.fetchSource(ctx, src, metrics, &mu)
			if res != nil {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("submit fetch (%s): %v", src.ID, err))
			mu.Unlock()
		}
	}
	wg.Wait()
	return results
}

func (p *Pipeline) fetchSource(ctx context.Context, src core.Source, metrics *core.PipelineMetrics, mu *sync.Mutex) *sourceResult {
	p.logger.Info("processing source", "source", src.Name, "type", src.Type)

	fetcher, err := p.fetchers.ForSource(src.Type)
	if err != nil {
		mu.Lock()
		metrics.Errors = append(metrics.Errors, fmt.Sprintf("fetch error (%s): %v", src.ID, err))
		mu.Unlock()
		return nil
	}

	etag, lastModified := p.store.Conditional(src.ID)
	result, err := fetcher.Fetch(ctx, src, fetch.Conditional{ETag: etag, LastModified: lastModified})
	if err != nil {
		p.logger.Error("fetch failed", "source", src.ID, "err", err)
		p.store.UpdateAfterFetch(src.ID, "", "", 0, err)
		mu.Lock()
		metrics.Errors = append(metrics.Errors, fmt.Sprintf("fetch error (%s): %v", src.ID, err))
		mu.Unlock()
		return nil
	}

	if result.NotModified {
		p.logger.Info("source not modified, skipping", "source", src.ID)
		p.store.UpdateAfterFetch(src.ID, result.ETag, result.LastModified, 0, nil)
		mu.Lock()
		metrics.SourcesProcessed++
		mu.Unlock()
		return nil
	}

	parser, err := p.parsers.ForSource(src.Type)
	if err != nil {
		mu.Lock()
		metrics.Errors = append(metrics.Errors, fmt.Sprintf("parse error (%s): %v", src.ID, err))
		mu.Unlock()
		return nil
	}
	items, err := parser.Parse(src, result)
	if err != nil {
		p.logger.Error("parse failed", "source", src.ID, "err", err)
		mu.Lock()
		metrics.Errors = append(metrics.Errors, fmt.Sprintf("parse error (%s): %v", src.ID, err))
		mu.Unlock()
		return nil
	}

	mu.Lock()
	metrics.ItemsFetched += len(items)
	mu.Unlock()

	if p.maxItems > 0 && len(items) > p.maxItems {
		items = items[:p.maxItems]
	}

	return &sourceResult{
		src:          src,
		items:        items,
		etag:         result.ETag,
		lastModified: result.LastModified,
	}
}

func (p *Pipeline) processSource(ctx context.Context, res *sourceResult, engine *dedup.Engine, metrics *core.PipelineMetrics, mu *sync.Mutex) {
	for _, item := range res.items {
		p.processItem(ctx, item, engine, metrics, mu)
		if p.progress != nil {
			p.progress.Increment(1)
		}
	}

	p.store.UpdateAfterFetch(res.src.ID, res.etag, res.lastModified, len(res.items), nil)
	mu.Lock()
	metrics.SourcesProcessed++
	mu.Unlock()
}

func (p *Pipeline) processItem(ctx context.Context, item core.RawItem, engine *dedup.Engine, metrics *core.PipelineMetrics, mu *sync.Mutex) {
	if ctx.Err() != nil {
		return
	}

	fingerprint := core.Fingerprint(item.Title, item.Body)
	if p.store.IsSeen(item.SourceID, fingerprint) {
		mu.Lock()
		metrics.FilteredSeen++
		mu.Unlock()
		return
	}
	if !p.dryRun {
		p.store.MarkSeen(item.SourceID, fingerprint)
	}

	score, closest := engine.Check(ctx, item.Title, item.Body)
	if score >= engine.Threshold() {
		mu.Lock()
		metrics.FilteredDuplicate++
		mu.Unlock()
		p.logger.Debug("dedup filtered", "title", item.Title, "score", score, "closest", closest)
		return
	}

	if p.dryRun {
		p.logger.Info("dry run, would process", "title", item.Title, "dedup_score", score)
		return
	}
	if p.converter == nil {
		p.logger.Info("conversion disabled, skipping", "title", item.Title)
		return
	}

	rec, err := p.converter.Convert(ctx, item)
	if err != nil {
		// Counted, not surfaced: a backend that never yields valid output
		// drops the item without failing the run.
		mu.Lock()
		metrics.ConvertFailed++
		mu.Unlock()
		p.logger.Warn("conversion failed, dropping item", "source", item.SourceID, "title", item.Title, "err", err)
		return
	}
	if rec == nil {
		mu.Lock()
		metrics.ConvertSkipped++
		mu.Unlock()
		return
	}
	mu.Lock()
	metrics.Converted++
	mu.Unlock()

	valid, errs := core.ValidateRecommendation(rec, p.schema)
	if !valid {
		mu.Lock()
		metrics.ValidationFailed++
		mu.Unlock()
		p.logger.Warn("validation failed, retrying with errors in prompt", "title", item.Title, "errors", errs)

		rec = p.retryWithErrors(ctx, item, errs)
		if rec == nil {
			return
		}
	}
	mu.Lock()
	metrics.Validated++
	mu.Unlock()

	prov := core.Provenance{
		SourceID:        item.SourceID,
		SourceURL:       item.URL,
		DedupScore:      score,
		ClosestExisting: closest,
	}
	if _, err := p.staging.Stage(*rec, prov); err != nil {
		mu.Lock()
		metrics.Errors = append(metrics.Errors, fmt.Sprintf("stage error (%s): %v", item.SourceID, err))
		mu.Unlock()
		return
	}
	mu.Lock()
	metrics.Staged++
	mu.Unlock()

	if p.autoPromote && score <= p.autoPromoteThreshold {
		if _, err := p.staging.Promote(rec.ID); err != nil {
			p.logger.Warn("auto-promote failed", "id", rec.ID, "err", err)
			return
		}
		mu.Lock()
		metrics.AutoPromoted++
		mu.Unlock()
		p.logger.Info("auto-promoted", "id", rec.ID, "dedup_score", score)
	}
}

// retryWithErrors reruns conversion once with the validation errors appended
// to the item body, and returns the result only if it now validates.
func (p *Pipeline) retryWithErrors(ctx context.Context, item core.RawItem, errs []string) *core.Recommendation {
	retry := item
	retry.Body = fmt.Sprintf("%s\n\nPrevious attempt had validation errors: %v", item.Body, errs)

	rec, err := p.converter.Convert(ctx, retry)
	if err != nil || rec == nil {
		return nil
	}
	valid, errs := core.ValidateRecommendation(rec, p.schema)
	if !valid {
		p.logger.Error("validation still failed after retry", "title", item.Title, "errors", errs)
		return nil
	}
	return rec
}
