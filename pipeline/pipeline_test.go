package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cloudlint/harvest/ai/mock"
	"github.com/cloudlint/harvest/convert"
	"github.com/cloudlint/harvest/core"
	"github.com/cloudlint/harvest/kb"
	"github.com/cloudlint/harvest/registry"
	"github.com/cloudlint/harvest/stage"
	"github.com/cloudlint/harvest/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaText = `{"required": ["id", "service_name", "scenario"]}`

const feedXML = `<?xml version="1.0"?>
<rss version="2.0"><channel>
  <title>Cloud Blog</title>
  <item>
    <title>Enforce S3 bucket encryption</title>
    <link>https://blog.example/s3-encryption</link>
    <description>Buckets created without default server-side encryption leave objects stored in plaintext and fail most compliance baselines.</description>
  </item>
  <item>
    <title>Right-size idle EC2 instances</title>
    <link>https://blog.example/ec2-rightsize</link>
    <description>Instances that sit below ten percent utilization for weeks at a time are pure waste and should be downsized or stopped on a schedule.</description>
  </item>
</channel></rss>`

const recS3 = `{
  "id": "11111111-2222-3333-4444-555555555555",
  "service_name": "s3",
  "scenario": "S3 bucket does not have default encryption enabled",
  "risk_detail": "security",
  "recommendation_description_detailed": "Enable SSE-S3 or SSE-KMS on every bucket."
}`

const recEC2 = `{
  "id": "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
  "service_name": "ec2",
  "scenario": "EC2 instance is idle and oversized for its workload",
  "risk_detail": "cost",
  "recommendation_description_detailed": "Downsize or stop instances below utilization targets."
}`

type harness struct {
	reg     *registry.Registry
	store   *state.Store
	kbStore *kb.Store
	staging *stage.Store
	schema  *core.Schema
}

func newHarness(t *testing.T, feedURL string) *harness {
	t.Helper()

	regDoc := fmt.Sprintf(`
version: "1"
sources:
  - {id: blog, name: Cloud Blog, type: feed, url: %q, categories: [security, cost], enabled: true}
`, feedURL)
	reg, err := registry.Parse([]byte(regDoc))
	require.NoError(t, err)

	store, err := state.Load(filepath.Join(t.TempDir(), "state.json"), nil)
	require.NoError(t, err)

	kbStore := kb.NewStore(t.TempDir(), nil)
	staging := stage.NewStore(t.TempDir(), kbStore, nil)

	schema, err := core.ParseSchema([]byte(testSchemaText))
	require.NoError(t, err)

	return &harness{reg: reg, store: store, kbStore: kbStore, staging: staging, schema: schema}
}

func (h *harness) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(h.reg, h.store, h.kbStore, h.staging, h.schema, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunStagesItems(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	gen := mock.NewMockGenerator(recS3, recEC2)
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithWorkers(1),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.SourcesAttempted)
	assert.Equal(t, 1, metrics.SourcesProcessed)
	assert.Equal(t, 2, metrics.ItemsFetched)
	assert.Equal(t, 2, metrics.Converted)
	assert.Equal(t, 2, metrics.Validated)
	assert.Equal(t, 2, metrics.Staged)
	assert.Empty(t, metrics.Errors)
	assert.Equal(t, 2, h.staging.Count())
	assert.Len(t, h.store.Runs(), 1)
}

func TestRunSecondPassFiltersSeen(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	gen := mock.NewMockGenerator(recS3, recEC2)
	p := h.pipeline(t, WithConverter(convert.NewConverter(gen, testSchemaText)))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.FilteredSeen)
	assert.Equal(t, 0, metrics.Staged)
	assert.Equal(t, 2, gen.CallCount(), "seen items must not reach the backend")
}

func TestRunDryRun(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	gen := mock.NewMockGenerator(recS3, recEC2)
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithDryRun(true),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.ItemsFetched)
	assert.Equal(t, 0, metrics.Staged)
	assert.Equal(t, 0, gen.CallCount())
	assert.Equal(t, 0, h.staging.Count())
	assert.Empty(t, h.store.Runs(), "dry runs are not recorded")
	assert.Equal(t, 0, h.store.SeenCount("blog"), "dry runs do not mark items seen")
}

func TestRunWithoutConverterSkipsConversion(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	p := h.pipeline(t)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.ItemsFetched)
	assert.Equal(t, 0, metrics.Converted)
	assert.Equal(t, 0, metrics.Staged)
	assert.Equal(t, 2, h.store.SeenCount("blog"))
}

func TestRunDedupFiltersNearDuplicate(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	// An existing entry whose comparison text mirrors the first feed item.
	_, err := h.kbStore.Append(core.Recommendation{
		ID:          "99999999-8888-7777-6666-555555555555",
		ServiceName: "s3",
		Scenario:    "Enforce S3 bucket encryption",
		Description: "Buckets created without default server-side encryption leave objects stored in plaintext and fail most compliance baselines.",
	})
	require.NoError(t, err)

	gen := mock.NewMockGenerator(recEC2)
	p := h.pipeline(t, WithConverter(convert.NewConverter(gen, testSchemaText)))

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.FilteredDuplicate)
	assert.Equal(t, 1, metrics.Staged)
}

func TestRunFetchErrorRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	h := newHarness(t, srv.URL)

	p := h.pipeline(t)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, metrics.SourcesProcessed)
	require.Len(t, metrics.Errors, 1)
	assert.Contains(t, metrics.Errors[0], "fetch error (blog)")
	assert.Equal(t, 1, h.store.Snapshot()["blog"].ConsecutiveErrors)
}

func TestRunNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(srv.Close)
	h := newHarness(t, srv.URL)

	p := h.pipeline(t)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.SourcesProcessed)
	assert.Equal(t, 0, metrics.ItemsFetched)
}

func TestRunConversionFailureCountedNotSurfaced(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	// Every response is malformed, so conversion exhausts its retries. The
	// item is dropped and counted; the run itself still succeeds.
	gen := mock.NewMockGenerator("this is not json at all")
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithMaxItems(1),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.ConvertFailed)
	assert.Empty(t, metrics.Errors)
	assert.Equal(t, 0, metrics.Staged)
	assert.Equal(t, 1, metrics.SourcesProcessed)
}

func TestRunValidationRetry(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	// Missing service_name fails validation; the retry response passes.
	invalid := `{"id": "11111111-2222-3333-4444-555555555555", "scenario": "x", "risk_detail": "security"}`
	gen := mock.NewMockGenerator(invalid, recS3, recEC2, recEC2)
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithMaxItems(1),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.ValidationFailed)
	assert.Equal(t, 1, metrics.Validated)
	assert.Equal(t, 1, metrics.Staged)
	assert.Equal(t, 2, gen.CallCount())

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "validation errors")
}

func TestRunAutoPromote(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	gen := mock.NewMockGenerator(recS3, recEC2)
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithAutoPromote(0.3),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.Staged)
	assert.Equal(t, 2, metrics.AutoPromoted)
	assert.Equal(t, 0, h.staging.Count())

	entries, err := h.kbStore.LoadAll()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunMaxItems(t *testing.T) {
	srv := feedServer(t)
	h := newHarness(t, srv.URL)

	gen := mock.NewMockGenerator(recS3)
	p := h.pipeline(t,
		WithConverter(convert.NewConverter(gen, testSchemaText)),
		WithMaxItems(1),
	)

	metrics, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.ItemsFetched)
	assert.Equal(t, 1, metrics.Converted)
	assert.Equal(t, 1, metrics.Staged)
}

func TestNewRequiresStores(t *testing.T) {
	h := newHarness(t, "http://unused.example")

	_, err := New(nil, h.store, h.kbStore, h.staging, h.schema)
	assert.ErrorIs(t, err, ErrRegistryRequired)

	_, err = New(h.reg, nil, h.kbStore, h.staging, h.schema)
	assert.ErrorIs(t, err, ErrStateRequired)

	_, err = New(h.reg, h.store, nil, h.staging, h.schema)
	assert.ErrorIs(t, err, ErrKnowledgeBaseRequired)

	_, err = New(h.reg, h.store, h.kbStore, nil, h.schema)
	assert.ErrorIs(t, err, ErrStagingRequired)

	_, err = New(h.reg, h.store, h.kbStore, h.staging, nil)
	assert.ErrorIs(t, err, ErrSchemaRequired)
}
