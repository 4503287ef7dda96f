package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudlint/harvest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "state.json"), nil)
	require.NoError(t, err)
	return s
}

func TestLoadMissingFileDefaults(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.WasCorrupt())
	assert.Empty(t, s.Runs())
	assert.False(t, s.IsSeen("src", "abc"))
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s, err := Load(path, nil)
	require.NoError(t, err)
	s.MarkSeen("aws-security-blog", "fp1")
	s.UpdateAfterFetch("aws-security-blog", `"v1"`, "Mon, 02 Jun 2025 15:04:05 GMT", 3, nil)
	s.RecordRun(core.RunRecord{Timestamp: time.Now().UTC(), Metrics: core.PipelineMetrics{ItemsFetched: 3}})
	require.NoError(t, s.Save())

	reloaded, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, reloaded.IsSeen("aws-security-blog", "fp1"))
	assert.False(t, reloaded.IsSeen("aws-security-blog", "fp2"))

	etag, lastMod := reloaded.Conditional("aws-security-blog")
	assert.Equal(t, `"v1"`, etag)
	assert.Equal(t, "Mon, 02 Jun 2025 15:04:05 GMT", lastMod)

	runs := reloaded.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Metrics.ItemsFetched)
}

func TestLoadCorruptBacksUpAndContinues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, s.WasCorrupt())
	assert.False(t, s.IsSeen("src", "x"))

	matches, err := filepath.Glob(path + ".corrupt.*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	backup, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(backup))
}

func TestLoadMissingSourcesMapIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "1.0.0"}`), 0o644))

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, s.WasCorrupt())
}

func TestMarkSeenEvictsOldest(t *testing.T) {
	s := newStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < maxSeenPerSource+5; i++ {
		s.MarkSeen("src", fingerprintN(i))
	}

	assert.Equal(t, maxSeenPerSource, s.SeenCount("src"))
	// The five oldest fingerprints are gone, the newest survive.
	for i := 0; i < 5; i++ {
		assert.False(t, s.IsSeen("src", fingerprintN(i)), "fingerprint %d should be evicted", i)
	}
	assert.True(t, s.IsSeen("src", fingerprintN(maxSeenPerSource+4)))
}

func fingerprintN(i int) string {
	return core.Fingerprint("title", string(rune('a'+i%26))+"-"+time.Duration(i).String())
}

func TestUpdateAfterFetchCounters(t *testing.T) {
	s := newStore(t)

	s.UpdateAfterFetch("src", "", "", 0, nil)
	s.UpdateAfterFetch("src", "", "", 0, nil)
	snap := s.Snapshot()["src"]
	assert.Equal(t, 2, snap.ConsecutiveEmpty)
	assert.Equal(t, 0, snap.ConsecutiveErrors)

	s.UpdateAfterFetch("src", "", "", 5, nil)
	snap = s.Snapshot()["src"]
	assert.Equal(t, 0, snap.ConsecutiveEmpty)

	s.UpdateAfterFetch("src", "", "", 0, assert.AnError)
	s.UpdateAfterFetch("src", "", "", 0, assert.AnError)
	snap = s.Snapshot()["src"]
	assert.Equal(t, 2, snap.ConsecutiveErrors)
	assert.Equal(t, 0, snap.ConsecutiveEmpty)

	s.UpdateAfterFetch("src", "", "", 1, nil)
	snap = s.Snapshot()["src"]
	assert.Equal(t, 0, snap.ConsecutiveErrors)
}

func TestUpdateAfterFetchKeepsValidators(t *testing.T) {
	s := newStore(t)

	s.UpdateAfterFetch("src", `"v1"`, "yesterday", 1, nil)
	// A 304 response carries no new validators; the stored ones survive.
	s.UpdateAfterFetch("src", "", "", 0, nil)

	etag, lastMod := s.Conditional("src")
	assert.Equal(t, `"v1"`, etag)
	assert.Equal(t, "yesterday", lastMod)
}

func TestRecordRunCap(t *testing.T) {
	s := newStore(t)

	for i := 0; i < maxRuns+10; i++ {
		s.RecordRun(core.RunRecord{Metrics: core.PipelineMetrics{ItemsFetched: i}})
	}

	runs := s.Runs()
	require.Len(t, runs, maxRuns)
	assert.Equal(t, 10, runs[0].Metrics.ItemsFetched)
	assert.Equal(t, maxRuns+9, runs[len(runs)-1].Metrics.ItemsFetched)
}
