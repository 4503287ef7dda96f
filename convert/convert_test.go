package convert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cloudlint/harvest/ai/mock"
	"github.com/cloudlint/harvest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaText = `{"required": ["id", "service_name", "scenario"]}`

func testItem() core.RawItem {
	return core.RawItem{
		SourceID:   "aws-security-blog",
		SourceName: "AWS Security Blog",
		Title:      "Enforce S3 encryption",
		Body:       "Buckets without default encryption expose data at rest.",
		URL:        "https://example.com/post",
		Categories: []string{"security"},
	}
}

func noSleep(c *Converter) {
	c.sleep = func(ctx context.Context, d time.Duration) {}
	c.limiter.sleep = func(ctx context.Context, d time.Duration) {}
}

const validResponse = `{
  "id": "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
  "service_name": "s3",
  "scenario": "S3 bucket does not have server-side encryption enabled",
  "risk_detail": "security",
  "build_priority": 0,
  "recommendation_description_detailed": "Buckets should be encrypted."
}`

func TestConvertValidResponse(t *testing.T) {
	gen := mock.NewMockGenerator("```json\n" + validResponse + "\n```")
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "a1b2c3d4-e5f6-7890-abcd-ef1234567890", rec.ID)
	assert.Equal(t, "s3", rec.ServiceName)

	// Backfill fills what the model left out.
	assert.NotEmpty(t, rec.AlertCriteria)
	assert.NotEmpty(t, rec.RecommendationAction)
	require.NotNil(t, rec.EffortLevel)
	require.NotNil(t, rec.RiskValue)
	require.NotNil(t, rec.ActionValue)
	require.NotNil(t, rec.Metadata)
	assert.Equal(t, []string{"ingest-pipeline"}, rec.Metadata.Contributors)
	assert.Equal(t, "AWS Security Blog", rec.Metadata.Source)
	assert.NotNil(t, rec.References)
	assert.NotNil(t, rec.Tags)
}

func TestConvertSkip(t *testing.T) {
	gen := mock.NewMockGenerator(`{"skip": true, "reason": "Not an AWS misconfiguration recommendation"}`)
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, gen.CallCount())
}

func TestConvertRetriesInvalidJSON(t *testing.T) {
	gen := mock.NewMockGenerator("this is not json at all", validResponse)
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, gen.CallCount())

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "was not valid JSON")
	assert.Contains(t, prompts[1], "Enforce S3 encryption")
}

func TestConvertGivesUpAfterRetries(t *testing.T) {
	gen := mock.NewMockGenerator("broken", "still broken", "broken forever")
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, maxRetries, gen.CallCount())
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestConvertTransportErrorRetries(t *testing.T) {
	calls := 0
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, system, user string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return validResponse, nil
	}
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, calls)
}

func TestConvertRepairsUnquotedKeys(t *testing.T) {
	broken := `{"id": "a1b2c3d4-e5f6-7890-abcd-ef1234567890", service_name": "s3", "scenario": "x"}`
	gen := mock.NewMockGenerator(broken)
	c := NewConverter(gen, testSchemaText)
	noSleep(c)

	rec, err := c.Convert(context.Background(), testItem())
	require.NoError(t, err)
	assert.Equal(t, "s3", rec.ServiceName)
}

func TestBackfillDerivations(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		scenario   string
		risk       string
		wantAlert  string
		wantEffort int
		wantRisk   int
		wantValue  int
	}{
		{
			name: "idle resource", scenario: "EBS volume is unattached", risk: "cost",
			wantAlert:  "Resource has been idle or unused for an extended period",
			wantEffort: 2, wantRisk: 1, wantValue: 3,
		},
		{
			name: "security encryption", scenario: "Bucket is not encrypted", risk: "security",
			wantAlert:  "Resource is not encrypted or uses outdated encryption",
			wantEffort: 2, wantRisk: 3, wantValue: 3,
		},
		{
			name: "low effort verb", scenario: "Enable access logging", risk: "security",
			wantAlert:  "Logging or auditing is not enabled for this resource",
			wantEffort: 1, wantRisk: 3, wantValue: 3,
		},
		{
			name: "high effort", scenario: "Architecture requires redesign for multi-AZ", risk: "reliability",
			wantAlert:  "Reliability configuration does not meet best practices",
			wantEffort: 3, wantRisk: 3, wantValue: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &core.Recommendation{Scenario: tt.scenario, RiskDetail: tt.risk}
			Backfill(rec, "src", now)

			assert.Equal(t, tt.wantAlert, rec.AlertCriteria)
			assert.Equal(t, tt.wantEffort, *rec.EffortLevel)
			assert.Equal(t, tt.wantRisk, *rec.RiskValue)
			assert.Equal(t, tt.wantValue, *rec.ActionValue)
			assert.NotEmpty(t, rec.ID)
			assert.NotEmpty(t, rec.RecommendationAction)
		})
	}
}

func TestBackfillBuildPriorityOverride(t *testing.T) {
	p := 0
	rec := &core.Recommendation{Scenario: "x", RiskDetail: "cost", BuildPriority: &p}
	Backfill(rec, "src", time.Now())
	assert.Equal(t, 3, *rec.ActionValue)
	assert.Equal(t, 3, *rec.RiskValue)

	p2 := 2
	rec2 := &core.Recommendation{Scenario: "x", RiskDetail: "security", BuildPriority: &p2}
	Backfill(rec2, "src", time.Now())
	assert.Equal(t, 1, *rec2.ActionValue)
	assert.Equal(t, 1, *rec2.RiskValue)
}

func TestBackfillPreservesExisting(t *testing.T) {
	effort := 3
	rec := &core.Recommendation{
		ID:            "keep-me",
		Scenario:      "x",
		RiskDetail:    "security",
		AlertCriteria: "custom alert",
		EffortLevel:   &effort,
	}
	Backfill(rec, "src", time.Now())

	assert.Equal(t, "keep-me", rec.ID)
	assert.Equal(t, "custom alert", rec.AlertCriteria)
	assert.Equal(t, 3, *rec.EffortLevel)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var slept time.Duration

	r := NewRateLimiter()
	r.now = func() time.Time { return now }
	r.sleep = func(ctx context.Context, d time.Duration) {
		slept += d
		now = now.Add(d)
	}

	for i := 0; i < maxRequestsPerMinute; i++ {
		r.Wait(context.Background())
		now = now.Add(time.Second)
	}
	assert.Zero(t, slept, "first %d requests must not block", maxRequestsPerMinute)

	// The window is full; the next call waits until the oldest slot expires.
	r.Wait(context.Background())
	assert.Equal(t, 40*time.Second, slept)

	// Once enough time has passed, requests flow freely again.
	now = now.Add(2 * time.Minute)
	slept = 0
	r.Wait(context.Background())
	assert.Zero(t, slept)
}

func TestCapBodyRuneBoundary(t *testing.T) {
	short := "Enable default encryption on every bucket."
	assert.Equal(t, short, capBody(short))

	// 1400 three-byte runes = 4200 bytes; the 4000-byte cap lands inside a
	// rune and must back off to the previous boundary.
	long := strings.Repeat("€", 1400)
	capped := capBody(long)
	assert.Equal(t, 3999, len(capped))
	assert.True(t, utf8.ValidString(capped))
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(`{"a":1}`))
}
