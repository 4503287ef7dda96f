package core

import (
	"testing"
	"time"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("Enable S3 bucket encryption", "Buckets should use SSE.")
	b := Fingerprint("Enable S3 bucket encryption", "Buckets should use SSE.")
	if a != b {
		t.Errorf("Fingerprint() not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Fingerprint() length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprintNormalization(t *testing.T) {
	tests := []struct {
		name           string
		titleA, bodyA  string
		titleB, bodyB  string
		wantSame       bool
	}{
		{
			name:   "case insensitive",
			titleA: "Enable S3 Bucket Encryption", bodyA: "Buckets should use SSE.",
			titleB: "enable s3 bucket encryption", bodyB: "buckets should use sse.",
			wantSame: true,
		},
		{
			name:   "whitespace insensitive",
			titleA: "Enable  S3   bucket encryption", bodyA: "Buckets\nshould use\tSSE.",
			titleB: "Enable S3 bucket encryption", bodyB: "Buckets should use SSE.",
			wantSame: true,
		},
		{
			name:   "leading and trailing space",
			titleA: "  Enable encryption  ", bodyA: " body ",
			titleB: "Enable encryption", bodyB: "body",
			wantSame: true,
		},
		{
			name:   "different text differs",
			titleA: "Enable encryption", bodyA: "body",
			titleB: "Disable encryption", bodyB: "body",
			wantSame: false,
		},
		{
			name:   "title body boundary is preserved",
			titleA: "a b", bodyA: "c",
			titleB: "a", bodyB: "b c",
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Fingerprint(tt.titleA, tt.bodyA)
			b := Fingerprint(tt.titleB, tt.bodyB)
			if (a == b) != tt.wantSame {
				t.Errorf("Fingerprint() same = %v, want %v", a == b, tt.wantSame)
			}
		})
	}
}

func TestNewRawItem(t *testing.T) {
	src := Source{
		ID:         "aws-security-blog",
		Name:       "AWS Security Blog",
		Type:       SourceTypeFeed,
		Categories: []string{"security"},
	}
	published := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	item := NewRawItem(src, "Title", "Body text", "https://example.com/post", &published)

	if item.SourceID != "aws-security-blog" || item.SourceName != "AWS Security Blog" {
		t.Errorf("NewRawItem() source fields = %q/%q", item.SourceID, item.SourceName)
	}
	if item.Fingerprint != Fingerprint("Title", "Body text") {
		t.Error("NewRawItem() fingerprint does not match computed fingerprint")
	}
	if len(item.Categories) != 1 || item.Categories[0] != "security" {
		t.Errorf("NewRawItem() categories = %v", item.Categories)
	}

	// Categories are copied, not aliased.
	item.Categories[0] = "mutated"
	if src.Categories[0] != "security" {
		t.Error("NewRawItem() aliases source categories")
	}
}

func TestComparisonText(t *testing.T) {
	rec := &Recommendation{
		Scenario:             "S3 bucket does not have server-side encryption enabled",
		AlertCriteria:        "Default encryption is not configured",
		RecommendationAction: "",
		Description:          "Buckets should have default encryption enabled.",
	}
	got := rec.ComparisonText()
	want := "S3 bucket does not have server-side encryption enabled " +
		"Default encryption is not configured " +
		"Buckets should have default encryption enabled."
	if got != want {
		t.Errorf("ComparisonText() = %q, want %q", got, want)
	}
}
