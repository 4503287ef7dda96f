package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// SourceType identifies which fetcher/parser pair handles a source.
type SourceType string

const (
	// SourceTypeFeed is an RSS/Atom feed source.
	SourceTypeFeed SourceType = "feed"
	// SourceTypePage is an HTML documentation page source.
	SourceTypePage SourceType = "page"
	// SourceTypeRepository is a rule-repository source.
	SourceTypeRepository SourceType = "repository"
)

// SourceTypes lists the supported source types.
var SourceTypes = []SourceType{SourceTypeFeed, SourceTypePage, SourceTypeRepository}

// Source is one entry of the source registry. Immutable for the duration
// of a run.
type Source struct {
	ID         string        `yaml:"id" json:"id"`
	Name       string        `yaml:"name" json:"name"`
	Type       SourceType    `yaml:"type" json:"type"`
	URL        string        `yaml:"url" json:"url"`
	Categories []string      `yaml:"categories" json:"categories"`
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Options    SourceOptions `yaml:"options" json:"options,omitempty"`
}

// SourceOptions holds type-specific fetch and parse settings. Zero values
// mean "use the fetcher's default".
type SourceOptions struct {
	MaxItems int `yaml:"max_items" json:"max_items,omitempty"`

	// Page sources.
	FollowLinks   bool   `yaml:"follow_links" json:"follow_links,omitempty"`
	LinkPattern   string `yaml:"link_pattern" json:"link_pattern,omitempty"`
	MaxPages      int    `yaml:"max_pages" json:"max_pages,omitempty"`
	ItemSelector  string `yaml:"item_selector" json:"item_selector,omitempty"`
	TitleSelector string `yaml:"title_selector" json:"title_selector,omitempty"`
	BodySelector  string `yaml:"body_selector" json:"body_selector,omitempty"`

	// Repository sources.
	Branch      string `yaml:"branch" json:"branch,omitempty"`
	PathPrefix  string `yaml:"path_prefix" json:"path_prefix,omitempty"`
	FilePattern string `yaml:"file_pattern" json:"file_pattern,omitempty"`
	MaxFiles    int    `yaml:"max_files" json:"max_files,omitempty"`
}

// RawItem is a candidate extracted from a source, before conversion into a
// Recommendation.
type RawItem struct {
	SourceID    string     `json:"source_id"`
	SourceName  string     `json:"source_name"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Categories  []string   `json:"categories,omitempty"`
	Fingerprint string     `json:"fingerprint"`
}

// NewRawItem builds a RawItem and computes its content fingerprint.
func NewRawItem(src Source, title, body, url string, publishedAt *time.Time) RawItem {
	return RawItem{
		SourceID:    src.ID,
		SourceName:  src.Name,
		Title:       title,
		Body:        body,
		URL:         url,
		PublishedAt: publishedAt,
		Categories:  append([]string(nil), src.Categories...),
		Fingerprint: Fingerprint(title, body),
	}
}

// Fingerprint generates a deterministic content hash from normalized title
// and body text using BLAKE2b. Identical normalized text always yields the
// same fingerprint, so it is safe to use for seen/unseen filtering.
func Fingerprint(title, body string) string {
	normalized := normalizeText(title) + "|" + normalizeText(body)
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeText lowercases and collapses all whitespace runs to single
// spaces, making the fingerprint case- and whitespace-insensitive.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Metadata carries provenance bookkeeping inside a Recommendation.
type Metadata struct {
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
	Contributors []string `json:"contributors,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// Recommendation is a structured record matching the knowledge-base schema.
// Numeric fields are pointers because the generative backend may leave them
// null; the backfill step fills them in before validation.
type Recommendation struct {
	ID                   string    `json:"id"`
	ServiceName          string    `json:"service_name"`
	Scenario             string    `json:"scenario"`
	AlertCriteria        string    `json:"alert_criteria,omitempty"`
	RecommendationAction string    `json:"recommendation_action,omitempty"`
	RiskDetail           string    `json:"risk_detail"`
	BuildPriority        *int      `json:"build_priority"`
	ActionValue          *int      `json:"action_value"`
	EffortLevel          *int      `json:"effort_level"`
	RiskValue            *int      `json:"risk_value"`
	Description          string    `json:"recommendation_description_detailed"`
	Category             string    `json:"category,omitempty"`
	References           []string  `json:"references"`
	Metadata             *Metadata `json:"metadata,omitempty"`
	Tags                 []string  `json:"tags"`
	EstimatedCostImpact  string    `json:"estimated_cost_impact,omitempty"`
	ComplianceFrameworks []string  `json:"compliance_frameworks,omitempty"`
	DocURL               string    `json:"aws_doc_url,omitempty"`
}

// ComparisonText returns the concatenated text used for similarity
// comparison against new candidates.
func (r *Recommendation) ComparisonText() string {
	parts := []string{r.Scenario, r.AlertCriteria, r.RecommendationAction, r.Description}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// Provenance records where a staged recommendation came from and how close
// it was to the existing corpus.
type Provenance struct {
	SourceID        string  `json:"source_id"`
	SourceURL       string  `json:"source_url"`
	DedupScore      float64 `json:"dedup_score"`
	ClosestExisting string  `json:"closest_existing"`
}

// StagedEntry is a Recommendation in the staging area awaiting a human
// promote/reject decision.
type StagedEntry struct {
	StagedAt        time.Time      `json:"staged_at"`
	StagedBy        string         `json:"staged_by"`
	SourceID        string         `json:"source_id"`
	SourceURL       string         `json:"source_url"`
	DedupScore      float64        `json:"dedup_score"`
	ClosestExisting string         `json:"closest_existing"`
	Recommendation  Recommendation `json:"recommendation"`
	RejectedAt      string         `json:"rejected_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// PipelineMetrics aggregates counters for a single run. It is embedded in a
// RunRecord and never persisted on its own.
type PipelineMetrics struct {
	SourcesProcessed  int      `json:"sources_processed"`
	SourcesAttempted  int      `json:"sources_attempted"`
	ItemsFetched      int      `json:"items_fetched"`
	FilteredSeen      int      `json:"items_filtered_seen"`
	FilteredDuplicate int      `json:"items_filtered_duplicate"`
	Converted         int      `json:"items_converted"`
	ConvertFailed     int      `json:"items_convert_failed"`
	ConvertSkipped    int      `json:"items_convert_skipped"`
	Validated         int      `json:"items_validated"`
	ValidationFailed  int      `json:"items_validation_failed"`
	Staged            int      `json:"items_staged"`
	AutoPromoted      int      `json:"items_auto_promoted"`
	ElapsedSeconds    float64  `json:"elapsed_seconds"`
	Errors            []string `json:"errors"`
}

// RunRecord is one entry of the append-only run history.
type RunRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	DryRun    bool            `json:"dry_run"`
	Metrics   PipelineMetrics `json:"metrics"`
}
