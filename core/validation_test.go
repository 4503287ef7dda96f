package core

import (
	"strings"
	"testing"
)

const testSchemaJSON = `{
  "required": ["id", "service_name", "scenario", "risk_detail", "build_priority", "recommendation_description_detailed"],
  "properties": {
    "id": {"type": "string"},
    "service_name": {"type": "string"},
    "scenario": {"type": "string"},
    "alert_criteria": {"type": ["string", "null"]},
    "recommendation_action": {"type": ["string", "null"]},
    "risk_detail": {"type": "string", "pattern": "^(cost|security|operations|performance|reliability)(, (cost|security|operations|performance|reliability))*$"},
    "build_priority": {"type": ["integer", "null"], "minimum": 0, "maximum": 3},
    "action_value": {"type": ["integer", "null"], "minimum": 1, "maximum": 3},
    "effort_level": {"type": ["integer", "null"], "minimum": 1, "maximum": 3},
    "risk_value": {"type": ["integer", "null"], "minimum": 1, "maximum": 3},
    "recommendation_description_detailed": {"type": "string"},
    "category": {"type": ["string", "null"], "enum": ["compute", "storage", "network", "database", "identity", "monitoring", "other"]},
    "references": {"type": "array"},
    "tags": {"type": "array"},
    "metadata": {"type": "object"}
  }
}`

func testSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := ParseSchema([]byte(testSchemaJSON))
	if err != nil {
		t.Fatalf("ParseSchema() error = %v", err)
	}
	return schema
}

func intPtr(v int) *int { return &v }

func validRecommendation() *Recommendation {
	return &Recommendation{
		ID:                   "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
		ServiceName:          "s3",
		Scenario:             "S3 bucket does not have server-side encryption enabled",
		AlertCriteria:        "S3 bucket default encryption is not configured",
		RecommendationAction: "Enable default encryption using SSE-S3 or SSE-KMS",
		RiskDetail:           "security",
		BuildPriority:        intPtr(0),
		ActionValue:          intPtr(3),
		EffortLevel:          intPtr(1),
		RiskValue:            intPtr(3),
		Description:          "Buckets should have default encryption enabled to protect data at rest.",
		Category:             "storage",
		References:           []string{},
		Tags:                 []string{"encryption", "s3"},
	}
}

func TestValidateRecommendationValid(t *testing.T) {
	ok, errs := ValidateRecommendation(validRecommendation(), testSchema(t))
	if !ok {
		t.Fatalf("ValidateRecommendation() errors = %v, want none", errs)
	}
}

func TestValidateRecommendationBuildPriorityBounds(t *testing.T) {
	tests := []struct {
		name     string
		priority int
		wantOK   bool
		wantMsg  string
	}{
		{name: "lower boundary passes", priority: 0, wantOK: true},
		{name: "upper boundary passes", priority: 3, wantOK: true},
		{name: "below minimum", priority: -1, wantOK: false, wantMsg: "is below minimum"},
		{name: "above maximum", priority: 4, wantOK: false, wantMsg: "exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecommendation()
			rec.BuildPriority = intPtr(tt.priority)

			ok, errs := ValidateRecommendation(rec, testSchema(t))
			if ok != tt.wantOK {
				t.Fatalf("ValidateRecommendation() ok = %v, errors = %v", ok, errs)
			}
			if tt.wantMsg != "" && !containsSubstring(errs, tt.wantMsg) {
				t.Errorf("ValidateRecommendation() errors = %v, want one containing %q", errs, tt.wantMsg)
			}
		})
	}
}

func TestValidateRecommendationUUID(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		wantOK bool
	}{
		{name: "lowercase canonical passes", id: "a1b2c3d4-e5f6-7890-abcd-ef1234567890", wantOK: true},
		{name: "uppercase fails", id: "A1B2C3D4-E5F6-7890-ABCD-EF1234567890", wantOK: false},
		{name: "malformed fails", id: "not-a-uuid", wantOK: false},
		{name: "missing hyphens fail", id: "a1b2c3d4e5f678900abcdef1234567890000", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecommendation()
			rec.ID = tt.id

			ok, errs := ValidateRecommendation(rec, testSchema(t))
			if ok != tt.wantOK {
				t.Fatalf("ValidateRecommendation() ok = %v, errors = %v", ok, errs)
			}
			if !tt.wantOK && !containsSubstring(errs, "UUID") {
				t.Errorf("ValidateRecommendation() errors = %v, want one containing %q", errs, "UUID")
			}
		})
	}
}

func TestValidateRecommendationRequiredFields(t *testing.T) {
	rec := validRecommendation()
	rec.Scenario = ""

	ok, errs := ValidateRecommendation(rec, testSchema(t))
	if ok {
		t.Fatal("ValidateRecommendation() ok = true for missing scenario")
	}
	if !containsSubstring(errs, "Missing required field: scenario") {
		t.Errorf("ValidateRecommendation() errors = %v, want missing-field message", errs)
	}
}

func TestValidateRecommendationEnum(t *testing.T) {
	rec := validRecommendation()
	rec.Category = "spaceships"

	ok, errs := ValidateRecommendation(rec, testSchema(t))
	if ok {
		t.Fatal("ValidateRecommendation() ok = true for invalid enum value")
	}
	if !containsSubstring(errs, "invalid value 'spaceships'") {
		t.Errorf("ValidateRecommendation() errors = %v, want enum message", errs)
	}
}

func TestValidateRecommendationRiskDetailPattern(t *testing.T) {
	tests := []struct {
		name   string
		risk   string
		wantOK bool
	}{
		{name: "single category", risk: "security", wantOK: true},
		{name: "multiple categories", risk: "cost, security", wantOK: true},
		{name: "unknown category", risk: "vibes", wantOK: false},
		{name: "wrong separator", risk: "cost,security", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecommendation()
			rec.RiskDetail = tt.risk

			ok, errs := ValidateRecommendation(rec, testSchema(t))
			if ok != tt.wantOK {
				t.Errorf("ValidateRecommendation() ok = %v, errors = %v", ok, errs)
			}
		})
	}
}

func TestValidateRecommendationNullableUnion(t *testing.T) {
	// Nullable numeric fields may be absent entirely only if not required;
	// build_priority is required so nil must fail, alert_criteria may be
	// empty because it is optional.
	rec := validRecommendation()
	rec.BuildPriority = nil

	ok, errs := ValidateRecommendation(rec, testSchema(t))
	if ok {
		t.Fatalf("ValidateRecommendation() ok = true with nil build_priority, errors = %v", errs)
	}
}

func containsSubstring(errs []string, sub string) bool {
	for _, e := range errs {
		if strings.Contains(e, sub) {
			return true
		}
	}
	return false
}
