package convert

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudlint/harvest/core"
	"github.com/google/uuid"
)

// Backfill fills empty optional fields of a converted recommendation with
// values derived from what the generator did produce, so partial outputs
// still validate.
func Backfill(rec *core.Recommendation, sourceName string, now time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.AlertCriteria == "" {
		rec.AlertCriteria = deriveAlertCriteria(rec)
	}
	if rec.RecommendationAction == "" {
		rec.RecommendationAction = deriveRecommendationAction(rec)
	}

	if rec.EffortLevel == nil || rec.RiskValue == nil || rec.ActionValue == nil {
		effort, risk, value := deriveNumericValues(rec)
		if rec.EffortLevel == nil {
			rec.EffortLevel = &effort
		}
		if rec.RiskValue == nil {
			rec.RiskValue = &risk
		}
		if rec.ActionValue == nil {
			rec.ActionValue = &value
		}
	}

	ts := now.UTC().Format(time.RFC3339)
	if rec.Metadata == nil {
		rec.Metadata = &core.Metadata{}
	}
	if rec.Metadata.CreatedAt == "" {
		rec.Metadata.CreatedAt = ts
	}
	if rec.Metadata.UpdatedAt == "" {
		rec.Metadata.UpdatedAt = ts
	}
	if len(rec.Metadata.Contributors) == 0 {
		rec.Metadata.Contributors = []string{"ingest-pipeline"}
	}
	if rec.Metadata.Source == "" {
		rec.Metadata.Source = sourceName
	}

	if rec.References == nil {
		rec.References = []string{}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// deriveAlertCriteria infers an alert condition from the scenario wording
// and risk categories.
func deriveAlertCriteria(rec *core.Recommendation) string {
	scenario := strings.ToLower(rec.Scenario)
	risk := rec.RiskDetail

	if containsAny(scenario, "idle", "unused", "unattached", "orphan") {
		return "Resource has been idle or unused for an extended period"
	}
	if strings.Contains(risk, "security") {
		switch {
		case strings.Contains(scenario, "encrypt"):
			return "Resource is not encrypted or uses outdated encryption"
		case strings.Contains(scenario, "public"):
			return "Resource is publicly accessible when it should not be"
		case containsAny(scenario, "iam", "permission"):
			return "IAM policy grants excessive permissions or violates least privilege"
		case strings.Contains(scenario, "logging"):
			return "Logging or auditing is not enabled for this resource"
		}
		return "Security configuration does not meet best practices"
	}
	if strings.Contains(risk, "cost") {
		if containsAny(scenario, "rightsiz", "oversiz") {
			return "Resource is consistently underutilized (CPU/memory below 40%)"
		}
		return "Resource cost could be optimized"
	}
	if strings.Contains(risk, "performance") {
		return "Performance metrics indicate optimization opportunity"
	}
	if strings.Contains(risk, "reliability") {
		if strings.Contains(scenario, "backup") {
			return "Automated backups are not configured"
		}
		return "Reliability configuration does not meet best practices"
	}
	return fmt.Sprintf("Condition detected: %.100s", rec.Scenario)
}

// deriveRecommendationAction infers a remediation action from the scenario
// wording and risk categories.
func deriveRecommendationAction(rec *core.Recommendation) string {
	scenario := strings.ToLower(rec.Scenario)
	risk := rec.RiskDetail

	if containsAny(scenario, "idle", "unused", "unattached", "orphan") {
		return "Review resource usage and delete if no longer needed, or investigate why it's idle"
	}
	if strings.Contains(risk, "security") {
		switch {
		case strings.Contains(scenario, "encrypt"):
			return "Enable encryption using AWS KMS or service-managed keys"
		case strings.Contains(scenario, "public"):
			return "Restrict public access and implement proper access controls"
		}
		return "Review and update security configuration to meet best practices"
	}
	if strings.Contains(risk, "cost") {
		return "Review resource configuration for cost optimization opportunities"
	}
	if strings.Contains(risk, "performance") {
		return "Optimize resource configuration for improved performance"
	}
	if strings.Contains(risk, "reliability") {
		return "Implement redundancy and failover mechanisms"
	}
	return "Review and update configuration following AWS best practices"
}

// deriveNumericValues infers effort, risk and value scores from the risk
// categories, overridden by build priority when present.
func deriveNumericValues(rec *core.Recommendation) (effort, risk, value int) {
	effort, risk, value = 2, 2, 2
	scenario := strings.ToLower(rec.Scenario)

	switch {
	case strings.Contains(rec.RiskDetail, "security"):
		risk, value = 3, 3
	case strings.Contains(rec.RiskDetail, "cost"):
		risk, value = 1, 3
	case strings.Contains(rec.RiskDetail, "reliability"):
		risk, value = 3, 3
	case strings.Contains(rec.RiskDetail, "performance"):
		risk, value = 2, 2
	}

	if rec.BuildPriority != nil {
		switch {
		case *rec.BuildPriority == 0:
			value, risk = 3, 3
		case *rec.BuildPriority == 1:
			value, risk = 2, 2
		case *rec.BuildPriority >= 2:
			value, risk = 1, 1
		}
	}

	if containsAny(scenario, "migration", "refactor", "architecture", "redesign") {
		effort = 3
	} else if containsAny(scenario, "enable", "configure", "tag", "update", "delete", "remove", "disable") {
		effort = 1
	}

	return effort, risk, value
}
