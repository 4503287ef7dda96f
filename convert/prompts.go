package convert

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudlint/harvest/core"
)

const maxPromptBodyLen = 4000

const systemPromptTemplate = `You are an expert AWS cloud architect. Convert the following source material into a structured AWS misconfiguration recommendation.

Output ONLY valid JSON matching this schema:
%s

IMPORTANT RULES:
1. "id" must be a new UUID v4
2. "service_name" must be a lowercase AWS service identifier (e.g., "ec2", "s3", "iam", "rds", "lambda")
3. "scenario" should describe the misconfiguration scenario concisely
4. "risk_detail" must match the pattern: one or more of (cost, security, operations, performance, reliability) separated by ", "
5. "build_priority" should be 0 (critical), 1 (high), 2 (medium), or 3 (low)
6. All text fields should be clear, professional, and actionable
7. If the source material is not about an AWS misconfiguration or best practice, output {"skip": true, "reason": "Not an AWS misconfiguration recommendation"}
8. If relevant, include "estimated_cost_impact" with an approximate cost range (e.g., "$10-50/month per resource")
9. If relevant, include "compliance_frameworks" as an array of framework identifiers (e.g., ["CIS", "SOC2", "HIPAA", "PCI-DSS"])
10. If relevant, include "aws_doc_url" with the canonical AWS documentation link

Example output:
{
  "id": "a1b2c3d4-e5f6-7890-abcd-ef1234567890",
  "service_name": "s3",
  "scenario": "S3 bucket does not have server-side encryption enabled",
  "alert_criteria": "S3 bucket default encryption is not configured",
  "recommendation_action": "Enable default encryption on the S3 bucket using SSE-S3 or SSE-KMS",
  "risk_detail": "security",
  "build_priority": 0,
  "action_value": 3,
  "effort_level": 1,
  "risk_value": 3,
  "recommendation_description_detailed": "S3 buckets should have default encryption enabled to protect data at rest. Without encryption, data stored in S3 is vulnerable to unauthorized access if bucket permissions are misconfigured.",
  "category": "storage",
  "references": ["https://docs.aws.amazon.com/AmazonS3/latest/userguide/bucket-encryption.html"],
  "metadata": {
    "created_at": "%[2]s",
    "updated_at": "%[2]s",
    "contributors": ["ingest-pipeline"],
    "source": "%[3]s"
  },
  "tags": ["encryption", "s3", "data-protection"],
  "estimated_cost_impact": "$0 - minimal cost for enabling encryption",
  "compliance_frameworks": ["CIS", "SOC2", "HIPAA", "PCI-DSS", "NIST-800-53"],
  "aws_doc_url": "https://docs.aws.amazon.com/AmazonS3/latest/userguide/bucket-encryption.html"
}`

// buildSystemPrompt renders the conversion instructions with the schema text
// and the item's source name.
func buildSystemPrompt(schemaText string, now time.Time, sourceName string) string {
	return fmt.Sprintf(systemPromptTemplate, schemaText, now.UTC().Format(time.RFC3339), sourceName)
}

// buildUserPrompt renders the source material, with the body capped.
func buildUserPrompt(item core.RawItem) string {
	return fmt.Sprintf("Source: %s\nTitle: %s\nURL: %s\nCategories: %s\n\nContent:\n%s",
		item.SourceName, item.Title, item.URL, strings.Join(item.Categories, ", "), capBody(item.Body))
}

// capBody caps the body at the prompt limit, backing off to the nearest rune
// boundary so a multi-byte character is never split.
func capBody(s string) string {
	if len(s) <= maxPromptBodyLen {
		return s
	}
	n := maxPromptBodyLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
