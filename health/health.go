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


// Package health inspects pipeline state and reports per-check findings so
// quiet degradation (dead feeds, stale sources, staging backlog) surfaces
// without reading logs.
package health

import (
	"fmt"
	"time"

	"github.com/cloudlint/harvest/registry"
	"github.com/cloudlint/harvest/state"
)

// Severity orders findings from informational to fatal.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

const (
	staleThresholdDays        = 7
	stagingOverflowLimit      = 100
	consecutiveEmptyThreshold = 3
	consecutiveErrorThreshold = 3
	minConversionRate         = 0.50
	maxValidationFailureRate  = 0.10
)

// Finding is the outcome of one check against one subject.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// StagedCounter reports the staging backlog size.
type StagedCounter interface {
	Count() int
}

// Monitor evaluates health checks over pipeline state.
type Monitor struct {
	store   *state.Store
	reg     *registry.Registry
	staging StagedCounter

	now func() time.Time
}

// NewMonitor creates a monitor over the given stores.
func NewMonitor(store *state.Store, reg *registry.Registry, staging StagedCounter) *Monitor {
	return &Monitor{store: store, reg: reg, staging: staging, now: time.Now}
}

// CheckNames lists the selectable check groups.
var CheckNames = []string{"sources", "errors", "stale", "staging", "state", "quality"}

// Run evaluates the named checks, or all of them when names is empty.
func (m *Monitor) Run(names []string) []Finding {
	if len(names) == 0 {
		names = CheckNames
	}

	var findings []Finding
	for _, name := range names {
		switch name {
		case "sources":
			findings = append(findings, m.checkSourceYields()...)
		case "errors":
			findings = append(findings, m.checkFetchErrors()...)
		case "stale":
			findings = append(findings, m.checkStaleSources()...)
		case "staging":
			findings = append(findings, m.checkStagingOverflow()...)
		case "state":
			findings = append(findings, m.checkStateCorruption()...)
		case "quality":
			findings = append(findings, m.checkRunQuality()...)
		}
	}
	return findings
}

// Healthy reports whether no finding is worse than a warning.
func Healthy(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError || f.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

func (m *Monitor) checkSourceYields() []Finding {
	var out []Finding
	for id, src := range m.store.Snapshot() {
		if src.ConsecutiveEmpty >= consecutiveEmptyThreshold {
			out = append(out, Finding{
				Check:    "source_yields_zero",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Source '%s' has returned 0 items for %d consecutive runs", id, src.ConsecutiveEmpty),
			})
		} else {
			out = append(out, Finding{
				Check:    "source_yields_zero",
				Severity: SeverityOK,
				Message:  fmt.Sprintf("Source '%s': consecutive empty = %d", id, src.ConsecutiveEmpty),
			})
		}
	}
	return out
}

func (m *Monitor) checkFetchErrors() []Finding {
	var out []Finding
	for id, src := range m.store.Snapshot() {
		if src.ConsecutiveErrors >= consecutiveErrorThreshold {
			out = append(out, Finding{
				Check:    "http_errors",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Source '%s' has had %d consecutive fetch errors", id, src.ConsecutiveErrors),
			})
		} else {
			out = append(out, Finding{
				Check:    "http_errors",
				Severity: SeverityOK,
				Message:  fmt.Sprintf("Source '%s': consecutive errors = %d", id, src.ConsecutiveErrors),
			})
		}
	}
	return out
}

func (m *Monitor) checkStaleSources() []Finding {
	var out []Finding
	now := m.now().UTC()
	threshold := now.AddDate(0, 0, -staleThresholdDays)
	snapshot := m.store.Snapshot()

	for _, src := range m.reg.Filter("", nil) {
		st, ok := snapshot[src.ID]
		switch {
		case !ok || st.LastFetchedAt == nil:
			out = append(out, Finding{
				Check:    "stale_source",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Source '%s' has never been fetched", src.ID),
			})
		case st.LastFetchedAt.Before(threshold):
			days := int(now.Sub(*st.LastFetchedAt).Hours() / 24)
			out = append(out, Finding{
				Check:    "stale_source",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Source '%s' last fetched %d days ago", src.ID, days),
			})
		default:
			out = append(out, Finding{
				Check:    "stale_source",
				Severity: SeverityOK,
				Message:  fmt.Sprintf("Source '%s' fetched recently", src.ID),
			})
		}
	}
	return out
}

func (m *Monitor) checkStagingOverflow() []Finding {
	count := m.staging.Count()
	if count >= stagingOverflowLimit {
		return []Finding{{
			Check:    "staging_overflow",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Staging has %d unreviewed items (threshold: %d)", count, stagingOverflowLimit),
		}}
	}
	return []Finding{{
		Check:    "staging_overflow",
		Severity: SeverityOK,
		Message:  fmt.Sprintf("Staging has %d items", count),
	}}
}

func (m *Monitor) checkStateCorruption() []Finding {
	if m.store.WasCorrupt() {
		return []Finding{{
			Check:    "state_corruption",
			Severity: SeverityCritical,
			Message:  "State file was corrupt and has been reset; a backup was kept",
		}}
	}
	return []Finding{{
		Check:    "state_corruption",
		Severity: SeverityOK,
		Message:  "State file is valid",
	}}
}

func (m *Monitor) checkRunQuality() []Finding {
	runs := m.store.Runs()
	if len(runs) == 0 {
		return []Finding{{Check: "run_quality", Severity: SeverityOK, Message: "No runs recorded yet"}}
	}

	metrics := runs[len(runs)-1].Metrics
	var out []Finding

	totalConvert := metrics.Converted + metrics.ConvertFailed
	if totalConvert > 0 {
		rate := float64(metrics.Converted) / float64(totalConvert)
		if rate < minConversionRate {
			out = append(out, Finding{
				Check:    "low_conversion_rate",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Conversion rate was %.0f%% in last run (%d/%d)", rate*100, metrics.Converted, totalConvert),
			})
		}
	}

	totalVal := metrics.Validated + metrics.ValidationFailed
	if totalVal > 0 {
		rate := float64(metrics.ValidationFailed) / float64(totalVal)
		if rate > maxValidationFailureRate {
			out = append(out, Finding{
				Check:    "schema_failures",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Schema validation failure rate %.0f%% in last run", rate*100),
			})
		}
	}

	if len(out) == 0 {
		out = append(out, Finding{Check: "run_quality", Severity: SeverityOK, Message: "Last run quality is acceptable"})
	}
	return out
}
