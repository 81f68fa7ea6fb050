// Package risk implements the pure analysis engine that scores a rewritten
// section against its original text. Analysis is deterministic: the same
// input pair always produces the same findings.
package risk

import "encoding/json"

// Severity classifies how legally material a finding is.
type Severity string

// Severity levels, ordered from most to least material.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the ordering value for the severity; higher is more severe.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is as severe or more severe than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is a known severity level.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Finding is a single severity-tagged observation about a rewrite.
// Findings are immutable once created.
type Finding struct {
	Severity    Severity        `json:"severity"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Score       float64         `json:"score"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// MaxSeverity returns the most severe level present in findings,
// or SeverityInfo for an empty slice.
func MaxSeverity(findings []Finding) Severity {
	max := SeverityInfo
	for _, f := range findings {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}
