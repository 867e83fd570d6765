// Package finding defines the canonical finding model shared by agent
// adapters, the pipeline, and the deduplicator.
//
// File paths are always repository-relative and normalized; line numbers,
// when present, refer to the new version of the file. Line zero means a
// file-level finding.
package finding

// Severity is the severity level of a finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// MeetsThreshold returns true if severity is at or above the threshold.
func MeetsThreshold(s Severity, threshold string) bool {
	if threshold == "none" || threshold == "" {
		return false
	}
	return SeverityRank(s) >= SeverityRank(Severity(threshold))
}

// Provenance records whether a finding came from a fully successful agent
// run or from a failed run's best-effort output.
type Provenance string

const (
	ProvenanceComplete Provenance = "complete"
	ProvenancePartial  Provenance = "partial"
)

// Finding is one reported issue. Immutable after creation except for line
// remapping and fingerprint assignment performed by the deduplicator.
type Finding struct {
	Severity    Severity          `json:"severity"`
	File        string            `json:"file"`
	Line        int               `json:"line,omitempty"`
	EndLine     int               `json:"endLine,omitempty"`
	Message     string            `json:"message"`
	Suggestion  string            `json:"suggestion,omitempty"`
	RuleID      string            `json:"ruleId,omitempty"`
	Agent       string            `json:"agent"`
	Agents      []string          `json:"agents,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Provenance  Provenance        `json:"provenance"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// SeverityCounts holds counts by severity level.
type SeverityCounts struct {
	Info    int `json:"info"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

// Summary provides an overview of a finding collection.
type Summary struct {
	Counts          SeverityCounts `json:"counts"`
	HighestSeverity Severity       `json:"highestSeverity,omitempty"`
}

// Summarize calculates the summary for a finding collection.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case SeverityInfo:
			s.Counts.Info++
		case SeverityWarning:
			s.Counts.Warning++
		case SeverityError:
			s.Counts.Error++
		}
		if SeverityRank(f.Severity) > SeverityRank(s.HighestSeverity) {
			s.HighestSeverity = f.Severity
		}
	}
	return s
}
