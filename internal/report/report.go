package report

import (
	"fmt"
	"io"
	"os"

	"github.com/dshills/armada/internal/budget"
	"github.com/dshills/armada/internal/finding"
)

// Tool and Version identify the producer in every report.
const (
	Tool    = "armada"
	Version = "1.0"
)

// RepoInfo describes the analyzed repository.
type RepoInfo struct {
	Root   string `json:"root,omitempty"`
	Head   string `json:"head,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// PRInfo describes the analyzed pull request.
type PRInfo struct {
	Number int    `json:"number,omitempty"`
	Base   string `json:"base,omitempty"`
	Head   string `json:"head,omitempty"`
}

// SkippedAgent records one agent that was skipped and why.
type SkippedAgent struct {
	Pass   string `json:"pass"`
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// Timing breaks down where the wall clock went.
type Timing struct {
	GitMs      int64 `json:"gitMs"`
	PipelineMs int64 `json:"pipelineMs"`
	TotalMs    int64 `json:"totalMs"`
}

// GateResult is the merge-gate decision derived from the run.
type GateResult struct {
	Enabled bool   `json:"enabled"`
	FailOn  string `json:"failOn,omitempty"`
	Failed  bool   `json:"failed"`
	// Reasons explains a failed gate in human-readable terms.
	Reasons []string `json:"reasons,omitempty"`
}

// Report is the stable run summary. Every run produces one, including
// runs that end in a fatal error, so CI can always parse the outcome.
type Report struct {
	Tool    string   `json:"tool"`
	Version string   `json:"version"`
	RunID   string   `json:"runId"`
	Repo    RepoInfo `json:"repo"`
	PR      PRInfo   `json:"pr"`

	Summary  finding.Summary   `json:"summary"`
	Complete []finding.Finding `json:"complete"`
	Partial  []finding.Finding `json:"partial,omitempty"`
	Skipped  []SkippedAgent    `json:"skipped,omitempty"`
	// NotAnalyzed lists files excluded by the changed-line ceiling.
	NotAnalyzed       []string `json:"notAnalyzed,omitempty"`
	TruncatedComplete int      `json:"truncatedComplete,omitempty"`
	TruncatedPartial  int      `json:"truncatedPartial,omitempty"`

	Gate   GateResult   `json:"gate"`
	Usage  budget.Usage `json:"usage"`
	Timing Timing       `json:"timing"`

	// Error carries the fatal error for runs that never reached the
	// pipeline; findings are empty in that case.
	Error string `json:"error,omitempty"`
}

// EvaluateGate computes the merge-gate decision. Only complete findings
// count against the severity threshold; partial findings annotate but
// never block. A required pass with no successful agent always fails
// the gate.
func EvaluateGate(enabled bool, failOn string, complete []finding.Finding, failedRequired []string) GateResult {
	g := GateResult{Enabled: enabled, FailOn: failOn}
	if !enabled {
		return g
	}
	for _, pass := range failedRequired {
		g.Failed = true
		g.Reasons = append(g.Reasons, fmt.Sprintf("required pass %q had no successful agent", pass))
	}
	blocking := 0
	for _, f := range complete {
		if finding.MeetsThreshold(f.Severity, failOn) {
			blocking++
		}
	}
	if blocking > 0 {
		g.Failed = true
		g.Reasons = append(g.Reasons, fmt.Sprintf("%d finding(s) at or above %s severity", blocking, failOn))
	}
	return g
}

// FatalReport builds the minimal parseable report for a run that failed
// before producing results.
func FatalReport(runID string, err error) *Report {
	return &Report{
		Tool:     Tool,
		Version:  Version,
		RunID:    runID,
		Complete: []finding.Finding{},
		Error:    err.Error(),
	}
}

// Writer writes a report in a specific format.
type Writer interface {
	Write(w io.Writer, report *Report) error
}

// GetWriter returns a writer for the specified format.
func GetWriter(format string) (Writer, error) {
	switch format {
	case "text":
		return &TextWriter{}, nil
	case "json":
		return &JSONWriter{}, nil
	case "markdown", "md":
		return &MarkdownWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes the report to the specified output (file path or stdout).
func WriteReport(report *Report, format, outPath string) error {
	writer, err := GetWriter(format)
	if err != nil {
		return err
	}

	var w io.Writer
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	} else {
		w = os.Stdout
	}

	return writer.Write(w, report)
}
