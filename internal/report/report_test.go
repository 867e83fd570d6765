package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/armada/internal/budget"
	"github.com/dshills/armada/internal/finding"
)

func sampleReport() *Report {
	complete := []finding.Finding{
		{Severity: finding.SeverityError, File: "main.go", Line: 10, Message: "nil dereference", Agent: "semgrep", Agents: []string{"llm-review", "semgrep"}, Provenance: finding.ProvenanceComplete},
		{Severity: finding.SeverityWarning, File: "util.go", Message: "file-level note", Agent: "llm-review", Agents: []string{"llm-review"}, Provenance: finding.ProvenanceComplete},
	}
	return &Report{
		Tool:    Tool,
		Version: Version,
		RunID:   "run-1",
		Repo:    RepoInfo{Root: "/repo", Branch: "feature"},
		PR:      PRInfo{Number: 42, Base: "abcdef1234567890", Head: "fedcba0987654321"},
		Summary: finding.Summarize(complete),
		Complete: complete,
		Partial: []finding.Finding{
			{Severity: finding.SeverityInfo, File: "a.go", Line: 1, Message: "best effort", Agent: "slow-agent", Provenance: finding.ProvenancePartial},
		},
		Skipped: []SkippedAgent{{Pass: "review", Agent: "llm-review", Reason: "budget exhausted"}},
		Gate:    GateResult{Enabled: true, FailOn: "error", Failed: true, Reasons: []string{"1 finding(s) at or above error severity"}},
		Usage:   budget.Usage{Tokens: 1200, CostUSD: 0.034},
		Timing:  Timing{GitMs: 20, PipelineMs: 900, TotalMs: 950},
	}
}

func TestEvaluateGate(t *testing.T) {
	errFinding := finding.Finding{Severity: finding.SeverityError}
	warnFinding := finding.Finding{Severity: finding.SeverityWarning}

	t.Run("disabled gate never fails", func(t *testing.T) {
		g := EvaluateGate(false, "error", []finding.Finding{errFinding}, []string{"static"})
		assert.False(t, g.Failed)
	})

	t.Run("threshold blocks at or above", func(t *testing.T) {
		g := EvaluateGate(true, "warning", []finding.Finding{warnFinding}, nil)
		assert.True(t, g.Failed)
		require.Len(t, g.Reasons, 1)
	})

	t.Run("below threshold passes", func(t *testing.T) {
		g := EvaluateGate(true, "error", []finding.Finding{warnFinding}, nil)
		assert.False(t, g.Failed)
	})

	t.Run("failed required pass fails regardless of findings", func(t *testing.T) {
		g := EvaluateGate(true, "error", nil, []string{"static"})
		assert.True(t, g.Failed)
		assert.Contains(t, g.Reasons[0], "static")
	})

	t.Run("threshold none never blocks on findings", func(t *testing.T) {
		g := EvaluateGate(true, "none", []finding.Finding{errFinding}, nil)
		assert.False(t, g.Failed)
	})
}

func TestJSONWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONWriter{}).Write(&buf, sampleReport()))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "armada", decoded.Tool)
	assert.Equal(t, 42, decoded.PR.Number)
	assert.Len(t, decoded.Complete, 2)
	assert.Len(t, decoded.Partial, 1)
	assert.True(t, decoded.Gate.Failed)
}

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextWriter{}).Write(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "PR #42")
	assert.Contains(t, out, "main.go:10")
	assert.Contains(t, out, "nil dereference")
	assert.Contains(t, out, "llm-review, semgrep")
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "budget exhausted")
	assert.Contains(t, out, "Gate: FAILED")
}

func TestTextWriter_Clean(t *testing.T) {
	r := &Report{Tool: Tool, Version: Version, RunID: "r", Summary: finding.Summary{}, Gate: GateResult{Enabled: true}}
	var buf bytes.Buffer
	require.NoError(t, (&TextWriter{}).Write(&buf, r))
	assert.Contains(t, buf.String(), "No issues found")
	assert.Contains(t, buf.String(), "Gate: passed")
}

func TestMarkdownWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownWriter{}).Write(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "## Armada Review")
	assert.Contains(t, out, "| error | `main.go:10` |")
	assert.Contains(t, out, "Partial findings")
	assert.Contains(t, out, "**Gate: failed**")
}

func TestMarkdownWriter_EscapesPipes(t *testing.T) {
	r := sampleReport()
	r.Complete[0].Message = "don't use a | in messages"
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownWriter{}).Write(&buf, r))
	assert.Contains(t, buf.String(), `\|`)
}

func TestFatalReportIsParseable(t *testing.T) {
	r := FatalReport("run-x", fmt.Errorf("git diff failed"))
	var buf bytes.Buffer
	require.NoError(t, (&JSONWriter{}).Write(&buf, r))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "git diff failed", decoded.Error)
	assert.NotNil(t, decoded.Complete, "complete is always present, even empty")
}

func TestGetWriter(t *testing.T) {
	for _, format := range []string{"json", "text", "markdown", "md"} {
		w, err := GetWriter(format)
		require.NoError(t, err, format)
		assert.NotNil(t, w)
	}
	_, err := GetWriter("sarif-ng")
	assert.Error(t, err)
}
