package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
)

// Status is the terminal state of one agent invocation. Exactly one of
// the three variants applies; consumers must switch over all of them and
// treat anything else as a classification bug.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Stage identifies where in an agent's lifecycle a failure occurred.
type Stage string

const (
	StageSetup   Stage = "setup"
	StageExecute Stage = "execute"
	StageParse   Stage = "parse"
	StageTimeout Stage = "timeout"
)

// Metrics records the resources one invocation consumed. Present on every
// result regardless of variant; failed and timed-out agents still debit
// their actual usage from the run budget.
type Metrics struct {
	DurationMs int64   `json:"durationMs"`
	Tokens     int     `json:"tokens,omitempty"`
	CostUSD    float64 `json:"costUsd,omitempty"`
	Files      int     `json:"files,omitempty"`
}

// Result is the outcome of running one agent once: a tagged union with
// Success, Failure, and Skipped variants. Created once per invocation
// (cache hit or live execution) and never mutated.
type Result struct {
	Status       Status            `json:"status"`
	Findings     []finding.Finding `json:"findings,omitempty"`
	Partial      []finding.Finding `json:"partial,omitempty"`
	Error        string            `json:"error,omitempty"`
	FailureStage Stage             `json:"failureStage,omitempty"`
	SkipReason   string            `json:"skipReason,omitempty"`
	Metrics      Metrics           `json:"metrics"`
}

// Success builds the success variant.
func Success(findings []finding.Finding, m Metrics) Result {
	return Result{Status: StatusSuccess, Findings: findings, Metrics: m}
}

// Failure builds the failure variant. partial carries any best-effort
// findings surfaced before the failure.
func Failure(stage Stage, err error, partial []finding.Finding, m Metrics) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Status:       StatusFailure,
		Error:        msg,
		FailureStage: stage,
		Partial:      partial,
		Metrics:      m,
	}
}

// Skip builds the skipped variant.
func Skip(reason string, m Metrics) Result {
	return Result{Status: StatusSkipped, SkipReason: reason, Metrics: m}
}

// Validate checks the variant invariants. The cache uses it as a read-side
// defense: a stored payload that fails validation behaves as a miss.
func (r Result) Validate() error {
	switch r.Status {
	case StatusSuccess:
		if r.Error != "" || r.FailureStage != "" || r.SkipReason != "" || len(r.Partial) > 0 {
			return fmt.Errorf("success result carries failure/skip fields")
		}
	case StatusFailure:
		if r.Error == "" || r.FailureStage == "" {
			return fmt.Errorf("failure result missing error or stage")
		}
		if len(r.Findings) > 0 {
			return fmt.Errorf("failure result carries complete findings")
		}
	case StatusSkipped:
		if r.SkipReason == "" {
			return fmt.Errorf("skipped result missing reason")
		}
		if len(r.Findings) > 0 || len(r.Partial) > 0 {
			return fmt.Errorf("skipped result carries findings")
		}
	default:
		return fmt.Errorf("unknown result status %q", r.Status)
	}
	return nil
}

// PartialSink collects findings an agent surfaces incrementally, so that
// best-effort output survives a preemptive deadline cancellation. Safe for
// concurrent use; the orchestrator drains it when an agent times out.
type PartialSink struct {
	mu       sync.Mutex
	findings []finding.Finding
}

// Report records one incremental finding.
func (s *PartialSink) Report(f finding.Finding) {
	s.mu.Lock()
	s.findings = append(s.findings, f)
	s.mu.Unlock()
}

// Drain returns and clears the collected findings.
func (s *PartialSink) Drain() []finding.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.findings
	s.findings = nil
	return out
}

// RunContext bundles everything an agent may consult during a run. It
// deliberately excludes provider-posting credentials: agents analyze,
// the reporting boundary posts.
type RunContext struct {
	Diff    *diffmap.Diff
	RawDiff string
	// Files are the changed files the invoked agent supports, filtered by
	// the orchestrator through the agent's Supports method.
	Files    []diffmap.File
	RepoPath string
	Provider string
	Model    string
	// Env is the filtered environment exposed to agents.
	Env map[string]string
	// Partials receives incremental findings that should survive a
	// deadline cancellation.
	Partials *PartialSink
}

// Agent is one pluggable analysis worker.
//
// Run must honor ctx cancellation as its cooperative deadline; CPU-bound
// adapters that cannot self-interrupt must do their work in a separately
// killable unit (the subprocess adapter relies on exec.CommandContext).
// Run reports failures through the Result variant, never by panicking.
type Agent interface {
	ID() string
	// Supports pre-filters applicable files; it never gates pass
	// execution.
	Supports(f diffmap.File) bool
	Run(ctx context.Context, rc RunContext) Result
}

// ElapsedMs converts a start time into the Metrics duration field.
func ElapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
