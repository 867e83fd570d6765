package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
)

// SubprocessOptions configures an external scanner invocation.
type SubprocessOptions struct {
	// AgentID names the agent; defaults to the command basename.
	AgentID string
	// Command is the executable plus fixed arguments. Changed file paths
	// from the diff are appended.
	Command []string
	// OKExitCodes are exit codes that still mean "scan completed";
	// scanners conventionally exit non-zero when findings exist.
	OKExitCodes []int
}

// Subprocess runs an external scanner against the changed files and
// parses its semgrep-format JSON output. The process inherits only the
// filtered environment from the run context, and a context deadline
// kills it outright; external tools get no cooperative grace.
type Subprocess struct {
	opts SubprocessOptions
}

// NewSubprocess builds a subprocess-backed agent.
func NewSubprocess(opts SubprocessOptions) (*Subprocess, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("subprocess agent requires a command")
	}
	if opts.AgentID == "" {
		opts.AgentID = filepath.Base(opts.Command[0])
	}
	if len(opts.OKExitCodes) == 0 {
		opts.OKExitCodes = []int{0, 1}
	}
	return &Subprocess{opts: opts}, nil
}

// ID implements agent.Agent.
func (a *Subprocess) ID() string { return a.opts.AgentID }

// Supports implements agent.Agent.
func (a *Subprocess) Supports(f diffmap.File) bool {
	return f.Status != diffmap.StatusDeleted && !f.Unparseable
}

// Run implements agent.Agent.
func (a *Subprocess) Run(ctx context.Context, rc agent.RunContext) agent.Result {
	start := time.Now()

	files := rc.Files
	if files == nil && rc.Diff != nil {
		for _, f := range rc.Diff.Files {
			if a.Supports(f) {
				files = append(files, f)
			}
		}
	}
	targets := make([]string, 0, len(files))
	analyzed := make(map[string]bool, len(files))
	for _, f := range files {
		targets = append(targets, f.Path)
		analyzed[f.Path] = true
	}
	if len(targets) == 0 {
		return agent.Success(nil, agent.Metrics{DurationMs: agent.ElapsedMs(start)})
	}

	args := append(append([]string{}, a.opts.Command[1:]...), targets...)
	cmd := exec.CommandContext(ctx, a.opts.Command[0], args...)
	cmd.Dir = rc.RepoPath
	cmd.Env = flattenEnv(rc.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	metrics := agent.Metrics{DurationMs: agent.ElapsedMs(start), Files: len(targets)}

	if ctx.Err() != nil {
		return agent.Failure(agent.StageTimeout, fmt.Errorf("%s killed by deadline", a.opts.Command[0]), nil, metrics)
	}
	if err != nil && !a.exitOK(err) {
		return agent.Failure(agent.StageExecute,
			fmt.Errorf("%s: %w: %s", a.opts.Command[0], err, firstLine(stderr.String())), nil, metrics)
	}

	findings, perr := ParseScannerJSON(stdout.Bytes(), a.opts.AgentID)
	if perr != nil {
		return agent.Failure(agent.StageParse, fmt.Errorf("parsing %s output: %w", a.opts.Command[0], perr), nil, metrics)
	}

	// Keep only findings on files this agent was handed.
	kept := findings[:0]
	for _, f := range findings {
		if analyzed[f.File] {
			kept = append(kept, f)
		}
	}
	findings = kept

	if rc.Partials != nil {
		for _, f := range findings {
			rc.Partials.Report(f)
		}
	}
	return agent.Success(findings, metrics)
}

func (a *Subprocess) exitOK(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	for _, code := range a.opts.OKExitCodes {
		if exitErr.ExitCode() == code {
			return true
		}
	}
	return false
}

// scannerJSON is the semgrep-compatible result document.
type scannerJSON struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"` // INFO|WARNING|ERROR
		} `json:"extra"`
	} `json:"results"`
}

// ParseScannerJSON converts semgrep-format output into findings.
func ParseScannerJSON(b []byte, agentID string) ([]finding.Finding, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var doc scannerJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	out := make([]finding.Finding, 0, len(doc.Results))
	for _, r := range doc.Results {
		out = append(out, finding.Finding{
			Severity: scannerSeverity(r.Extra.Severity),
			File:     filepath.ToSlash(r.Path),
			Line:     safeLine(r.Start.Line),
			EndLine:  safeLine(r.End.Line),
			Message:  r.Extra.Message,
			RuleID:   r.CheckID,
			Agent:    agentID,
		})
	}
	return out, nil
}

func scannerSeverity(s string) finding.Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return finding.SeverityError
	case "WARNING":
		return finding.SeverityWarning
	default:
		return finding.SeverityInfo
	}
}

func safeLine(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
