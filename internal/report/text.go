package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dshills/armada/internal/finding"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct{}

func (t *TextWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}

	ew.printf("Armada Review — run %s\n", report.RunID)
	if report.PR.Number > 0 {
		ew.printf("PR #%d (%s..%s)\n", report.PR.Number, short(report.PR.Base), short(report.PR.Head))
	}
	if report.Repo.Root != "" {
		ew.printf("Repository: %s (branch: %s)\n", report.Repo.Root, report.Repo.Branch)
	}
	ew.println(strings.Repeat("─", 60))

	if report.Error != "" {
		ew.printf("Run failed: %s\n", report.Error)
		return ew.err
	}

	c := report.Summary.Counts
	total := c.Error + c.Warning + c.Info
	ew.printf("Findings: %d total", total)
	if total > 0 {
		ew.printf(" (%d error, %d warning, %d info)", c.Error, c.Warning, c.Info)
	}
	ew.println("")
	if len(report.Partial) > 0 {
		ew.printf("Partial findings (from failed agents): %d\n", len(report.Partial))
	}
	ew.println(strings.Repeat("─", 60))

	if total == 0 && len(report.Partial) == 0 {
		ew.println("\nNo issues found. Looks good!")
	}

	for _, sev := range []finding.Severity{finding.SeverityError, finding.SeverityWarning, finding.SeverityInfo} {
		var group []finding.Finding
		for _, f := range report.Complete {
			if f.Severity == sev {
				group = append(group, f)
			}
		}
		if len(group) == 0 {
			continue
		}

		ew.printf("\n%s %s\n", severityIcon(sev), strings.ToUpper(string(sev)))
		ew.println(strings.Repeat("─", 40))
		for _, f := range group {
			ew.printf("\n  %s  [%s]\n", location(f), strings.Join(f.Agents, ", "))
			for _, line := range wrapText(f.Message, 70) {
				ew.printf("    %s\n", line)
			}
			if f.Suggestion != "" {
				ew.println("  Suggestion:")
				for _, line := range wrapText(f.Suggestion, 70) {
					ew.printf("    %s\n", line)
				}
			}
		}
	}

	if len(report.Partial) > 0 {
		ew.println("\nPARTIAL (best-effort, from failed agents)")
		ew.println(strings.Repeat("─", 40))
		for _, f := range report.Partial {
			ew.printf("  %s  [%s] %s\n", location(f), f.Agent, firstWrapped(f.Message, 60))
		}
	}

	if len(report.Skipped) > 0 {
		ew.println("\nSKIPPED AGENTS")
		for _, s := range report.Skipped {
			ew.printf("  %s/%s: %s\n", s.Pass, s.Agent, s.Reason)
		}
	}
	if len(report.NotAnalyzed) > 0 {
		ew.printf("\nNot analyzed (diff too large): %s\n", strings.Join(report.NotAnalyzed, ", "))
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	if report.Gate.Enabled {
		if report.Gate.Failed {
			ew.printf("Gate: FAILED — %s\n", strings.Join(report.Gate.Reasons, "; "))
		} else {
			ew.println("Gate: passed")
		}
	}
	ew.printf("Spend: %d tokens, $%.4f | Completed in %dms (git: %dms, pipeline: %dms)\n",
		report.Usage.Tokens, report.Usage.CostUSD,
		report.Timing.TotalMs, report.Timing.GitMs, report.Timing.PipelineMs)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

func location(f finding.Finding) string {
	if f.Line > 0 {
		if f.EndLine > f.Line {
			return fmt.Sprintf("%s:%d-%d", f.File, f.Line, f.EndLine)
		}
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	if f.File == "" {
		return "(run)"
	}
	return f.File
}

func severityIcon(s finding.Severity) string {
	switch s {
	case finding.SeverityError:
		return "[!!]"
	case finding.SeverityWarning:
		return "[!]"
	case finding.SeverityInfo:
		return "[-]"
	default:
		return "[?]"
	}
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstWrapped(text string, width int) string {
	lines := wrapText(text, width)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

func wrapText(text string, width int) []string {
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	words := strings.Fields(text)
	var current strings.Builder
	for _, word := range words {
		if current.Len()+len(word)+1 > width && current.Len() > 0 {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
