package report

import (
	"io"
	"strings"
)

// MarkdownWriter outputs a report formatted for a pull-request comment.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *Report) error {
	ew := &errWriter{w: w}

	ew.println("## Armada Review")
	ew.println("")

	if report.Error != "" {
		ew.printf("**Run failed:** %s\n", escapePipes(report.Error))
		return ew.err
	}

	c := report.Summary.Counts
	total := c.Error + c.Warning + c.Info
	if total == 0 && len(report.Partial) == 0 {
		ew.println("No issues found. :white_check_mark:")
	} else {
		ew.printf("**%d** finding(s): %d error, %d warning, %d info\n", total, c.Error, c.Warning, c.Info)
	}
	ew.println("")

	if total > 0 {
		ew.println("| Severity | Location | Agents | Finding |")
		ew.println("|----------|----------|--------|---------|")
		for _, f := range report.Complete {
			ew.printf("| %s | `%s` | %s | %s |\n",
				f.Severity, location(f),
				strings.Join(f.Agents, ", "),
				escapePipes(f.Message))
		}
		ew.println("")
	}

	if len(report.Partial) > 0 {
		ew.println("<details><summary>Partial findings (from failed agents)</summary>")
		ew.println("")
		for _, f := range report.Partial {
			ew.printf("- `%s` [%s] %s\n", location(f), f.Agent, escapePipes(f.Message))
		}
		ew.println("")
		ew.println("</details>")
		ew.println("")
	}

	if len(report.Skipped) > 0 {
		ew.println("<details><summary>Skipped agents</summary>")
		ew.println("")
		for _, s := range report.Skipped {
			ew.printf("- `%s/%s`: %s\n", s.Pass, s.Agent, s.Reason)
		}
		ew.println("")
		ew.println("</details>")
		ew.println("")
	}

	if report.Gate.Enabled {
		if report.Gate.Failed {
			ew.printf("**Gate: failed** — %s\n", escapePipes(strings.Join(report.Gate.Reasons, "; ")))
		} else {
			ew.println("Gate: passed")
		}
		ew.println("")
	}

	ew.printf("<sub>run `%s` · %d tokens · $%.4f · %dms</sub>\n",
		report.RunID, report.Usage.Tokens, report.Usage.CostUSD, report.Timing.TotalMs)

	return ew.err
}

func escapePipes(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}
