package adapters

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
)

// patternRule is one built-in check applied to added lines.
type patternRule struct {
	id       string
	severity finding.Severity
	re       *regexp.Regexp
	message  string
}

var defaultRules = []patternRule{
	{
		id:       "hardcoded-credential",
		severity: finding.SeverityError,
		re:       regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token)\s*[:=]\s*["'][^"']{8,}["']`),
		message:  "possible hardcoded credential",
	},
	{
		id:       "aws-access-key",
		severity: finding.SeverityError,
		re:       regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		message:  "AWS access key ID committed to source",
	},
	{
		id:       "private-key-block",
		severity: finding.SeverityError,
		re:       regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE KEY-----`),
		message:  "private key material committed to source",
	},
	{
		id:       "insecure-url",
		severity: finding.SeverityWarning,
		re:       regexp.MustCompile(`"http://[^"\s]+"`),
		message:  "plaintext http URL; prefer https",
	},
	{
		id:       "weak-hash",
		severity: finding.SeverityWarning,
		re:       regexp.MustCompile(`\b(md5|sha1)\.(New|Sum)\b`),
		message:  "weak hash algorithm for security-sensitive use",
	},
	{
		id:       "insecure-tls",
		severity: finding.SeverityError,
		re:       regexp.MustCompile(`InsecureSkipVerify:\s*true`),
		message:  "TLS certificate verification disabled",
	},
}

// PatternScanner is the built-in "pattern-scan" agent: a dependency-free
// static pass over the added lines of the diff. It is deterministic,
// costs nothing, and needs no network, so it runs even when every other
// agent is skipped for budget.
type PatternScanner struct {
	rules []patternRule
}

// NewPatternScanner builds the built-in static scanner.
func NewPatternScanner() *PatternScanner {
	return &PatternScanner{rules: defaultRules}
}

// ID implements agent.Agent.
func (a *PatternScanner) ID() string { return "pattern-scan" }

// Supports implements agent.Agent.
func (a *PatternScanner) Supports(f diffmap.File) bool {
	return f.Status != diffmap.StatusDeleted && !f.Unparseable
}

// Run implements agent.Agent. Scanning walks the raw diff text so it
// sees exactly what the reviewer sees, tracking new-file line numbers
// from the hunk headers.
func (a *PatternScanner) Run(ctx context.Context, rc agent.RunContext) agent.Result {
	start := time.Now()

	var findings []finding.Finding
	var file string
	newLine := 0
	inHunk := false

	for _, line := range strings.Split(rc.RawDiff, "\n") {
		if err := ctx.Err(); err != nil {
			return agent.Failure(agent.StageTimeout, err, findings, agent.Metrics{DurationMs: agent.ElapsedMs(start)})
		}
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			file = strings.TrimPrefix(line, "+++ b/")
			inHunk = false
		case strings.HasPrefix(line, "+++ "):
			file = ""
			inHunk = false
		case strings.HasPrefix(line, "@@"):
			newLine = hunkNewStart(line)
			inHunk = newLine > 0
		case !inHunk || file == "":
			// between sections
		case strings.HasPrefix(line, "+"):
			text := line[1:]
			for _, rule := range a.rules {
				if rule.re.MatchString(text) {
					f := finding.Finding{
						Severity: rule.severity,
						File:     file,
						Line:     newLine,
						Message:  rule.message,
						RuleID:   rule.id,
						Agent:    a.ID(),
					}
					findings = append(findings, f)
					if rc.Partials != nil {
						rc.Partials.Report(f)
					}
				}
			}
			newLine++
		case strings.HasPrefix(line, "-") || strings.HasPrefix(line, "\\"):
			// deleted lines and "\ No newline" markers don't advance
		default:
			newLine++
		}
	}

	m := agent.Metrics{DurationMs: agent.ElapsedMs(start)}
	if rc.Files != nil {
		m.Files = len(rc.Files)
	} else if rc.Diff != nil {
		m.Files = len(rc.Diff.Files)
	}
	return agent.Success(findings, m)
}

// hunkNewStart extracts the new-file start line from "@@ -a,b +c,d @@".
func hunkNewStart(header string) int {
	fields := strings.Fields(header)
	for _, f := range fields {
		if strings.HasPrefix(f, "+") {
			spec := strings.TrimPrefix(f, "+")
			if i := strings.IndexByte(spec, ','); i >= 0 {
				spec = spec[:i]
			}
			n, err := strconv.Atoi(spec)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}
