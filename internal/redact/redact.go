package redact

import (
	"path/filepath"
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// Policy controls what gets scrubbed before diff content leaves the
// process. The zero value redacts nothing.
type Policy struct {
	// Secrets enables pattern-based secret scrubbing.
	Secrets bool
	// Paths are glob patterns; matching files have their entire content
	// replaced rather than scanned.
	Paths []string
}

// secretPatterns are regex heuristics for common secret shapes.
var secretPatterns = []*regexp.Regexp{
	// Generic API keys (long hex/base64 strings after common key patterns)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?([A-Za-z0-9/+=_-]{20,})["']?`),
	// AWS access key IDs
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// AWS secret access keys
	regexp.MustCompile(`(?i)(aws[_-]?secret[_-]?access[_-]?key)\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
	// Generic secrets/tokens/passwords in assignments
	regexp.MustCompile(`(?i)(secret|token|password|passwd|credential)\s*[:=]\s*["']([^"']{8,})["']`),
	// Bearer tokens
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]{20,}`),
	// JWTs (three base64 segments separated by dots)
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`),
	// Private key blocks
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE KEY-----`),
	// GitHub tokens
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`),
	// Slack tokens
	regexp.MustCompile(`xox[bporas]-[A-Za-z0-9-]{10,}`),
	// Anthropic API keys
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
	// OpenAI API keys
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	// Generic long hex strings that look like secrets (32+ chars in an assignment)
	regexp.MustCompile(`(?i)(key|secret|token)\s*[:=]\s*["']?[0-9a-f]{32,}["']?`),
}

// Secrets replaces detected secrets in text with [REDACTED].
func Secrets(text string) string {
	result := text
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllString(result, placeholder)
	}
	return result
}

// PathMatches reports whether a file path matches any redaction pattern.
func PathMatches(path string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := filepath.Match(pattern, path)
		if err == nil && matched {
			return true
		}
		// Match the bare filename for patterns like "**/.env".
		cleanPattern := strings.TrimPrefix(pattern, "**/")
		if cleanPattern != pattern {
			matched, err = filepath.Match(cleanPattern, filepath.Base(path))
			if err == nil && matched {
				return true
			}
		}
	}
	return false
}

// Content scrubs file content under the policy: path-matched files are
// replaced wholesale, everything else is pattern-scanned.
func Content(content, path string, pol Policy) string {
	if PathMatches(path, pol.Paths) {
		return placeholder + " (file content redacted by path policy)\n"
	}
	if !pol.Secrets {
		return content
	}
	return Secrets(content)
}

// Diff scrubs a raw unified diff under the policy. Sections for
// path-matched files lose their hunk bodies; all other content is
// pattern-scanned line by line so diff structure survives intact.
func Diff(raw string, pol Policy) string {
	if !pol.Secrets && len(pol.Paths) == 0 {
		return raw
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	suppress := false
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			suppress = sectionMatches(line, pol.Paths)
			out = append(out, line)
			if suppress {
				out = append(out, placeholder+" (file content redacted by path policy)")
			}
			continue
		}
		if suppress {
			continue
		}
		if pol.Secrets {
			line = Secrets(line)
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// sectionMatches extracts the new-side path from a "diff --git a/x b/y"
// header and tests it against the policy patterns.
func sectionMatches(header string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	fields := strings.Fields(header)
	if len(fields) < 4 {
		return false
	}
	path := strings.TrimPrefix(fields[3], "b/")
	return PathMatches(path, patterns)
}
