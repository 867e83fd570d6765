// Package trust implements the pre-flight pull-request gate. The check is
// pure: it consults only PR metadata and policy, never agents, network,
// or cache, and runs before any diff is acquired so no budget is spent on
// untrusted input.
package trust

import (
	"fmt"
	"strings"
)

// PullRequest is the metadata the gate evaluates.
type PullRequest struct {
	Number   int
	Author   string
	FromFork bool
	Draft    bool
}

// Policy controls which pull requests may run the pipeline.
type Policy struct {
	AllowForks bool
	// ForkAllowlist names authors whose fork PRs run even when
	// AllowForks is false. Matching is case-insensitive.
	ForkAllowlist []string
}

// Decision is the gate outcome; Reason is set when Trusted is false.
type Decision struct {
	Trusted bool
	Reason  string
}

// Evaluate applies the policy. Draft PRs are rejected unconditionally;
// fork PRs are rejected unless the policy or the allowlist admits them.
func Evaluate(pr PullRequest, pol Policy) Decision {
	if pr.Draft {
		return Decision{Reason: fmt.Sprintf("pull request #%d is a draft", pr.Number)}
	}
	if pr.FromFork && !pol.AllowForks && !allowlisted(pr.Author, pol.ForkAllowlist) {
		return Decision{Reason: fmt.Sprintf("pull request #%d is from a fork and author %q is not allowlisted", pr.Number, pr.Author)}
	}
	return Decision{Trusted: true}
}

func allowlisted(author string, allowlist []string) bool {
	for _, a := range allowlist {
		if strings.EqualFold(a, author) {
			return true
		}
	}
	return false
}
