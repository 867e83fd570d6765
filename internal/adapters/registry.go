package adapters

import (
	"fmt"
	"sort"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/config"
	"github.com/dshills/armada/internal/redact"
)

// Build resolves a configured agent id to a runnable agent.
func Build(id string, cfg config.Config) (agent.Agent, error) {
	pol := redact.Policy{
		Secrets: cfg.Privacy.RedactSecrets,
		Paths:   cfg.Privacy.RedactPaths,
	}
	switch id {
	case "pattern-scan":
		return NewPatternScanner(), nil
	case "llm-review":
		return NewLLMReviewer(LLMOptions{Model: cfg.Model, Redact: pol}), nil
	case "semgrep":
		return NewSubprocess(SubprocessOptions{
			AgentID: "semgrep",
			Command: []string{"semgrep", "scan", "--json", "--quiet"},
		})
	default:
		return nil, fmt.Errorf("unknown agent %q (known: %v)", id, Known())
	}
}

// Known returns the registered agent ids, sorted.
func Known() []string {
	ids := []string{"llm-review", "pattern-scan", "semgrep"}
	sort.Strings(ids)
	return ids
}
