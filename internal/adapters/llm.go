package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
	"github.com/dshills/armada/internal/redact"
)

const (
	defaultMaxCompletionTokens = 8192
	maxRetries                 = 3
)

// chatClient is the slice of the OpenAI client the reviewer needs;
// tests substitute a stub.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// modelPricing is USD per 1K tokens (prompt, completion) for cost
// accounting. Unknown models report zero cost and rely on token limits.
var modelPricing = map[string][2]float64{
	"gpt-4o":      {0.0025, 0.010},
	"gpt-4o-mini": {0.00015, 0.0006},
	"gpt-4.1":     {0.0020, 0.008},
}

// LLMOptions configures an LLM reviewer agent.
type LLMOptions struct {
	Model     string
	MaxTokens int
	Redact    redact.Policy

	// client overrides the API client; nil means build one from the
	// run environment at execution time.
	client chatClient
}

// LLMReviewer sends the redacted diff to a chat-completion model and
// parses the structured findings it returns.
type LLMReviewer struct {
	opts LLMOptions
}

// NewLLMReviewer builds the "llm-review" agent.
func NewLLMReviewer(opts LLMOptions) *LLMReviewer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxCompletionTokens
	}
	return &LLMReviewer{opts: opts}
}

// ID implements agent.Agent.
func (a *LLMReviewer) ID() string { return "llm-review" }

// Supports implements agent.Agent; the reviewer reads any text diff.
func (a *LLMReviewer) Supports(f diffmap.File) bool {
	return !f.Unparseable && f.Status != diffmap.StatusDeleted
}

// Run implements agent.Agent.
func (a *LLMReviewer) Run(ctx context.Context, rc agent.RunContext) agent.Result {
	start := time.Now()

	client := a.opts.client
	if client == nil {
		apiKey := rc.Env["OPENAI_API_KEY"]
		if apiKey == "" {
			return agent.Failure(agent.StageSetup, fmt.Errorf("OPENAI_API_KEY not present in agent environment"), nil, agent.Metrics{DurationMs: agent.ElapsedMs(start)})
		}
		cfg := openai.DefaultConfig(apiKey)
		if base := rc.Env["OPENAI_BASE_URL"]; base != "" {
			cfg.BaseURL = base
		}
		client = openai.NewClientWithConfig(cfg)
	}

	model := a.opts.Model
	if model == "" {
		model = rc.Model
	}

	diffText := redact.Diff(rc.RawDiff, a.opts.Redact)
	if strings.TrimSpace(diffText) == "" {
		return agent.Success(nil, agent.Metrics{DurationMs: agent.ElapsedMs(start)})
	}

	var metrics agent.Metrics
	content, usage, err := a.complete(ctx, client, model, userPrompt(diffText))
	metrics.Tokens += usage.TotalTokens
	metrics.CostUSD += cost(model, usage)
	if err != nil {
		metrics.DurationMs = agent.ElapsedMs(start)
		return agent.Failure(failStage(ctx, err), err, nil, metrics)
	}

	findings, perr := parseReviewJSON(content, a.ID())
	if perr != nil {
		// One repair pass: hand the model its own output and the error.
		content, usage, err = a.complete(ctx, client, model, repairPrompt(perr, content))
		metrics.Tokens += usage.TotalTokens
		metrics.CostUSD += cost(model, usage)
		if err != nil {
			metrics.DurationMs = agent.ElapsedMs(start)
			return agent.Failure(failStage(ctx, err), fmt.Errorf("repair pass failed: %w (original error: %w)", err, perr), nil, metrics)
		}
		findings, perr = parseReviewJSON(content, a.ID())
		if perr != nil {
			metrics.DurationMs = agent.ElapsedMs(start)
			return agent.Failure(agent.StageParse, fmt.Errorf("response validation failed after repair: %w", perr), nil, metrics)
		}
	}

	if rc.Partials != nil {
		for _, f := range findings {
			rc.Partials.Report(f)
		}
	}

	metrics.DurationMs = agent.ElapsedMs(start)
	if rc.Files != nil {
		metrics.Files = len(rc.Files)
	} else if rc.Diff != nil {
		metrics.Files = len(rc.Diff.Files)
	}
	return agent.Success(findings, metrics)
}

func (a *LLMReviewer) complete(ctx context.Context, client chatClient, model, prompt string) (string, openai.Usage, error) {
	var resp openai.ChatCompletionResponse
	err := retryWithBackoff(ctx, maxRetries, func() error {
		var callErr error
		resp, callErr = client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxCompletionTokens: a.opts.MaxTokens,
		})
		if callErr != nil {
			return classifyAPIError(callErr)
		}
		return nil
	})
	if err != nil {
		return "", resp.Usage, err
	}
	if len(resp.Choices) == 0 {
		return "", resp.Usage, fmt.Errorf("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}

func failStage(ctx context.Context, err error) agent.Stage {
	if ctx.Err() != nil {
		return agent.StageTimeout
	}
	if IsAuthError(err) {
		return agent.StageSetup
	}
	return agent.StageExecute
}

func cost(model string, u openai.Usage) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*p[0] + float64(u.CompletionTokens)/1000*p[1]
}

const systemPrompt = `You are a precise code reviewer analyzing a pull-request diff.
Report only real, actionable problems: bugs, security issues, data races,
resource leaks, and error-handling mistakes. Do not comment on style or
formatting. Respond with ONLY a JSON array (no prose, no markdown fences),
where each element is:
{"severity":"info|warning|error","path":"relative/file.go","line":123,"endLine":125,"message":"...","suggestion":"..."}
Use the new-file line numbers shown in the diff. Omit line for file-level
remarks. An empty array is a valid response.`

func userPrompt(diff string) string {
	var b strings.Builder
	b.WriteString("Review this diff:\n\n```diff\n")
	b.WriteString(diff)
	b.WriteString("\n```\n")
	return b.String()
}

func repairPrompt(parseErr error, previous string) string {
	return fmt.Sprintf(
		"Your previous response was not valid JSON. The error was: %s\n\nPlease fix it and respond with ONLY a valid JSON array of findings.\n\nYour previous response was:\n%s",
		parseErr.Error(), previous,
	)
}

// rawReviewFinding is the JSON structure the model returns.
type rawReviewFinding struct {
	Severity   string `json:"severity"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
	EndLine    int    `json:"endLine"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// parseReviewJSON decodes the model output, tolerating markdown fences.
func parseReviewJSON(content, agentID string) ([]finding.Finding, error) {
	content = strings.TrimSpace(content)

	// Strip markdown code fences if present
	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		if len(lines) >= 2 {
			end := len(lines)
			if strings.TrimSpace(lines[end-1]) == "```" {
				end--
			}
			content = strings.Join(lines[1:end], "\n")
		}
	}

	var raw []rawReviewFinding
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}

	findings := make([]finding.Finding, 0, len(raw))
	for _, r := range raw {
		if r.Message == "" || r.Path == "" {
			continue
		}
		findings = append(findings, finding.Finding{
			Severity:   normalizeSeverity(r.Severity),
			File:       r.Path,
			Line:       r.Line,
			EndLine:    r.EndLine,
			Message:    r.Message,
			Suggestion: r.Suggestion,
			Agent:      agentID,
		})
	}
	return findings, nil
}

func normalizeSeverity(s string) finding.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "critical", "high":
		return finding.SeverityError
	case "warning", "medium":
		return finding.SeverityWarning
	default:
		return finding.SeverityInfo
	}
}
