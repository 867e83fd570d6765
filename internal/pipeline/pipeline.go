package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/budget"
	"github.com/dshills/armada/internal/cache"
	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
)

// maxConcurrency caps concurrent agents within a pass.
const maxConcurrency = 4

// Skip reasons surfaced on skipped agent results.
const (
	ReasonPassDisabled    = "pass disabled"
	ReasonBudgetExhausted = "budget exhausted"
)

// PassSpec is one configured pass: a named group of agents that runs
// after every earlier pass has fully settled.
type PassSpec struct {
	Name    string
	Agents  []agent.Agent
	Enabled bool
	// Required marks a pass whose total failure fails the run gate.
	Required        bool
	EstimatedUSD    float64
	EstimatedTokens int
}

// Options configures one pipeline execution.
type Options struct {
	MaxParallel  int
	AgentTimeout time.Duration
	Cache        *cache.Cache
	// CacheKey carries the run-scoped key components; the agent id is
	// filled in per invocation.
	CacheKey cache.Key
	Budget   *budget.Tracker
	Logger   zerolog.Logger
}

// Outcome is the settled result of one agent invocation within a pass.
type Outcome struct {
	Pass    string       `json:"pass"`
	AgentID string       `json:"agent"`
	Cached  bool         `json:"cached,omitempty"`
	Result  agent.Result `json:"result"`
}

// Result is the merged outcome of a full pipeline execution. One agent's
// failure never appears as anyone else's: every outcome is attributed.
type Result struct {
	RunID    string    `json:"runId"`
	Outcomes []Outcome `json:"outcomes"`
	// Complete holds findings from successful agents; Partial holds
	// best-effort findings from failed or timed-out agents. The two
	// collections never mix.
	Complete []finding.Finding `json:"complete,omitempty"`
	Partial  []finding.Finding `json:"partial,omitempty"`
	// FailedRequired names required passes in which no agent succeeded.
	FailedRequired []string     `json:"failedRequired,omitempty"`
	Usage          budget.Usage `json:"usage"`
}

// Execute runs the passes in order. Passes are sequential; agents within
// a pass run concurrently. Agent failures are contained in their
// outcomes, so the only errors returned are orchestration-level ones.
func Execute(ctx context.Context, rc agent.RunContext, passes []PassSpec, opts Options) (*Result, error) {
	if opts.Budget == nil {
		return nil, fmt.Errorf("pipeline requires a budget tracker")
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 || maxParallel > maxConcurrency {
		maxParallel = maxConcurrency
	}

	res := &Result{RunID: uuid.NewString()}
	log := opts.Logger.With().Str("run_id", res.RunID).Logger()

	exhausted := false
	for _, pass := range passes {
		passLog := log.With().Str("pass", pass.Name).Logger()

		if !pass.Enabled {
			passLog.Debug().Msg("pass disabled, skipping")
			res.appendSkips(pass, ReasonPassDisabled)
			continue
		}
		// Pre-flight: an unaffordable pass is skipped whole so a partial
		// pass never half-spends the remaining budget. Exhaustion is
		// terminal for the run: every later pass is skipped too, even a
		// cheaper one, so the budget decision stays a single cut point.
		if exhausted || !opts.Budget.CanAfford(pass.EstimatedUSD, pass.EstimatedTokens) {
			if !exhausted {
				passLog.Warn().
					Float64("estimated_usd", pass.EstimatedUSD).
					Int("estimated_tokens", pass.EstimatedTokens).
					Msg("budget cannot cover pass, skipping this and all later passes")
			}
			exhausted = true
			res.appendSkips(pass, ReasonBudgetExhausted)
			continue
		}

		outcomes := make([]Outcome, len(pass.Agents))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(len(pass.Agents), maxParallel))

		for i, ag := range pass.Agents {
			i, ag := i, ag
			g.Go(func() error {
				outcomes[i] = runAgent(gctx, rc, pass.Name, ag, opts, passLog)
				return nil
			})
		}
		// Only ctx cancellation can surface here; agents never return errors.
		if err := g.Wait(); err != nil {
			return nil, err
		}

		succeeded := 0
		for _, o := range outcomes {
			if o.Result.Status == agent.StatusSuccess {
				succeeded++
			}
		}
		if pass.Required && succeeded == 0 && len(pass.Agents) > 0 {
			passLog.Error().Msg("required pass had no successful agent")
			res.FailedRequired = append(res.FailedRequired, pass.Name)
		}
		res.Outcomes = append(res.Outcomes, outcomes...)

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled after pass %s: %w", pass.Name, err)
		}
	}

	res.collect()
	res.Usage = opts.Budget.Snapshot()
	return res, nil
}

// runAgent resolves one agent invocation through the cache. The compute
// path debits the budget; a cache hit or a coalesced duplicate does not,
// because nothing was spent.
func runAgent(ctx context.Context, rc agent.RunContext, passName string, ag agent.Agent, opts Options, log zerolog.Logger) Outcome {
	key := opts.CacheKey
	key.AgentID = ag.ID()
	rc.Files = supportedFiles(rc.Diff, ag)

	computed := false
	compute := func() agent.Result {
		computed = true
		r := runWithDeadline(ctx, rc, ag, opts.AgentTimeout)
		opts.Budget.Debit(r.Metrics)
		return r
	}

	var result agent.Result
	if opts.Cache != nil {
		result = opts.Cache.GetOrCompute(key, compute)
	} else {
		result = compute()
	}

	log.Info().
		Str("agent", ag.ID()).
		Str("status", string(result.Status)).
		Bool("cached", !computed).
		Int64("duration_ms", result.Metrics.DurationMs).
		Int("tokens", result.Metrics.Tokens).
		Float64("cost_usd", result.Metrics.CostUSD).
		Msg("agent settled")

	return Outcome{Pass: passName, AgentID: ag.ID(), Cached: !computed, Result: result}
}

// runWithDeadline enforces the per-agent deadline preemptively: when the
// timer fires the orchestrator stops waiting, drains the partial sink,
// and reports a timeout failure. The agent goroutine is abandoned; its
// late result is discarded, and subprocess-backed agents are killed by
// the context so they cannot outlive the decision.
func runWithDeadline(ctx context.Context, rc agent.RunContext, ag agent.Agent, timeout time.Duration) agent.Result {
	if timeout <= 0 {
		return ag.Run(ctx, rc)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Per-invocation sink so concurrent agents cannot see each other's
	// incremental findings.
	rc.Partials = &agent.PartialSink{}

	start := time.Now()
	done := make(chan agent.Result, 1)
	go func() {
		done <- ag.Run(ctx, rc)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		partial := rc.Partials.Drain()
		return agent.Failure(
			agent.StageTimeout,
			fmt.Errorf("agent %s exceeded %s deadline", ag.ID(), timeout),
			partial,
			agent.Metrics{DurationMs: agent.ElapsedMs(start)},
		)
	}
}

// supportedFiles filters the diff down to the files one agent declares
// applicable.
func supportedFiles(d *diffmap.Diff, ag agent.Agent) []diffmap.File {
	if d == nil {
		return nil
	}
	var out []diffmap.File
	for _, f := range d.Files {
		if ag.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

// appendSkips records one skipped outcome per agent so skipped work is
// visible in the report instead of silently absent.
func (r *Result) appendSkips(pass PassSpec, reason string) {
	for _, ag := range pass.Agents {
		r.Outcomes = append(r.Outcomes, Outcome{
			Pass:    pass.Name,
			AgentID: ag.ID(),
			Result:  agent.Skip(reason, agent.Metrics{}),
		})
	}
}

// collect splits findings by provenance across all settled outcomes.
func (r *Result) collect() {
	for _, o := range r.Outcomes {
		switch o.Result.Status {
		case agent.StatusSuccess:
			for _, f := range o.Result.Findings {
				f.Provenance = finding.ProvenanceComplete
				r.Complete = append(r.Complete, f)
			}
		case agent.StatusFailure:
			for _, f := range o.Result.Partial {
				f.Provenance = finding.ProvenancePartial
				r.Partial = append(r.Partial, f)
			}
		}
	}
}
