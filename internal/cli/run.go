package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/armada/internal/adapters"
	"github.com/dshills/armada/internal/agent"
	"github.com/dshills/armada/internal/budget"
	"github.com/dshills/armada/internal/cache"
	"github.com/dshills/armada/internal/config"
	"github.com/dshills/armada/internal/dedup"
	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
	"github.com/dshills/armada/internal/gitctx"
	"github.com/dshills/armada/internal/logging"
	"github.com/dshills/armada/internal/pipeline"
	"github.com/dshills/armada/internal/report"
	"github.com/dshills/armada/internal/trust"
	"github.com/dshills/armada/internal/validate"
)

var (
	flagConfig  string
	flagBase    string
	flagHead    string
	flagPR      int
	flagAuthor  string
	flagFork    bool
	flagDraft   bool
	flagRepo    string
	flagFormat  string
	flagOut     string
	flagNoCache bool
	flagVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline against a pull-request diff",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&flagConfig, "config", ".armada.yml", "Configuration file path")
	runCmd.Flags().StringVar(&flagBase, "base", "", "Base ref of the pull request (required)")
	runCmd.Flags().StringVar(&flagHead, "head", "HEAD", "Head ref of the pull request")
	runCmd.Flags().IntVar(&flagPR, "pr", 0, "Pull request number")
	runCmd.Flags().StringVar(&flagAuthor, "author", "", "Pull request author login")
	runCmd.Flags().BoolVar(&flagFork, "fork", false, "Pull request originates from a fork")
	runCmd.Flags().BoolVar(&flagDraft, "draft", false, "Pull request is a draft")
	runCmd.Flags().StringVar(&flagRepo, "repo", "", "Repository path (default: current directory)")
	runCmd.Flags().StringVar(&flagFormat, "format", "", "Output format (json, text, markdown)")
	runCmd.Flags().StringVar(&flagOut, "out", "", "Output file path (default: stdout)")
	runCmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "Bypass the result cache")
	runCmd.Flags().BoolVar(&flagVerbose, "verbose", false, "Verbose logging")
	_ = runCmd.MarkFlagRequired("base")
}

func runPipeline(ctx context.Context) error {
	start := time.Now()
	log := logging.Setup(flagVerbose)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		if config.IsValidationError(err) {
			exitCode = ExitUsageError
		} else {
			exitCode = ExitRuntimeError
		}
		return err
	}
	format := cfg.Output.Format
	if flagFormat != "" {
		format = flagFormat
	}

	base, err := validate.ParseRepoRef(flagBase)
	if err != nil {
		exitCode = ExitUsageError
		return fmt.Errorf("--base: %w", err)
	}
	head, err := validate.ParseRepoRef(flagHead)
	if err != nil {
		exitCode = ExitUsageError
		return fmt.Errorf("--head: %w", err)
	}

	// Trust gate runs before any diff acquisition so no budget is spent
	// on a PR the policy refuses.
	decision := trust.Evaluate(
		trust.PullRequest{Number: flagPR, Author: flagAuthor, FromFork: flagFork, Draft: flagDraft},
		trust.Policy{AllowForks: cfg.Trust.AllowForks, ForkAllowlist: cfg.Trust.ForkAllowlist},
	)
	if !decision.Trusted {
		log.Warn().Str("reason", decision.Reason).Msg("pull request refused by trust policy")
		r := report.FatalReport(uuid.NewString(), fmt.Errorf("refused by trust policy: %s", decision.Reason))
		return report.WriteReport(r, format, flagOut)
	}

	prDiff, err := gitctx.Acquire(ctx, base, head, gitctx.Options{RepoPath: flagRepo})
	if err != nil {
		return fatal(log, format, fmt.Errorf("acquiring diff: %w", err))
	}

	d, err := diffmap.Canonicalize(prDiff.Raw, prDiff.Changes, cfg.Budget.MaxDiffLines)
	if err != nil {
		return fatal(log, format, fmt.Errorf("canonicalizing diff: %w", err))
	}
	d.LimitFiles(cfg.Budget.MaxFiles)

	passes, err := buildPasses(cfg)
	if err != nil {
		exitCode = ExitUsageError
		return err
	}

	c, err := cache.New(cfg.Cache.Enabled && !flagNoCache, cfg.Cache.Dir, cfg.Cache.TTLSeconds)
	if err != nil {
		return fatal(log, format, fmt.Errorf("opening cache: %w", err))
	}

	ledger, err := budget.OpenLedger(cfg.Cache.Dir)
	if err != nil {
		return fatal(log, format, fmt.Errorf("opening spend ledger: %w", err))
	}

	tracker := budget.NewTracker(budget.Limits{
		MaxTokens:  cfg.Budget.MaxTokens,
		MaxUSD:     cfg.Budget.MaxUSD,
		MaxWall:    time.Duration(cfg.Budget.MaxSeconds) * time.Second,
		MonthlyUSD: cfg.Budget.MonthlyUSD,
		MonthSpent: ledger.MonthToDate(time.Now()),
	})

	rc := agent.RunContext{
		Diff:     d,
		RawDiff:  prDiff.Raw,
		RepoPath: flagRepo,
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Env:      agentEnv(),
	}

	gitMs := time.Since(start).Milliseconds()
	pipeStart := time.Now()

	res, err := pipeline.Execute(ctx, rc, passes, pipeline.Options{
		MaxParallel:  cfg.MaxParallel,
		AgentTimeout: time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
		Cache:        c,
		CacheKey: cache.Key{
			PR:         prKey(prDiff),
			HeadCommit: prDiff.Head,
			ConfigHash: config.Fingerprint(cfg),
		},
		Budget: tracker,
		Logger: log,
	})
	if err != nil {
		return fatal(log, format, fmt.Errorf("pipeline: %w", err))
	}
	pipelineMs := time.Since(pipeStart).Milliseconds()

	if err := ledger.Record(time.Now(), res.Usage.CostUSD); err != nil {
		log.Warn().Err(err).Msg("recording monthly spend")
	}

	out := dedup.Process(res.Complete, res.Partial, d, dedup.Limits{
		MaxComments:    cfg.Output.MaxComments,
		MaxAnnotations: cfg.Output.MaxAnnotations,
	})

	gate := report.EvaluateGate(cfg.Gate.Enabled, cfg.Gate.FailOn, out.Complete, res.FailedRequired)

	r := &report.Report{
		Tool:              report.Tool,
		Version:           report.Version,
		RunID:             res.RunID,
		Repo:              report.RepoInfo{Root: prDiff.Repo.Root, Head: prDiff.Repo.Head, Branch: prDiff.Repo.Branch},
		PR:                report.PRInfo{Number: flagPR, Base: prDiff.Base, Head: prDiff.Head},
		Summary:           finding.Summarize(out.Complete),
		Complete:          out.Complete,
		Partial:           out.Partial,
		Skipped:           skippedAgents(res),
		NotAnalyzed:       d.NotAnalyzed,
		TruncatedComplete: out.TruncatedComplete,
		TruncatedPartial:  out.TruncatedPartial,
		Gate:              gate,
		Usage:             res.Usage,
		Timing: report.Timing{
			GitMs:      gitMs,
			PipelineMs: pipelineMs,
			TotalMs:    time.Since(start).Milliseconds(),
		},
	}

	if err := report.WriteReport(r, format, flagOut); err != nil {
		exitCode = ExitRuntimeError
		return err
	}

	switch {
	case authFailure(res):
		exitCode = ExitAuthError
	case gate.Failed:
		exitCode = ExitGateFailed
	}
	return nil
}

// fatal emits the minimal parseable report before surfacing the error,
// so CI consumers never see an empty stdout.
func fatal(log zerolog.Logger, format string, err error) error {
	log.Error().Err(err).Msg("run failed")
	r := report.FatalReport(uuid.NewString(), err)
	if werr := report.WriteReport(r, format, flagOut); werr != nil {
		log.Error().Err(werr).Msg("writing failure report")
	}
	exitCode = ExitRuntimeError
	return err
}

func buildPasses(cfg config.Config) ([]pipeline.PassSpec, error) {
	var passes []pipeline.PassSpec
	for _, p := range cfg.Passes {
		spec := pipeline.PassSpec{
			Name:            p.Name,
			Enabled:         p.IsEnabled(),
			Required:        p.Required,
			EstimatedUSD:    p.EstimatedUSD,
			EstimatedTokens: p.EstimatedTokens,
		}
		for _, id := range p.Agents {
			ag, err := adapters.Build(id, cfg)
			if err != nil {
				return nil, fmt.Errorf("pass %s: %w", p.Name, err)
			}
			spec.Agents = append(spec.Agents, ag)
		}
		passes = append(passes, spec)
	}
	return passes, nil
}

// agentEnv builds the environment exposed to agents. Reporting
// credentials never cross this boundary: agents analyze, the reporting
// boundary posts.
func agentEnv() map[string]string {
	blocked := map[string]bool{
		"GITHUB_TOKEN":        true,
		"GH_TOKEN":            true,
		"GITLAB_TOKEN":        true,
		"ARMADA_REPORT_TOKEN": true,
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || blocked[k] {
			continue
		}
		env[k] = v
	}
	return env
}

func prKey(pr gitctx.PRDiff) string {
	if flagPR > 0 {
		return strconv.Itoa(flagPR)
	}
	return pr.Base + ".." + pr.Head
}

func skippedAgents(res *pipeline.Result) []report.SkippedAgent {
	var out []report.SkippedAgent
	for _, o := range res.Outcomes {
		if o.Result.Status == agent.StatusSkipped {
			out = append(out, report.SkippedAgent{Pass: o.Pass, Agent: o.AgentID, Reason: o.Result.SkipReason})
		}
	}
	return out
}

func authFailure(res *pipeline.Result) bool {
	for _, o := range res.Outcomes {
		if o.Result.Status == agent.StatusFailure && strings.Contains(o.Result.Error, "authentication error") {
			return true
		}
	}
	return false
}
