package gitctx

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/validate"
)

// Options controls diff acquisition.
type Options struct {
	// RepoPath is the working directory for git commands; empty means
	// the process working directory.
	RepoPath     string
	ContextLines int
	// MaxDiffBytes truncates the raw diff text; 0 means unlimited.
	MaxDiffBytes int
	Exclude      []string
}

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string
	Head   string
	Branch string
}

// PRDiff is the acquired merge-base diff between a base and head ref,
// together with the per-file change list git reports for the same range.
type PRDiff struct {
	Raw     string
	Changes []diffmap.Change
	// Base and Head are the resolved commit SHAs, not the input refs.
	Base      string
	Head      string
	Repo      RepoMeta
	Truncated bool
}

// Meta collects repository metadata from git.
func Meta(ctx context.Context, repoPath string) (RepoMeta, error) {
	root, err := gitOutput(ctx, repoPath, "rev-parse", "--show-toplevel")
	if err != nil {
		return RepoMeta{}, fmt.Errorf("not a git repository: %w", err)
	}
	head, err := gitOutput(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		head = "" // new repo with no commits
	}
	branch, err := gitOutput(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}
	return RepoMeta{
		Root:   strings.TrimSpace(root),
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}, nil
}

// Acquire produces the diff a pull request would show: base...head with
// rename detection, so commits on base after the fork point don't bleed
// into the result. Both refs must already have passed validation.
func Acquire(ctx context.Context, base, head validate.RepoRef, opts Options) (PRDiff, error) {
	baseSHA, err := resolve(ctx, opts.RepoPath, base.String())
	if err != nil {
		return PRDiff{}, fmt.Errorf("resolving base %s: %w", base, err)
	}
	headSHA, err := resolve(ctx, opts.RepoPath, head.String())
	if err != nil {
		return PRDiff{}, fmt.Errorf("resolving head %s: %w", head, err)
	}

	rangeSpec := base.String() + "..." + head.String()

	args := []string{"diff", "-M", rangeSpec}
	if opts.ContextLines > 0 {
		args = append(args, fmt.Sprintf("-U%d", opts.ContextLines))
	}
	raw, err := gitOutput(ctx, opts.RepoPath, args...)
	if err != nil {
		return PRDiff{}, fmt.Errorf("git diff %s: %w", rangeSpec, err)
	}

	changes, err := changeList(ctx, opts.RepoPath, rangeSpec)
	if err != nil {
		return PRDiff{}, err
	}

	if len(opts.Exclude) > 0 {
		raw = filterExcluded(raw, opts.Exclude)
		changes = filterChanges(changes, opts.Exclude)
	}

	truncated := false
	if opts.MaxDiffBytes > 0 && len(raw) > opts.MaxDiffBytes {
		raw = raw[:opts.MaxDiffBytes] + "\n... (diff truncated at max-diff-bytes limit)\n"
		truncated = true
	}

	meta, err := Meta(ctx, opts.RepoPath)
	if err != nil {
		meta = RepoMeta{}
	}

	return PRDiff{
		Raw:       raw,
		Changes:   changes,
		Base:      baseSHA,
		Head:      headSHA,
		Repo:      meta,
		Truncated: truncated,
	}, nil
}

// changeList combines name-status (for status and rename pairs) with
// numstat (for add/delete counts) into the canonical change list.
func changeList(ctx context.Context, repoPath, rangeSpec string) ([]diffmap.Change, error) {
	statusOut, err := gitOutput(ctx, repoPath, "diff", "--name-status", "-M", rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-status %s: %w", rangeSpec, err)
	}
	numstatOut, err := gitOutput(ctx, repoPath, "diff", "--numstat", "-M", rangeSpec)
	if err != nil {
		return nil, fmt.Errorf("git diff --numstat %s: %w", rangeSpec, err)
	}

	counts := parseNumstat(numstatOut)

	var changes []diffmap.Change
	for _, line := range strings.Split(strings.TrimSpace(statusOut), "\n") {
		ch, ok := parseNameStatus(line)
		if !ok {
			continue
		}
		if c, found := counts[ch.Path]; found {
			ch.Added, ch.Deleted = c.added, c.deleted
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

type lineCounts struct {
	added, deleted int
}

// parseNumstat reads "added\tdeleted\tpath" lines. Binary files report
// "-" counts and stay at zero; renames use "old => new" or the
// brace-grouped form, of which only the new path is kept.
func parseNumstat(out string) map[string]lineCounts {
	counts := make(map[string]lineCounts)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		var c lineCounts
		c.added, _ = strconv.Atoi(fields[0])
		c.deleted, _ = strconv.Atoi(fields[1])
		counts[numstatPath(fields[2])] = c
	}
	return counts
}

func numstatPath(p string) string {
	if i := strings.Index(p, " => "); i >= 0 {
		if open := strings.Index(p, "{"); open >= 0 && strings.Contains(p, "}") {
			// path/{old => new}/rest
			end := strings.Index(p, "}")
			inner := p[open+1 : end]
			parts := strings.SplitN(inner, " => ", 2)
			return strings.ReplaceAll(p[:open]+parts[1]+p[end+1:], "//", "/")
		}
		return p[i+4:]
	}
	return p
}

// parseNameStatus reads one "X\tpath" or "RNN\told\tnew" line.
func parseNameStatus(line string) (diffmap.Change, bool) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) < 2 || fields[0] == "" {
		return diffmap.Change{}, false
	}
	switch fields[0][0] {
	case 'A':
		return diffmap.Change{Path: fields[1], Status: diffmap.StatusAdded}, true
	case 'D':
		return diffmap.Change{Path: fields[1], Status: diffmap.StatusDeleted}, true
	case 'M':
		return diffmap.Change{Path: fields[1], Status: diffmap.StatusModified}, true
	case 'R':
		if len(fields) < 3 {
			return diffmap.Change{}, false
		}
		return diffmap.Change{Path: fields[2], OldPath: fields[1], Status: diffmap.StatusRenamed}, true
	default:
		// Copies and type changes are treated as modifications.
		return diffmap.Change{Path: fields[len(fields)-1], Status: diffmap.StatusModified}, true
	}
}

func resolve(ctx context.Context, repoPath, ref string) (string, error) {
	out, err := gitOutput(ctx, repoPath, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func filterExcluded(diff string, excludes []string) string {
	sections := splitDiffSections(diff)
	var kept []string
	for _, section := range sections {
		path := extractPathFromSection(section)
		if path == "" || !MatchesAny(path, excludes) {
			kept = append(kept, section)
		}
	}
	return strings.Join(kept, "")
}

func filterChanges(changes []diffmap.Change, excludes []string) []diffmap.Change {
	var kept []diffmap.Change
	for _, ch := range changes {
		if !MatchesAny(ch.Path, excludes) {
			kept = append(kept, ch)
		}
	}
	return kept
}

func splitDiffSections(diff string) []string {
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "diff --git") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

func extractPathFromSection(section string) string {
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(line, "+++ b/") {
			return strings.TrimPrefix(line, "+++ b/")
		}
	}
	return ""
}

// MatchesAny returns true if the path matches any of the given glob patterns.
func MatchesAny(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := path.Match(pattern, p); err == nil && matched {
			return true
		}
		clean := strings.TrimPrefix(pattern, "**/")
		if clean != pattern {
			if matched, err := path.Match(clean, path.Base(p)); err == nil && matched {
				return true
			}
			if matched, err := path.Match(clean, p); err == nil && matched {
				return true
			}
		}
	}
	return false
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), fmt.Errorf("%s: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}
