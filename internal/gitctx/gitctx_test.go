package gitctx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNameStatus(t *testing.T) {
	tests := []struct {
		line string
		want diffmap.Change
		ok   bool
	}{
		{"A\tpkg/new.go", diffmap.Change{Path: "pkg/new.go", Status: diffmap.StatusAdded}, true},
		{"M\tmain.go", diffmap.Change{Path: "main.go", Status: diffmap.StatusModified}, true},
		{"D\told.go", diffmap.Change{Path: "old.go", Status: diffmap.StatusDeleted}, true},
		{"R095\told/name.go\tnew/name.go", diffmap.Change{Path: "new/name.go", OldPath: "old/name.go", Status: diffmap.StatusRenamed}, true},
		{"C080\ta.go\tb.go", diffmap.Change{Path: "b.go", Status: diffmap.StatusModified}, true},
		{"", diffmap.Change{}, false},
		{"R100", diffmap.Change{}, false},
	}
	for _, tt := range tests {
		got, ok := parseNameStatus(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}
}

func TestParseNumstat(t *testing.T) {
	out := "10\t2\tmain.go\n-\t-\tlogo.png\n3\t0\tpkg/{old => new}/x.go\n1\t1\told.go => renamed.go\n"
	counts := parseNumstat(out)

	assert.Equal(t, lineCounts{10, 2}, counts["main.go"])
	assert.Equal(t, lineCounts{0, 0}, counts["logo.png"], "binary counts stay zero")
	assert.Equal(t, lineCounts{3, 0}, counts["pkg/new/x.go"], "brace rename resolves to new path")
	assert.Equal(t, lineCounts{1, 1}, counts["renamed.go"], "plain rename resolves to new path")
}

func TestFilterExcluded(t *testing.T) {
	diff := `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
+import "fmt"
diff --git a/vendor/lib.go b/vendor/lib.go
--- a/vendor/lib.go
+++ b/vendor/lib.go
@@ -1,3 +1,4 @@
+package lib
`
	result := filterExcluded(diff, []string{"vendor/**"})
	assert.NotContains(t, result, "vendor/lib.go")
	assert.Contains(t, result, "main.go")
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"vendor/lib.go", []string{"vendor/**"}, true},
		{"main.go", []string{"vendor/**"}, false},
		{"foo.gen.go", []string{"**/*.gen.go"}, true},
		{"pkg/foo.gen.go", []string{"**/*.gen.go"}, true},
		{"main.go", []string{"*.go"}, true},
		{"main.go", nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesAny(tt.path, tt.patterns), "%s vs %v", tt.path, tt.patterns)
	}
}

func TestSplitDiffSections(t *testing.T) {
	diff := "diff --git a/a.go b/a.go\n+++ b/a.go\n+line1\ndiff --git a/b.go b/b.go\n+++ b/b.go\n+line2\n"
	sections := splitDiffSections(diff)
	require.Len(t, sections, 2)
	assert.Contains(t, sections[0], "a.go")
	assert.Contains(t, sections[1], "b.go")
}

// setupTestRepo creates a temp git repo with a main branch and a feature
// branch that diverge, mimicking a pull request.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "command %v failed: %s", args, out)
	}
	write := func(name, content string) {
		t.Helper()
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	run("git", "init")
	run("git", "checkout", "-b", "main")
	write("main.go", "package main\n\nfunc main() {}\n")
	write("util.go", "package main\n\nfunc helper() {}\n")
	run("git", "add", "-A")
	run("git", "commit", "-m", "init")

	run("git", "checkout", "-b", "feature")
	write("main.go", "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hi\") }\n")
	write("pkg/new.go", "package pkg\n")
	run("git", "rm", "-q", "util.go")
	run("git", "add", "-A")
	run("git", "commit", "-m", "feature work")

	// Divergent commit on main: must not appear in the merge-base diff.
	run("git", "checkout", "main")
	write("mainonly.go", "package main\n")
	run("git", "add", "-A")
	run("git", "commit", "-m", "main moved on")
	run("git", "checkout", "feature")

	return dir
}

func mustRef(t *testing.T, s string) validate.RepoRef {
	t.Helper()
	r, err := validate.ParseRepoRef(s)
	require.NoError(t, err)
	return r
}

func TestAcquire(t *testing.T) {
	dir := setupTestRepo(t)
	ctx := context.Background()

	pr, err := Acquire(ctx, mustRef(t, "main"), mustRef(t, "feature"), Options{RepoPath: dir})
	require.NoError(t, err)

	assert.Len(t, pr.Base, 40, "base resolved to a SHA")
	assert.Len(t, pr.Head, 40, "head resolved to a SHA")
	assert.Contains(t, pr.Raw, "main.go")
	assert.Contains(t, pr.Raw, "pkg/new.go")
	assert.NotContains(t, pr.Raw, "mainonly.go", "merge-base diff excludes commits on base after the fork point")
	assert.False(t, pr.Truncated)

	byPath := make(map[string]diffmap.Change)
	for _, ch := range pr.Changes {
		byPath[ch.Path] = ch
	}
	assert.Equal(t, diffmap.StatusModified, byPath["main.go"].Status)
	assert.Equal(t, diffmap.StatusAdded, byPath["pkg/new.go"].Status)
	assert.Equal(t, diffmap.StatusDeleted, byPath["util.go"].Status)
	assert.Positive(t, byPath["main.go"].Added, "numstat counts merged in")
}

func TestAcquire_Exclude(t *testing.T) {
	dir := setupTestRepo(t)

	pr, err := Acquire(context.Background(), mustRef(t, "main"), mustRef(t, "feature"),
		Options{RepoPath: dir, Exclude: []string{"pkg/**"}})
	require.NoError(t, err)

	assert.NotContains(t, pr.Raw, "pkg/new.go")
	for _, ch := range pr.Changes {
		assert.False(t, strings.HasPrefix(ch.Path, "pkg/"), "excluded path in change list: %s", ch.Path)
	}
}

func TestAcquire_Truncation(t *testing.T) {
	dir := setupTestRepo(t)

	pr, err := Acquire(context.Background(), mustRef(t, "main"), mustRef(t, "feature"),
		Options{RepoPath: dir, MaxDiffBytes: 40})
	require.NoError(t, err)
	assert.True(t, pr.Truncated)
	assert.Contains(t, pr.Raw, "truncated")
}

func TestAcquire_UnknownRef(t *testing.T) {
	dir := setupTestRepo(t)

	_, err := Acquire(context.Background(), mustRef(t, "no-such-branch"), mustRef(t, "feature"),
		Options{RepoPath: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving base")
}

func TestMeta(t *testing.T) {
	dir := setupTestRepo(t)

	meta, err := Meta(context.Background(), dir)
	require.NoError(t, err)
	assert.NotEmpty(t, meta.Root)
	assert.Len(t, meta.Head, 40)
	assert.Equal(t, "feature", meta.Branch)
}
