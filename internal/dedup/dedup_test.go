package dedup

import (
	"strings"
	"testing"

	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resolverDiff = `diff --git a/pkg/server.go b/pkg/server.go
index 1111111..2222222 100644
--- a/pkg/server.go
+++ b/pkg/server.go
@@ -5,3 +5,4 @@ func main() {
 	a := 1
+	b := 2
 	use(a)
`

func testDiff(t *testing.T) *diffmap.Diff {
	t.Helper()
	d, err := diffmap.Canonicalize(resolverDiff, nil, 0)
	require.NoError(t, err)
	return d
}

func TestFingerprintStability(t *testing.T) {
	a := finding.Finding{File: "pkg/server.go", Line: 6, RuleID: "G101", Message: "Hardcoded credential detected"}
	b := finding.Finding{File: "pkg/server.go", Line: 6, RuleID: "G101", Message: "  hardcoded   CREDENTIAL detected "}
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "whitespace and case do not change identity")

	// Severity, agent, suggestion are not part of the identity.
	a.Severity = finding.SeverityError
	a.Agent = "semgrep"
	a.Suggestion = "use a secret manager"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := a
	c.Line = 7
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c), "line changes identity")

	d := a
	d.RuleID = "G102"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d), "rule changes identity")
}

func TestFingerprintMessagePrefix(t *testing.T) {
	long := strings.Repeat("x", 80)
	a := finding.Finding{File: "f.go", Message: long + " tail one"}
	b := finding.Finding{File: "f.go", Message: long + " tail two"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "only the message prefix contributes")
}

func TestNormalizeDemotesInvisibleLines(t *testing.T) {
	d := testDiff(t)
	in := []finding.Finding{
		{File: "pkg/server.go", Line: 6, Message: "on added line"},
		{File: "pkg/server.go", Line: 100, EndLine: 101, Message: "outside the diff"},
	}
	out := Normalize(in, d)
	require.Len(t, out, 2)
	assert.Equal(t, 6, out[0].Line, "visible line kept")
	assert.Equal(t, 0, out[1].Line, "invisible line demoted to file level")
	assert.Equal(t, 0, out[1].EndLine)
	for _, f := range out {
		assert.NotEmpty(t, f.Fingerprint)
	}
}

func TestNormalizeDropsFilesOutsideDiff(t *testing.T) {
	d := testDiff(t)
	in := []finding.Finding{
		{File: "pkg/server.go", Line: 6, Message: "kept"},
		{File: "totally/absent.go", Line: 3, Message: "hallucinated path", Agent: "llm-review"},
		{File: "pkg/other.go", Message: "file-level but not in diff"},
	}
	out := Normalize(in, d)
	require.Len(t, out, 1, "only files present in the canonical diff are emitted")
	assert.Equal(t, "pkg/server.go", out[0].File)
}

func TestNormalizeRejectsUnsafePaths(t *testing.T) {
	in := []finding.Finding{
		{File: "../etc/passwd", Line: 1, Message: "traversal"},
		{File: "/etc/passwd", Message: "absolute"},
		{File: "", Message: "empty"},
		{File: `pkg\server.go`, Line: 6, Message: "backslashes normalized"},
	}
	out := Normalize(in, testDiff(t))
	require.Len(t, out, 1)
	assert.Equal(t, "pkg/server.go", out[0].File)
}

func TestDedupCompleteMergesAcrossAgents(t *testing.T) {
	fs := Normalize([]finding.Finding{
		{File: "a.go", Line: 1, Message: "nil deref", Agent: "semgrep", Severity: finding.SeverityError},
		{File: "a.go", Line: 1, Message: "nil deref", Agent: "llm-review", Severity: finding.SeverityError},
		{File: "a.go", Line: 2, Message: "nil deref", Agent: "semgrep", Severity: finding.SeverityError},
	}, nil)
	out := DedupComplete(fs)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"llm-review", "semgrep"}, out[0].Agents, "contributing agents recorded sorted")
	assert.Equal(t, "semgrep", out[0].Agent, "first-seen finding survives")
}

func TestDedupPartialIsAgentScoped(t *testing.T) {
	fs := Normalize([]finding.Finding{
		{File: "a.go", Line: 1, Message: "nil deref", Agent: "semgrep"},
		{File: "a.go", Line: 1, Message: "nil deref", Agent: "semgrep"},
		{File: "a.go", Line: 1, Message: "nil deref", Agent: "llm-review"},
	}, nil)
	out := DedupPartial(fs)
	assert.Len(t, out, 2, "same fingerprint from different agents both survive in partial")
}

func TestCollectionsNeverCrossDedup(t *testing.T) {
	complete := []finding.Finding{{File: "a.go", Line: 1, Message: "nil deref", Agent: "semgrep", Provenance: finding.ProvenanceComplete}}
	partial := []finding.Finding{{File: "a.go", Line: 1, Message: "nil deref", Agent: "llm-review", Provenance: finding.ProvenancePartial}}
	out := Process(complete, partial, nil, Limits{})
	assert.Len(t, out.Complete, 1)
	assert.Len(t, out.Partial, 1, "identical fingerprint appears once per collection")
	assert.Equal(t, out.Complete[0].Fingerprint, out.Partial[0].Fingerprint)
}

func TestSortOrdering(t *testing.T) {
	fs := []finding.Finding{
		{Severity: finding.SeverityInfo, File: "a.go", Line: 1, Agent: "x"},
		{Severity: finding.SeverityError, File: "b.go", Line: 9, Agent: "x"},
		{Severity: finding.SeverityError, File: "a.go", Line: 9, Agent: "y"},
		{Severity: finding.SeverityError, File: "a.go", Line: 9, Agent: "x"},
		{Severity: finding.SeverityError, File: "a.go", Line: 2, Agent: "x"},
		{Severity: finding.SeverityWarning, File: "a.go", Line: 1, Agent: "x"},
	}
	Sort(fs)
	assert.Equal(t, finding.SeverityError, fs[0].Severity)
	assert.Equal(t, 2, fs[0].Line)
	assert.Equal(t, "x", fs[1].Agent, "agent breaks the final tie")
	assert.Equal(t, "y", fs[2].Agent)
	assert.Equal(t, "b.go", fs[3].File)
	assert.Equal(t, finding.SeverityWarning, fs[4].Severity)
	assert.Equal(t, finding.SeverityInfo, fs[5].Severity)
}

func TestBoundAppendsMarker(t *testing.T) {
	var fs []finding.Finding
	for i := 0; i < 5; i++ {
		fs = append(fs, finding.Finding{File: "a.go", Line: i + 1, Message: "m", Agent: "semgrep", Provenance: finding.ProvenanceComplete})
	}
	out := Process(fs, nil, nil, Limits{MaxComments: 3})
	require.Len(t, out.Complete, 4, "3 findings plus the marker")
	assert.Equal(t, 2, out.TruncatedComplete)
	m := out.Complete[3]
	assert.Equal(t, MarkerAgent, m.Agent)
	assert.Equal(t, "+2 more findings, see full log", m.Message)
}

func TestProcessIdempotent(t *testing.T) {
	d := testDiff(t)
	in := []finding.Finding{
		{File: "pkg/server.go", Line: 6, Message: "dup", Agent: "a", Severity: finding.SeverityWarning},
		{File: "pkg/server.go", Line: 6, Message: "dup", Agent: "b", Severity: finding.SeverityWarning},
		{File: "pkg/server.go", Line: 99, Message: "demoted", Agent: "a", Severity: finding.SeverityError},
	}
	first := Process(in, nil, d, Limits{})
	second := Process(first.Complete, first.Partial, d, Limits{})
	assert.Equal(t, first.Complete, second.Complete, "processing is idempotent")
}
