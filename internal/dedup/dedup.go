package dedup

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/armada/internal/diffmap"
	"github.com/dshills/armada/internal/finding"
	"github.com/dshills/armada/internal/validate"
)

// messagePrefixLen bounds how much of the normalized message contributes
// to the fingerprint, so trailing detail differences don't defeat dedup.
const messagePrefixLen = 64

// MarkerAgent identifies the synthetic truncation marker entry.
const MarkerAgent = "armada"

// Limits bounds the reportable output.
type Limits struct {
	MaxComments    int
	MaxAnnotations int
}

// Output is the final reportable finding set.
type Output struct {
	Complete []finding.Finding `json:"complete"`
	Partial  []finding.Finding `json:"partial"`
	// TruncatedComplete and TruncatedPartial count findings dropped by
	// the output bounds; when non-zero the corresponding collection ends
	// with a deterministic "+N more" marker entry.
	TruncatedComplete int `json:"truncatedComplete,omitempty"`
	TruncatedPartial  int `json:"truncatedPartial,omitempty"`
}

// Process runs the full normalize/fingerprint/dedup/sort/bound sequence
// on both collections. The collections never interact: a finding with an
// identical fingerprint in both appears once in each.
func Process(complete, partial []finding.Finding, d *diffmap.Diff, lim Limits) Output {
	complete = Normalize(complete, d)
	partial = Normalize(partial, d)

	complete = DedupComplete(complete)
	partial = DedupPartial(partial)

	Sort(complete)
	Sort(partial)

	var out Output
	out.Complete, out.TruncatedComplete = bound(complete, lim.MaxComments)
	out.Partial, out.TruncatedPartial = bound(partial, lim.MaxAnnotations)
	return out
}

// Normalize maps findings onto canonical diff coordinates and assigns
// fingerprints. A finding on a file outside the canonical diff is
// dropped: agents only ever analyzed changed files, so such a path is
// either hallucinated or unsafe. A finding on a diff file whose line is
// not visible is demoted to file level rather than discarded. Paths are
// validated and normalized repo-relative before any diff lookup.
func Normalize(findings []finding.Finding, d *diffmap.Diff) []finding.Finding {
	var r *diffmap.Resolver
	if d != nil {
		r = d.Resolver()
	}
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		rp, err := validate.ParseRelPath(f.File)
		if err != nil {
			continue
		}
		f.File = rp.String()
		if d != nil && !d.HasFile(f.File) {
			continue
		}
		if f.Line > 0 && r != nil {
			if _, visible := r.Position(f.File, f.Line); !visible {
				f.Line = 0
				f.EndLine = 0
			}
		}
		f.Fingerprint = Fingerprint(f)
		out = append(out, f)
	}
	return out
}

// Fingerprint computes the stable dedup identity of a finding from
// (file, line-or-0, ruleId-or-"", normalized message prefix). It is
// deliberately independent of severity, agent, and suggestion text.
func Fingerprint(f finding.Finding) string {
	msg := normalizeMessage(f.Message)
	material := fmt.Sprintf("%s:%d:%s:%s", f.File, f.Line, f.RuleID, msg)
	h := sha256.Sum256([]byte(material))
	return fmt.Sprintf("%x", h[:8])
}

func normalizeMessage(msg string) string {
	msg = strings.ToLower(strings.TrimSpace(msg))
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > messagePrefixLen {
		msg = msg[:messagePrefixLen]
	}
	return msg
}

// DedupComplete collapses complete findings sharing a fingerprint,
// regardless of source agent: two tools flagging the identical issue
// merge, with the contributing agent ids recorded on the survivor.
func DedupComplete(findings []finding.Finding) []finding.Finding {
	byFP := make(map[string]int)
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		if idx, seen := byFP[f.Fingerprint]; seen {
			merged := &out[idx]
			if !containsAgent(merged.Agents, f.Agent) {
				merged.Agents = append(merged.Agents, f.Agent)
				sort.Strings(merged.Agents)
			}
			continue
		}
		if len(f.Agents) == 0 {
			f.Agents = []string{f.Agent}
		}
		byFP[f.Fingerprint] = len(out)
		out = append(out, f)
	}
	return out
}

// DedupPartial collapses partial findings sharing (agent, fingerprint),
// preferring the first-seen message. Partial findings stay agent-scoped
// so operators can see which agent's failure produced which signal.
func DedupPartial(findings []finding.Finding) []finding.Finding {
	seen := make(map[string]bool)
	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		key := f.Agent + "\x00" + f.Fingerprint
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// Sort orders findings deterministically: severity descending, then file
// path ascending, then line ascending, then agent id ascending.
func Sort(findings []finding.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := finding.SeverityRank(findings[i].Severity), finding.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Agent < findings[j].Agent
	})
}

// bound truncates to max entries (0 = unlimited), appending a
// deterministic marker entry in place of the dropped tail.
func bound(findings []finding.Finding, max int) ([]finding.Finding, int) {
	if max <= 0 || len(findings) <= max {
		return findings, 0
	}
	dropped := len(findings) - max
	out := append([]finding.Finding{}, findings[:max]...)
	out = append(out, marker(dropped, findings[0].Provenance))
	return out, dropped
}

func marker(dropped int, prov finding.Provenance) finding.Finding {
	return finding.Finding{
		Severity:   finding.SeverityInfo,
		Message:    fmt.Sprintf("+%d more findings, see full log", dropped),
		Agent:      MarkerAgent,
		Provenance: prov,
	}
}

func containsAgent(agents []string, id string) bool {
	for _, a := range agents {
		if a == id {
			return true
		}
	}
	return false
}
