package diffmap

import (
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Resolver maps (file, new-line) pairs to positions within the file's
// diff. Only lines visible in the diff resolve: added and context lines.
// Deleted files and unparseable files produce no mappings.
type Resolver struct {
	positions map[string]map[int]int
}

// Resolver returns the line-resolution index built during Canonicalize.
func (d *Diff) Resolver() *Resolver {
	return &Resolver{positions: d.positions}
}

// Position returns the diff position for newLine in file. The position is
// the 1-based count of patch lines below the file's first hunk header,
// with subsequent hunk headers included in the count. The second return
// is false when the line is not visible in the diff.
func (r *Resolver) Position(file string, newLine int) (int, bool) {
	lines, ok := r.positions[file]
	if !ok {
		return 0, false
	}
	pos, ok := lines[newLine]
	return pos, ok
}

// indexFile walks a file's hunks, tracking the new-line counter per
// +/-/context marker and recording a diff position for every added or
// context line.
func (d *Diff) indexFile(path string, hunks []*godiff.Hunk) {
	if len(hunks) == 0 {
		return
	}
	index := make(map[int]int)
	pos := 0
	for i, h := range hunks {
		if i > 0 {
			pos++ // hunk headers after the first count toward position
		}
		newLine := int(h.NewStartLine)
		body := strings.TrimSuffix(string(h.Body), "\n")
		if body == "" {
			continue
		}
		for _, line := range strings.Split(body, "\n") {
			pos++
			switch {
			case strings.HasPrefix(line, "+"):
				index[newLine] = pos
				newLine++
			case strings.HasPrefix(line, "-"):
				// old-file line only; new-line counter does not advance
			case strings.HasPrefix(line, "\\"):
				// "\ No newline at end of file"
			default:
				index[newLine] = pos
				newLine++
			}
		}
	}
	d.positions[path] = index
}
