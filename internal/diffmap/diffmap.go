package diffmap

import (
	"fmt"
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Status describes how a file changed.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusRenamed  Status = "renamed"
)

// Change is one entry from the file-change list supplied alongside the raw
// diff (path, status, add/delete counts).
type Change struct {
	Path    string
	OldPath string
	Status  Status
	Added   int
	Deleted int
}

// Hunk is one normalized diff hunk.
type Hunk struct {
	OldStart int `json:"oldStart"`
	OldLines int `json:"oldLines"`
	NewStart int `json:"newStart"`
	NewLines int `json:"newLines"`
}

// File is the normalized representation of one changed file. Findings are
// always anchored to Path (the new path for renames).
type File struct {
	Path        string `json:"path"`
	OldPath     string `json:"oldPath,omitempty"`
	Status      Status `json:"status"`
	Added       int    `json:"added"`
	Deleted     int    `json:"deleted"`
	Hunks       []Hunk `json:"hunks,omitempty"`
	Unparseable bool   `json:"unparseable,omitempty"`

	// body retains the parsed hunks long enough to build the
	// line-resolution index; not part of the serialized model.
	body []*godiff.Hunk
}

// Diff is the canonical model of one pull-request diff plus the
// line-resolution index built from it.
type Diff struct {
	Files []File
	// NotAnalyzed lists files excluded by the changed-line ceiling,
	// recorded rather than silently dropped.
	NotAnalyzed []string

	positions map[string]map[int]int
	files     map[string]*File
}

// Canonicalize parses raw unified-diff text into the canonical file model
// and builds the line-resolution index. A malformed file section marks
// that file unparseable and continues; it never aborts the whole diff.
//
// When the total changed lines across all files exceed maxChangedLines
// (0 = no ceiling), files are kept in alphabetical order until the ceiling
// is hit and the rest are recorded in NotAnalyzed.
func Canonicalize(raw string, changes []Change, maxChangedLines int) (*Diff, error) {
	if strings.TrimSpace(raw) == "" && len(changes) == 0 {
		return nil, fmt.Errorf("empty diff")
	}

	byPath := make(map[string]Change, len(changes))
	for _, ch := range changes {
		byPath[ch.Path] = ch
	}

	d := &Diff{
		positions: make(map[string]map[int]int),
		files:     make(map[string]*File),
	}

	for _, section := range splitSections(raw) {
		f := parseSection(section, byPath)
		if f == nil {
			continue
		}
		d.Files = append(d.Files, *f)
	}

	sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Path < d.Files[j].Path })

	if maxChangedLines > 0 {
		d.truncate(maxChangedLines)
	}

	for i := range d.Files {
		f := &d.Files[i]
		d.files[f.Path] = f
		if f.Unparseable || f.Status == StatusDeleted {
			continue
		}
		d.indexFile(f.Path, f.body)
	}

	return d, nil
}

// HasFile reports whether path is one of the analyzed files in the diff.
func (d *Diff) HasFile(path string) bool {
	_, ok := d.files[path]
	return ok
}

// FileByPath returns the canonical file for path, if present.
func (d *Diff) FileByPath(path string) (File, bool) {
	f, ok := d.files[path]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// LimitFiles caps the analyzed file count, moving the alphabetical tail
// into NotAnalyzed and dropping its line index.
func (d *Diff) LimitFiles(max int) {
	if max <= 0 || len(d.Files) <= max {
		return
	}
	for _, f := range d.Files[max:] {
		d.NotAnalyzed = append(d.NotAnalyzed, f.Path)
		delete(d.files, f.Path)
		delete(d.positions, f.Path)
	}
	d.Files = d.Files[:max]
}

func (d *Diff) truncate(maxChangedLines int) {
	total := 0
	kept := d.Files[:0]
	for _, f := range d.Files {
		changed := f.Added + f.Deleted
		if total+changed > maxChangedLines && len(kept) > 0 {
			d.NotAnalyzed = append(d.NotAnalyzed, f.Path)
			continue
		}
		total += changed
		kept = append(kept, f)
	}
	d.Files = kept
}

// splitSections splits a multi-file unified diff on "diff --git" markers.
// A diff without the git header line is treated as a single section.
func splitSections(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var sections []string
	var current strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "diff --git") && current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if current.Len() > 0 && strings.TrimSpace(current.String()) != "" {
		sections = append(sections, current.String())
	}
	return sections
}

// parseSection parses one file's diff section. On parse failure the file
// is returned with Unparseable set so that file-level findings remain
// possible while line-anchored ones do not.
func parseSection(section string, byPath map[string]Change) *File {
	fd, err := godiff.ParseFileDiff([]byte(section))
	if err != nil {
		path := pathFromSection(section)
		if path == "" {
			return nil
		}
		f := &File{Path: path, Status: StatusModified, Unparseable: true}
		applyChange(f, byPath)
		return f
	}

	newName := stripPrefix(fd.NewName)
	origName := stripPrefix(fd.OrigName)

	f := &File{Path: newName, Status: StatusModified}
	switch {
	case fd.OrigName == "/dev/null":
		f.Status = StatusAdded
	case fd.NewName == "/dev/null":
		f.Status = StatusDeleted
		f.Path = origName
	case origName != newName:
		f.Status = StatusRenamed
		f.OldPath = origName
	}

	for _, h := range fd.Hunks {
		f.Hunks = append(f.Hunks, Hunk{
			OldStart: int(h.OrigStartLine),
			OldLines: int(h.OrigLines),
			NewStart: int(h.NewStartLine),
			NewLines: int(h.NewLines),
		})
		for _, line := range strings.Split(strings.TrimSuffix(string(h.Body), "\n"), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				f.Added++
			case strings.HasPrefix(line, "-"):
				f.Deleted++
			}
		}
		f.body = append(f.body, h)
	}

	applyChange(f, byPath)
	return f
}

// applyChange overlays authoritative counts and status from the
// file-change list when the file appears there.
func applyChange(f *File, byPath map[string]Change) {
	ch, ok := byPath[f.Path]
	if !ok {
		return
	}
	if ch.Status != "" {
		f.Status = ch.Status
	}
	if ch.OldPath != "" {
		f.OldPath = ch.OldPath
	}
	if ch.Added > 0 || ch.Deleted > 0 {
		f.Added = ch.Added
		f.Deleted = ch.Deleted
	}
}

func pathFromSection(section string) string {
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(line, "+++ b/") {
			return strings.TrimPrefix(line, "+++ b/")
		}
		if strings.HasPrefix(line, "--- a/") {
			return strings.TrimPrefix(line, "--- a/")
		}
	}
	return ""
}

func stripPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
