package validate

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidRef indicates a string is not a safe git reference.
var ErrInvalidRef = errors.New("invalid git reference")

// ErrUnsafePath indicates a string is not a safe repository-relative path.
var ErrUnsafePath = errors.New("unsafe repository path")

// RepoRef is a git reference that has passed safety validation.
// The only way to obtain one is ParseRepoRef; code accepting a RepoRef
// never needs to re-validate.
type RepoRef struct {
	ref string
}

// ParseRepoRef validates s as a git reference safe to pass to a git
// subprocess. It rejects empty strings, option-like strings, traversal
// sequences, and characters git itself forbids in refnames.
func ParseRepoRef(s string) (RepoRef, error) {
	if s == "" {
		return RepoRef{}, fmt.Errorf("%w: empty", ErrInvalidRef)
	}
	if strings.HasPrefix(s, "-") {
		return RepoRef{}, fmt.Errorf("%w: %q starts with '-'", ErrInvalidRef, s)
	}
	if strings.Contains(s, "..") {
		// Revision ranges are composed from already-validated refs, never
		// parsed as a single ref.
		return RepoRef{}, fmt.Errorf("%w: %q contains '..'", ErrInvalidRef, s)
	}
	if strings.HasSuffix(s, ".lock") || strings.HasSuffix(s, "/") || strings.HasSuffix(s, ".") {
		return RepoRef{}, fmt.Errorf("%w: %q has forbidden suffix", ErrInvalidRef, s)
	}
	if strings.Contains(s, "@{") || s == "@" {
		return RepoRef{}, fmt.Errorf("%w: %q uses reflog syntax", ErrInvalidRef, s)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return RepoRef{}, fmt.Errorf("%w: control character in ref", ErrInvalidRef)
		}
		if strings.ContainsRune(" ~^:?*[\\", r) {
			return RepoRef{}, fmt.Errorf("%w: %q contains %q", ErrInvalidRef, s, r)
		}
	}
	if strings.Contains(s, "//") {
		return RepoRef{}, fmt.Errorf("%w: %q contains '//'", ErrInvalidRef, s)
	}
	return RepoRef{ref: s}, nil
}

// IsRepoRef reports whether s would parse as a RepoRef. Defined strictly
// as "ParseRepoRef succeeds" so the guard and the parser cannot drift.
func IsRepoRef(s string) bool {
	_, err := ParseRepoRef(s)
	return err == nil
}

// String returns the validated reference.
func (r RepoRef) String() string { return r.ref }

// RelPath is a normalized repository-relative file path that has passed
// safety validation: forward slashes, no traversal, no leading slash.
type RelPath struct {
	path string
}

// ParseRelPath validates and normalizes s as a repository-relative path.
func ParseRelPath(s string) (RelPath, error) {
	if s == "" {
		return RelPath{}, fmt.Errorf("%w: empty", ErrUnsafePath)
	}
	if strings.ContainsRune(s, 0) {
		return RelPath{}, fmt.Errorf("%w: NUL byte in path", ErrUnsafePath)
	}
	s = strings.ReplaceAll(s, "\\", "/")
	if strings.HasPrefix(s, "/") {
		return RelPath{}, fmt.Errorf("%w: %q is absolute", ErrUnsafePath, s)
	}
	cleaned := path.Clean(s)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return RelPath{}, fmt.Errorf("%w: %q escapes the repository", ErrUnsafePath, s)
	}
	if cleaned == "." {
		return RelPath{}, fmt.Errorf("%w: %q resolves to the repository root", ErrUnsafePath, s)
	}
	return RelPath{path: cleaned}, nil
}

// IsRelPath reports whether s would parse as a RelPath. Defined strictly
// as "ParseRelPath succeeds".
func IsRelPath(s string) bool {
	_, err := ParseRelPath(s)
	return err == nil
}

// String returns the normalized path.
func (p RelPath) String() string { return p.path }
