// Package diffmap turns raw unified-diff text into a normalized file and
// hunk model plus a line-resolution index used to anchor findings on
// lines actually visible in the diff.
//
// Parsing is per-file: a malformed section marks only that file
// unparseable (file-level findings remain possible) and never aborts the
// rest of the diff. Renamed files carry both paths and anchor to the new
// one; deleted files produce no new-line mappings. When the total changed
// lines exceed a configured ceiling, files are kept in alphabetical order
// and the excess is recorded as not analyzed.
package diffmap
