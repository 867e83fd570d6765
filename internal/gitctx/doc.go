// Package gitctx acquires the pull-request diff from a git repository.
//
// Acquisition shells out to git: the merge-base diff (base...head) with
// rename detection gives the same view a pull request shows, and the
// name-status/numstat listings for the same range produce the per-file
// change list. Results are filtered by exclude glob patterns and
// truncated to a configurable maximum byte size.
package gitctx
