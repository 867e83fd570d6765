// Package report builds and renders the stable run summary.
//
// The JSON schema is the machine interface CI pipelines depend on: its
// field set only grows, and every run — including one that dies before
// the pipeline starts — emits a parseable report. Text and markdown
// writers render the same model for terminals and PR comments.
//
// The merge-gate decision also lives here: complete findings at or above
// the configured severity fail the gate, partial findings never do, and
// a required pass with no successful agent fails it unconditionally.
package report
