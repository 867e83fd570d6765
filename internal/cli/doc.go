// Package cli wires the cobra command tree: run, config, cache, version.
//
// Exit codes are part of the CI contract: 0 success, 1 gate failed,
// 2 usage or configuration error, 3 provider authentication failure,
// 4 runtime error. A run that fails before the pipeline still emits a
// parseable report on stdout.
package cli
