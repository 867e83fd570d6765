// Package agent defines the contract between the pipeline orchestrator
// and pluggable analysis workers: the Agent interface, the three-variant
// invocation Result, and the RunContext handed to every invocation.
package agent
