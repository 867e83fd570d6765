// Package adapters implements the runnable agents: the built-in pattern
// scanner, the subprocess wrapper for external scanners, and the
// LLM-backed reviewer.
//
// Every adapter returns a tagged result rather than an error: failures
// carry the lifecycle stage they occurred in (setup, execute, parse,
// timeout), and every result carries resource metrics so the run budget
// can be debited regardless of outcome.
package adapters
