// Package pipeline orchestrates agent execution across configured passes.
//
// Passes run strictly in order; a pass starts only after every agent in
// the previous pass has settled. Agents within a pass run concurrently,
// capped to protect rate limits. Each pass gets a budget pre-flight:
// a pass the remaining budget cannot cover is skipped whole, with every
// agent recording a "budget exhausted" skip, and the pipeline moves on
// to later (possibly cheaper) passes.
//
// Agent invocations resolve through the result cache, with in-flight
// coalescing so one run never executes the same agent twice. Per-agent
// deadlines are preemptive: the orchestrator stops waiting, drains any
// incremental findings into the partial collection, and abandons the
// runner goroutine rather than trusting it to stop.
package pipeline
