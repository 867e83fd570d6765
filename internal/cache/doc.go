// Package cache is a content-addressed store of agent results keyed by a
// stable fingerprint of (PR identity, head commit, config hash, agent id,
// schema version).
//
// The schema version is part of the key, so incompatible historical
// entries are unreachable by construction; retrieval additionally
// validates the payload as a defense against partial writes, treating any
// problem as a miss. Writes are write-temp-then-rename so a concurrent
// process never observes a partial entry. Within a process, concurrent
// requests for the same key coalesce onto one computation via a per-key
// singleflight group.
package cache
