// Package store persists per-conversation memory documents as a pair of
// JSON array files (short_term.json, long_term.json) under a directory
// named after the sanitized conversation id.
//
// Writes are coalesced: a save buffers the serialized document and flushes
// it after a fixed delay; a newer save to the same path replaces the buffer
// and restarts the timer (last-write-wins, not an append log). Transient
// write failures are retried with exponential backoff before being
// surfaced. Disk writes are totally ordered per path, so a retrying older
// write never lands over a newer document. FlushAll drains every buffered
// write synchronously, waits for in-flight retries and must be called on
// shutdown to prevent silent loss.
//
// The on-disk schema is the cross-process interoperability contract:
// records carry one canonical timestamp field, a canonical modality list
// (legacy image fields are folded in at the load boundary) and
// case-insensitively deduplicated keywords.
package store
