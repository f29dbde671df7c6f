// Package manager caches per-conversation engine pairs behind a bounded
// LRU and fronts them with the high-level memory operations. Engines are
// hydrated lazily from the document store on first use; evicted or idle
// entries are snapshotted back before they are dropped.
package manager
