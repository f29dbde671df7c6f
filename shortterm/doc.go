// Package shortterm implements the time-decayed, relevance-scored
// short-term memory engine: hydration from raw persisted records,
// keyword/vector relevance scoring, temporal-diversity-constrained top-k
// selection with weighted random flashbacks, search-time reinforcement and
// retention-floor cleanup.
//
// One Engine instance serves one conversation and guards its in-memory
// records with a mutex; concurrent mutating calls on the same conversation
// are serialized per call but not ordered across callers.
package shortterm
