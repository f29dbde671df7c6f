// Package core provides the foundational domain types and contracts used by
// RecallKit. It defines the core abstractions for:
//
//   - Keywords (weighted terms with case-insensitive identity)
//   - Messages and ConversationContext (ephemeral per-call conversation data)
//   - Modalities (typed attachments carrying embeddings, tags, transcripts)
//   - ShortTermMemory / LongTermMemory records
//   - Pluggable collaborators: keyword extraction, modality normalization
//     and durable per-conversation document storage
//
// The package intentionally keeps implementation concerns (persistence,
// scoring engines, sandboxing) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
