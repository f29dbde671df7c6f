package core

// KeywordExtractor turns free text into weighted terms. Implementations must
// be pure: no side effects, identical output for identical input.
type KeywordExtractor interface {
	Extract(text string, limit int) []Keyword
}

// ModalityNormalizer converts raw attachment payloads into typed,
// value-copied modality records. The engines only ever read
// Features.Embedding/Tags/Transcript and Metadata contentHash/URI from the
// result.
type ModalityNormalizer interface {
	Normalize(raw []map[string]any) []Modality
}

// DocumentStore persists the two per-conversation memory documents. Loads
// return raw records so the engines can drop malformed entries individually;
// saves accept typed records and apply the durable-format sanitization
// rules. Writes are coalesced; FlushAll must be called before shutdown.
type DocumentStore interface {
	LoadShortTerm(conversationID string) ([]map[string]any, error)
	LoadLongTerm(conversationID string) ([]map[string]any, error)
	SaveShortTerm(conversationID string, records []ShortTermMemory) error
	SaveLongTerm(conversationID string, records []LongTermMemory) error
	FlushAll() error
}
