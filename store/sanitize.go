package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/recallkit/recallkit/core"
)

// ephemeralPrefix marks reserved fields that must never reach disk.
const ephemeralPrefix = "_"

// legacy timestamp field names, checked in priority order. Historical
// producers wrote several variants; exactly one canonical "timestamp"
// (short-term) or "createdAt" (long-term) survives normalization.
var (
	legacyShortTermTimestampFields = []string{"timestamp", "time", "created_at", "createdAt", "date"}
	legacyCreatedAtFields          = []string{"createdAt", "created_at", "timestamp", "date"}
	legacyUpdatedAtFields          = []string{"updatedAt", "updated_at"}
)

// --- write-side sanitization -----------------------------------------------

type wireShortTerm struct {
	ID             string          `json:"id,omitempty"`
	Text           string          `json:"text"`
	Keywords       []core.Keyword  `json:"keywords,omitempty"`
	Score          float64         `json:"score"`
	Timestamp      string          `json:"timestamp"`
	ConversationID string          `json:"conversationId"`
	Modalities     []core.Modality `json:"modalities,omitempty"`
}

type wireLongTerm struct {
	Name           string          `json:"name"`
	Prompt         string          `json:"prompt"`
	Trigger        string          `json:"trigger"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
	CreatedContext string          `json:"createdContext,omitempty"`
	UpdatedContext string          `json:"updatedContext,omitempty"`
	Modalities     []core.Modality `json:"modalities,omitempty"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// sanitizeShortTermRecords converts typed records to the durable wire form:
// deduplicated keywords, deduplicated image modalities, stripped ephemeral
// metadata and one canonical RFC3339 timestamp.
func sanitizeShortTermRecords(records []core.ShortTermMemory) []wireShortTerm {
	wire := make([]wireShortTerm, 0, len(records))
	for _, r := range records {
		wire = append(wire, wireShortTerm{
			ID:             r.ID,
			Text:           r.Text,
			Keywords:       core.DeduplicateKeywords(r.Keywords),
			Score:          r.Score,
			Timestamp:      formatTimestamp(r.Timestamp),
			ConversationID: r.ConversationID,
			Modalities:     sanitizeModalities(r.Modalities),
		})
	}
	return wire
}

func sanitizeLongTermRecords(records []core.LongTermMemory) []wireLongTerm {
	wire := make([]wireLongTerm, 0, len(records))
	for _, r := range records {
		w := wireLongTerm{
			Name:           r.Name,
			Prompt:         r.Prompt,
			Trigger:        r.Trigger,
			CreatedAt:      formatTimestamp(r.CreatedAt),
			CreatedContext: r.CreatedContext,
			UpdatedContext: r.UpdatedContext,
			Modalities:     sanitizeModalities(r.Modalities),
		}
		if r.UpdatedAt != nil {
			w.UpdatedAt = formatTimestamp(*r.UpdatedAt)
		}
		wire = append(wire, w)
	}
	return wire
}

// sanitizeModalities deep-copies, strips ephemeral metadata keys and
// deduplicates images by URI or content hash.
func sanitizeModalities(modalities []core.Modality) []core.Modality {
	if len(modalities) == 0 {
		return nil
	}
	out := make([]core.Modality, 0, len(modalities))
	seenURI := map[string]bool{}
	seenHash := map[string]bool{}
	for _, m := range modalities {
		clone := m.Clone()
		if clone.Metadata != nil {
			for k := range clone.Metadata {
				if strings.HasPrefix(k, ephemeralPrefix) {
					delete(clone.Metadata, k)
				}
			}
			if len(clone.Metadata) == 0 {
				clone.Metadata = nil
			}
		}
		if clone.Type == core.ModalityTypeImage {
			hash := clone.ContentHash()
			if (clone.URI != "" && seenURI[clone.URI]) || (hash != "" && seenHash[hash]) {
				continue
			}
			if clone.URI != "" {
				seenURI[clone.URI] = true
			}
			if hash != "" {
				seenHash[hash] = true
			}
		}
		out = append(out, clone)
	}
	return out
}

// --- load-side normalization -----------------------------------------------

// normalizeShortTermDocument parses a short-term JSON array and normalizes
// every record: canonical timestamp, legacy images folded into modalities,
// image dedup, keyword dedup, ephemeral fields stripped. Individual record
// repair never fails; only a non-array document is an error.
func normalizeShortTermDocument(data []byte) ([]map[string]any, error) {
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("short-term document is not a JSON array")
	}
	records := []map[string]any{}
	for _, el := range doc.Array() {
		record, ok := el.Value().(map[string]any)
		if !ok {
			// non-object entries are preserved for the engine to reject
			records = append(records, map[string]any{"_malformed": el.Value()})
			continue
		}
		stripEphemeralKeys(record)
		if ts, ok := legacyTimestamp(el, legacyShortTermTimestampFields); ok {
			for _, field := range legacyShortTermTimestampFields {
				delete(record, field)
			}
			record["timestamp"] = ts
		}
		foldLegacyImages(record)
		record["modalities"] = dedupeRawImageModalities(record["modalities"])
		if record["modalities"] == nil {
			delete(record, "modalities")
		}
		record["keywords"] = dedupeRawKeywords(record["keywords"])
		if record["keywords"] == nil {
			delete(record, "keywords")
		}
		records = append(records, record)
	}
	return records, nil
}

// normalizeLongTermDocument parses a long-term JSON array, normalizing
// createdAt/updatedAt variants and modalities.
func normalizeLongTermDocument(data []byte) ([]map[string]any, error) {
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("long-term document is not a JSON array")
	}
	records := []map[string]any{}
	for _, el := range doc.Array() {
		record, ok := el.Value().(map[string]any)
		if !ok {
			records = append(records, map[string]any{"_malformed": el.Value()})
			continue
		}
		stripEphemeralKeys(record)
		if ts, ok := legacyTimestamp(el, legacyCreatedAtFields); ok {
			for _, field := range legacyCreatedAtFields {
				delete(record, field)
			}
			record["createdAt"] = ts
		}
		if ts, ok := legacyTimestamp(el, legacyUpdatedAtFields); ok {
			for _, field := range legacyUpdatedAtFields {
				delete(record, field)
			}
			record["updatedAt"] = ts
		}
		foldLegacyImages(record)
		record["modalities"] = dedupeRawImageModalities(record["modalities"])
		if record["modalities"] == nil {
			delete(record, "modalities")
		}
		records = append(records, record)
	}
	return records, nil
}

func stripEphemeralKeys(record map[string]any) {
	for k := range record {
		if strings.HasPrefix(k, ephemeralPrefix) {
			delete(record, k)
		}
	}
}

// legacyTimestamp checks the given fields in order and renders the first
// usable value as RFC3339. String values must parse as RFC3339; numeric
// values are treated as millisecond epochs.
func legacyTimestamp(el gjson.Result, fields []string) (string, bool) {
	for _, field := range fields {
		v := el.Get(field)
		if !v.Exists() {
			continue
		}
		switch v.Type {
		case gjson.String:
			if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
				return formatTimestamp(t), true
			}
			if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
				return formatTimestamp(t), true
			}
			// unparsable string: return verbatim so the engine can log
			// and drop the record instead of silently losing the field
			return v.String(), true
		case gjson.Number:
			ms := v.Int()
			return formatTimestamp(time.UnixMilli(ms)), true
		}
	}
	return "", false
}

// foldLegacyImages merges the historical redundant "images" field into the
// canonical modality list.
func foldLegacyImages(record map[string]any) {
	raw, ok := record["images"]
	if !ok {
		return
	}
	delete(record, "images")
	images, ok := raw.([]any)
	if !ok {
		// some producers wrote a lone image instead of a list
		images = []any{raw}
	}
	modalities, _ := record["modalities"].([]any)
	for _, img := range images {
		switch v := img.(type) {
		case string:
			modalities = append(modalities, map[string]any{"type": core.ModalityTypeImage, "uri": v})
		case map[string]any:
			m := map[string]any{"type": core.ModalityTypeImage}
			if uri, ok := v["uri"].(string); ok {
				m["uri"] = uri
			} else if url, ok := v["url"].(string); ok {
				m["uri"] = url
			}
			if hash, ok := v["contentHash"].(string); ok {
				m["metadata"] = map[string]any{"contentHash": hash}
			}
			modalities = append(modalities, m)
		}
	}
	if modalities != nil {
		record["modalities"] = modalities
	}
}

// dedupeRawImageModalities removes image entries whose URI or content hash
// was already seen. Non-image modalities pass through untouched.
func dedupeRawImageModalities(v any) any {
	modalities, ok := v.([]any)
	if !ok || len(modalities) == 0 {
		return nil
	}
	seenURI := map[string]bool{}
	seenHash := map[string]bool{}
	out := make([]any, 0, len(modalities))
	for _, item := range modalities {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if typ, _ := m["type"].(string); typ == core.ModalityTypeImage {
			uri, _ := m["uri"].(string)
			var hash string
			if meta, ok := m["metadata"].(map[string]any); ok {
				hash, _ = meta["contentHash"].(string)
			}
			if (uri != "" && seenURI[uri]) || (hash != "" && seenHash[hash]) {
				continue
			}
			if uri != "" {
				seenURI[uri] = true
			}
			if hash != "" {
				seenHash[hash] = true
			}
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// dedupeRawKeywords collapses case-insensitive duplicate keyword entries
// keeping the maximum weight per distinct word.
func dedupeRawKeywords(v any) any {
	raw, ok := v.([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	keywords := make([]core.Keyword, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		word, _ := m["word"].(string)
		if word == "" {
			continue
		}
		weight, _ := m["weight"].(float64)
		keywords = append(keywords, core.Keyword{Word: word, Weight: weight})
	}
	deduped := core.DeduplicateKeywords(keywords)
	if len(deduped) == 0 {
		return nil
	}
	out := make([]any, len(deduped))
	for i, kw := range deduped {
		out[i] = map[string]any{"word": kw.Word, "weight": kw.Weight}
	}
	return out
}
