package modality

import (
	"github.com/recallkit/recallkit/core"
)

// Normalizer is the default modality normalizer. It tolerates loosely typed
// payloads: embeddings may arrive as []float64 or []any of numbers, tags as
// []string or []any of strings; unusable values are dropped silently rather
// than failing the whole attachment.
type Normalizer struct{}

var _ core.ModalityNormalizer = (*Normalizer)(nil)

// NewNormalizer constructs the default normalizer.
func NewNormalizer() *Normalizer { return &Normalizer{} }

// Normalize converts raw attachment records into typed modalities. Records
// without a type are skipped; everything else is value-copied.
func (n *Normalizer) Normalize(raw []map[string]any) []core.Modality {
	if len(raw) == 0 {
		return nil
	}
	modalities := make([]core.Modality, 0, len(raw))
	for _, record := range raw {
		typ, _ := record["type"].(string)
		if typ == "" {
			continue
		}
		m := core.Modality{Type: typ}
		if uri, ok := record["uri"].(string); ok {
			m.URI = uri
		} else if url, ok := record["url"].(string); ok {
			// legacy payloads use "url"
			m.URI = url
		}
		if features, ok := record["features"].(map[string]any); ok {
			m.Features = normalizeFeatures(features)
		}
		if metadata, ok := record["metadata"].(map[string]any); ok {
			m.Metadata = make(map[string]any, len(metadata))
			for k, v := range metadata {
				m.Metadata[k] = v
			}
		}
		modalities = append(modalities, m)
	}
	if len(modalities) == 0 {
		return nil
	}
	return modalities
}

func normalizeFeatures(raw map[string]any) *core.ModalityFeatures {
	f := &core.ModalityFeatures{}
	if embedding := toFloatSlice(raw["embedding"]); len(embedding) > 0 {
		f.Embedding = embedding
	}
	if tags := toStringSlice(raw["tags"]); len(tags) > 0 {
		f.Tags = tags
	}
	if transcript, ok := raw["transcript"].(string); ok {
		f.Transcript = transcript
	}
	if f.Embedding == nil && f.Tags == nil && f.Transcript == "" {
		return nil
	}
	return f
}

func toFloatSlice(v any) []float64 {
	switch vals := v.(type) {
	case []float64:
		out := make([]float64, len(vals))
		copy(out, vals)
		return out
	case []any:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			default:
				return nil
			}
		}
		return out
	}
	return nil
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		copy(out, vals)
		return out
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				continue
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}
