package core

// ModalityTypeImage identifies image attachments, the only modality type the
// persistence layer deduplicates by URI / content hash.
const ModalityTypeImage = "image"

// ModalityFeatures holds the derived features the engines actually read:
// the embedding vector for similarity scoring and tags/transcript for
// keyword derivation. All other feature payloads are opaque.
type ModalityFeatures struct {
	Embedding  []float64 `json:"embedding,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
}

// Modality is a typed attachment (image, audio, ...) associated with a
// memory. Modalities are value types: every ingestion path deep-copies them
// so records never alias attachment data.
type Modality struct {
	Type     string            `json:"type"`
	URI      string            `json:"uri,omitempty"`
	Features *ModalityFeatures `json:"features,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// ContentHash returns the metadata content hash, if any. Used together with
// URI for image deduplication.
func (m Modality) ContentHash() string {
	if m.Metadata == nil {
		return ""
	}
	if h, ok := m.Metadata["contentHash"].(string); ok {
		return h
	}
	return ""
}

// Clone returns a deep copy of the modality.
func (m Modality) Clone() Modality {
	clone := Modality{Type: m.Type, URI: m.URI}
	if m.Features != nil {
		f := &ModalityFeatures{Transcript: m.Features.Transcript}
		if m.Features.Embedding != nil {
			f.Embedding = make([]float64, len(m.Features.Embedding))
			copy(f.Embedding, m.Features.Embedding)
		}
		if m.Features.Tags != nil {
			f.Tags = make([]string, len(m.Features.Tags))
			copy(f.Tags, m.Features.Tags)
		}
		clone.Features = f
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// CloneModalities deep-copies a modality slice. A nil input yields nil.
func CloneModalities(modalities []Modality) []Modality {
	if modalities == nil {
		return nil
	}
	clones := make([]Modality, len(modalities))
	for i, m := range modalities {
		clones[i] = m.Clone()
	}
	return clones
}
