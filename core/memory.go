package core

import "time"

// MaxScore caps the accumulated reinforcement score of a short-term memory.
const MaxScore = 100

// ShortTermMemory is a time-decayed, relevance-scored conversation snippet.
//
// Contract:
//   - Text is an immutable rendered transcript, never re-derived
//   - Score is mutated only by search-time reinforcement and never
//     exceeds MaxScore
//   - Timestamp is the single canonical creation time; legacy field
//     variants are normalized away at the persistence boundary
type ShortTermMemory struct {
	ID             string     `json:"id,omitempty"`
	Text           string     `json:"text"`
	Keywords       []Keyword  `json:"keywords,omitempty"`
	Score          float64    `json:"score"`
	Timestamp      time.Time  `json:"timestamp"`
	ConversationID string     `json:"conversationId"`
	Modalities     []Modality `json:"modalities,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (m ShortTermMemory) Clone() ShortTermMemory {
	clone := m
	if m.Keywords != nil {
		clone.Keywords = make([]Keyword, len(m.Keywords))
		copy(clone.Keywords, m.Keywords)
	}
	clone.Modalities = CloneModalities(m.Modalities)
	return clone
}

// Age returns the non-negative elapsed time since the memory was created.
func (m ShortTermMemory) Age(now time.Time) time.Duration {
	age := now.Sub(m.Timestamp)
	if age < 0 {
		return 0
	}
	return age
}

// LongTermMemory is a trigger-activated permanent record. Name is the
// primary key within a conversation; inserting a colliding name replaces
// the existing record.
type LongTermMemory struct {
	Name           string     `json:"name"`
	Prompt         string     `json:"prompt"`
	Trigger        string     `json:"trigger"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
	CreatedContext string     `json:"createdContext,omitempty"`
	UpdatedContext string     `json:"updatedContext,omitempty"`
	Modalities     []Modality `json:"modalities,omitempty"`
}

// Clone returns a deep copy safe for independent mutation.
func (m LongTermMemory) Clone() LongTermMemory {
	clone := m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		clone.UpdatedAt = &t
	}
	clone.Modalities = CloneModalities(m.Modalities)
	return clone
}
