package testutil

import (
	"time"

	"github.com/recallkit/recallkit/core"
)

// Messages builds an alternating user/assistant transcript from the given
// contents, starting with the user.
func Messages(contents ...string) []core.Message {
	msgs := make([]core.Message, len(contents))
	for i, content := range contents {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		msgs[i] = core.Message{Role: role, Content: content}
	}
	return msgs
}

// UserMessage builds a single user message.
func UserMessage(content string) []core.Message {
	return []core.Message{{Role: core.RoleUser, Content: content}}
}

// Context builds a conversation context from alternating user/assistant
// contents.
func Context(conversationID string, contents ...string) core.ConversationContext {
	return core.ConversationContext{
		ConversationID: conversationID,
		Messages:       Messages(contents...),
	}
}

// FixedClock returns a clock function pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ImageModality builds an image modality with the given tags and an
// optional embedding.
func ImageModality(uri string, tags []string, embedding []float64) core.Modality {
	return core.Modality{
		Type: core.ModalityTypeImage,
		URI:  uri,
		Features: &core.ModalityFeatures{
			Embedding: embedding,
			Tags:      tags,
		},
	}
}
