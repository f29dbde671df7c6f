package core

// Conversation roles recognized by the engines. Unknown roles are carried
// through unchanged and scored with a neutral weight.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationContext carries the live conversation data handed to search
// and trigger evaluation. It is constructed per call and never persisted.
type ConversationContext struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversationId"`
	Participants   []string  `json:"participants,omitempty"`
}
