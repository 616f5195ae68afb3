package entities

import (
	"time"

	"github.com/google/uuid"
)

// ConversationState is the turn-taking state of a conversation.
type ConversationState int

const (
	StateIdle ConversationState = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateWaiting
)

func (s ConversationState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return "SPEAKING"
	case StateWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// ConversationTurn is one user utterance and the assistant's reply.
type ConversationTurn struct {
	ID            string     `json:"id" bson:"id"`
	UserText      string     `json:"user_text" bson:"user_text"`
	AssistantText string     `json:"assistant_text" bson:"assistant_text"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// NewConversationTurn starts a turn from finalized user text.
func NewConversationTurn(userText string) *ConversationTurn {
	return &ConversationTurn{
		ID:        uuid.NewString(),
		UserText:  userText,
		CreatedAt: time.Now(),
	}
}

// Complete records the assistant reply.
func (t *ConversationTurn) Complete(assistantText string) {
	now := time.Now()
	t.AssistantText = assistantText
	t.CompletedAt = &now
}

// History keeps the most recent turns, evicting the oldest first.
// It is not safe for concurrent use.
type History struct {
	maxTurns int
	turns    []ConversationTurn
}

// NewHistory creates a history holding at most maxTurns turns.
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{maxTurns: maxTurns}
}

// Append adds a completed turn.
func (h *History) Append(turn ConversationTurn) {
	h.turns = append(h.turns, turn)
	if over := len(h.turns) - h.maxTurns; over > 0 {
		h.turns = append([]ConversationTurn(nil), h.turns[over:]...)
	}
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []ConversationTurn {
	return append([]ConversationTurn(nil), h.turns...)
}

// Messages flattens the history into alternating user/assistant messages.
func (h *History) Messages() []Message {
	messages := make([]Message, 0, len(h.turns)*2)
	for _, t := range h.turns {
		messages = append(messages, Message{Role: RoleUser, Content: t.UserText})
		if t.AssistantText != "" {
			messages = append(messages, Message{Role: RoleAssistant, Content: t.AssistantText})
		}
	}
	return messages
}

// RecentMessages returns the last n flattened messages.
func (h *History) RecentMessages(n int) []Message {
	messages := h.Messages()
	if n >= 0 && len(messages) > n {
		return messages[len(messages)-n:]
	}
	return messages
}

// Clear drops every turn.
func (h *History) Clear() {
	h.turns = nil
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a role-tagged line of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
