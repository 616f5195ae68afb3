package repositories

import (
	"context"

	"github.com/resonira/voiceagent/domain/entities"
)

// LargeLanguageModel abstracts any chat-completion backend
type LargeLanguageModel interface {
	// Complete sends the full message list and returns the assistant reply text
	Complete(ctx context.Context, request CompletionRequest) (string, error)
}

// CompletionRequest carries the messages and sampling parameters for one completion
type CompletionRequest struct {
	Messages         []ChatMessage
	Model            string
	Temperature      float32
	MaxTokens        int
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
	Stop             []string
}

// ChatMessage represents a single message in a conversation
type ChatMessage = entities.Message

// Roles of message senders
const (
	UserRole      = entities.RoleUser
	AssistantRole = entities.RoleAssistant
	SystemRole    = entities.RoleSystem
)
