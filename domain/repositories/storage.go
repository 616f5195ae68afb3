package repositories

import (
	"context"
	"time"

	"github.com/resonira/voiceagent/domain/entities"
)

// TranscriptRepository archives conversations and their turns
type TranscriptRepository interface {
	CreateConversation(ctx context.Context, record *entities.ConversationRecord) error
	AppendTurn(ctx context.Context, conversationID string, turn entities.ConversationTurn) error
	EndConversation(ctx context.Context, conversationID string, endedAt time.Time) error
	GetConversation(ctx context.Context, conversationID string) (*entities.ConversationRecord, error)
}
