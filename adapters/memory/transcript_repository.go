package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

// TranscriptRepository keeps conversations in process memory.
// Records are copied on the way in and out.
type TranscriptRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.ConversationRecord
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository creates an empty store.
func NewTranscriptRepository() *TranscriptRepository {
	return &TranscriptRepository{
		conversations: make(map[string]*entities.ConversationRecord),
	}
}

func (m *TranscriptRepository) CreateConversation(ctx context.Context, record *entities.ConversationRecord) error {
	if record == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[record.ID]; exists {
		return fmt.Errorf("conversation %s already exists", record.ID)
	}
	m.conversations[record.ID] = copyRecord(record)
	return nil
}

func (m *TranscriptRepository) AppendTurn(ctx context.Context, conversationID string, turn entities.ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.conversations[conversationID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
	}
	record.AddTurn(turn)
	return nil
}

func (m *TranscriptRepository) EndConversation(ctx context.Context, conversationID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.conversations[conversationID]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
	}
	record.End(endedAt)
	return nil
}

func (m *TranscriptRepository) GetConversation(ctx context.Context, conversationID string) (*entities.ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.conversations[conversationID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
	}
	return copyRecord(record), nil
}

// Len returns the number of stored conversations.
func (m *TranscriptRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

func copyRecord(record *entities.ConversationRecord) *entities.ConversationRecord {
	c := *record
	c.Turns = append([]entities.ConversationTurn(nil), record.Turns...)
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		c.EndedAt = &endedAt
	}
	return &c
}
