package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the lifecycle of a persisted conversation
type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusEnded  ConversationStatus = "ended"
)

// ConversationMetadata contains conversation-level metadata
type ConversationMetadata struct {
	Language   string `json:"language" bson:"language"`
	VADProfile string `json:"vad_profile" bson:"vad_profile"`
	Streaming  bool   `json:"streaming" bson:"streaming"`
}

// ConversationRecord is the archived form of one start-to-stop conversation
type ConversationRecord struct {
	ID        string               `json:"id" bson:"_id"`
	StartedAt time.Time            `json:"started_at" bson:"started_at"`
	UpdatedAt time.Time            `json:"updated_at" bson:"updated_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Status    ConversationStatus   `json:"status" bson:"status"`
	Turns     []ConversationTurn   `json:"turns" bson:"turns"`
	Metadata  ConversationMetadata `json:"metadata" bson:"metadata"`
}

// NewConversationRecord creates an active record with a fresh ID
func NewConversationRecord(metadata ConversationMetadata) *ConversationRecord {
	now := time.Now()
	return &ConversationRecord{
		ID:        uuid.NewString(),
		StartedAt: now,
		UpdatedAt: now,
		Status:    ConversationStatusActive,
		Turns:     make([]ConversationTurn, 0),
		Metadata:  metadata,
	}
}

// AddTurn appends a completed turn
func (c *ConversationRecord) AddTurn(turn ConversationTurn) {
	c.Turns = append(c.Turns, turn)
	c.UpdatedAt = time.Now()
}

// End marks the conversation as finished
func (c *ConversationRecord) End(at time.Time) {
	c.EndedAt = &at
	c.UpdatedAt = at
	c.Status = ConversationStatusEnded
}

// Validate validates the record
func (c *ConversationRecord) Validate() error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}

	if c.Status != ConversationStatusActive && c.Status != ConversationStatusEnded {
		return errors.New("invalid conversation status")
	}

	return nil
}
