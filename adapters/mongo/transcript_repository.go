package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const conversationsCollection = "conversations"

// TranscriptRepository stores one document per conversation with its turns embedded.
type TranscriptRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository creates the repository and builds its indexes in the background.
func NewTranscriptRepository(db *mongo.Database, logger *zap.Logger) *TranscriptRepository {
	collection := db.Collection(conversationsCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "started_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}}},
		})
		if err != nil {
			logger.Error("Failed to create conversation indexes", zap.Error(err))
		} else {
			logger.Info("Conversation indexes created successfully")
		}
	}()

	return &TranscriptRepository{collection: collection, logger: logger}
}

// CreateConversation inserts a new record.
func (r *TranscriptRepository) CreateConversation(ctx context.Context, record *entities.ConversationRecord) error {
	if record == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	r.logger.Debug("Conversation created", zap.String("conversationID", record.ID))
	return nil
}

// AppendTurn pushes a completed turn onto the conversation.
func (r *TranscriptRepository) AppendTurn(ctx context.Context, conversationID string, turn entities.ConversationTurn) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}

	update := bson.M{
		"$push": bson.M{"turns": turn},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
	}
	return nil
}

// EndConversation marks the conversation ended.
func (r *TranscriptRepository) EndConversation(ctx context.Context, conversationID string, endedAt time.Time) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"status":     entities.ConversationStatusEnded,
			"ended_at":   endedAt,
			"updated_at": endedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
	if err != nil {
		return fmt.Errorf("failed to end conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
	}
	return nil
}

// GetConversation loads a record by id.
func (r *TranscriptRepository) GetConversation(ctx context.Context, conversationID string) (*entities.ConversationRecord, error) {
	var record entities.ConversationRecord
	err := r.collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", conversationID, err)
	}
	return &record, nil
}
