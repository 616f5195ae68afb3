package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
)

// TestTranscriptRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestTranscriptRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()

	client, err := NewClient(ctx, Config{URI: mongoURI, Database: "voiceagent_test"}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Close(ctx)
	defer client.Database().Drop(ctx)

	repo := client.Transcripts()

	t.Run("CreateAppendEnd", func(t *testing.T) {
		record := entities.NewConversationRecord(entities.ConversationMetadata{Language: "en-US", VADProfile: "desktop"})
		if err := repo.CreateConversation(ctx, record); err != nil {
			t.Fatalf("Failed to create conversation: %v", err)
		}

		turn := entities.NewConversationTurn("What does Resonira build?")
		turn.Complete("We build voice agents.")
		if err := repo.AppendTurn(ctx, record.ID, *turn); err != nil {
			t.Fatalf("Failed to append turn: %v", err)
		}

		endedAt := time.Now().UTC().Truncate(time.Millisecond)
		if err := repo.EndConversation(ctx, record.ID, endedAt); err != nil {
			t.Fatalf("Failed to end conversation: %v", err)
		}

		stored, err := repo.GetConversation(ctx, record.ID)
		if err != nil {
			t.Fatalf("Failed to get conversation: %v", err)
		}
		if len(stored.Turns) != 1 || stored.Turns[0].AssistantText != "We build voice agents." {
			t.Errorf("Unexpected turns %+v", stored.Turns)
		}
		if stored.Status != entities.ConversationStatusEnded || stored.EndedAt == nil {
			t.Errorf("Expected ended conversation, got %+v", stored)
		}
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		if _, err := repo.GetConversation(ctx, "missing"); !errors.Is(err, domain.ErrConversationNotFound) {
			t.Errorf("Expected ErrConversationNotFound, got %v", err)
		}
		turn := entities.NewConversationTurn("hi")
		if err := repo.AppendTurn(ctx, "missing", *turn); !errors.Is(err, domain.ErrConversationNotFound) {
			t.Errorf("Expected ErrConversationNotFound, got %v", err)
		}
	})
}
