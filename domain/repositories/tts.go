package repositories

import (
	"context"

	"github.com/resonira/voiceagent/domain/entities"
)

type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (entities.AudioClip, error)
}
