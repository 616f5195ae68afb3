package repositories

import (
	"context"

	"github.com/resonira/voiceagent/domain/entities"
)

// AudioDevice acquires a microphone.
type AudioDevice interface {
	Open(ctx context.Context, sampleRate, frameSize int) (AudioInput, error)
}

// AudioInput is an open microphone stream delivering mono 16-bit frames.
type AudioInput interface {
	Read() ([]int16, error)
	Close() error
}

// AudioPlayer renders synthesized clips.
type AudioPlayer interface {
	Play(ctx context.Context, clip entities.AudioClip) (Playback, error)
}

// Playback is one audio output.
// Started is closed once sound is audibly playing; Done once it has ended or been stopped.
type Playback interface {
	Started() <-chan struct{}
	Done() <-chan struct{}
	Stop()
	Err() error
}
