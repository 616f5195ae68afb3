package repositories

import (
	"context"

	"github.com/resonira/voiceagent/domain/entities"
)

// SpeechToText abstracts buffered speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts an assembled utterance to text
	TranscribeAudio(ctx context.Context, audio entities.AudioBuffer, config AudioConfig) (Transcript, error)
}

// StreamingSpeechToText opens live recognition streams
type StreamingSpeechToText interface {
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate        int    `json:"sample_rate"`
	Encoding          string `json:"encoding"`
	Language          string `json:"language"`
	Model             string `json:"model"`
	UseEnhanced       bool   `json:"use_enhanced"`
	EnablePunctuation bool   `json:"enable_punctuation"`
}

// Transcript is a recognition result
type Transcript struct {
	Text       string
	Confidence float64
}

// TranscriptDelta is one event of a live transcription stream.
// Only the delta with IsFinal set commits the turn.
type TranscriptDelta struct {
	Text    string
	IsFinal bool
}

// SpeechToTextStreaming is a live recognition stream.
// Deltas is closed after the final delta or a failure; Err reports the failure.
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	Deltas() <-chan TranscriptDelta
	Err() error
	Close() error
}
