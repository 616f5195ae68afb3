package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoppedByUser lets in-flight operations settle when the user cancels.
	// It is never shown as a failure.
	ErrStoppedByUser = errors.New("stopped")

	// ErrNoSpeech is returned when a transcription comes back empty.
	ErrNoSpeech = errors.New("no speech detected")

	// ErrTranscriptionUnavailable means no transcription backend is configured or reachable.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")

	// ErrTimeout is returned when long-running transcription exhausts its poll budget.
	ErrTimeout = errors.New("transcription timed out")

	// ErrEmptyReply is returned when a generation backend answers with no content.
	ErrEmptyReply = errors.New("empty reply from generation backend")

	// ErrConversationNotFound is returned by transcript stores for unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Stage identifies one step of a conversational turn.
type Stage string

const (
	StageTranscription Stage = "stt"
	StageGeneration    Stage = "ai"
	StageSynthesis     Stage = "tts"
)

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	switch e.Stage {
	case StageTranscription:
		return fmt.Sprintf("transcription failed: %v", e.Err)
	case StageGeneration:
		return fmt.Sprintf("generation failed: %v", e.Err)
	case StageSynthesis:
		return fmt.Sprintf("synthesis failed: %v", e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// TranscriptionFailed wraps err as a transcription stage failure.
func TranscriptionFailed(err error) error {
	return &StageError{Stage: StageTranscription, Err: err}
}

// GenerationFailed wraps err as a generation stage failure.
func GenerationFailed(err error) error {
	return &StageError{Stage: StageGeneration, Err: err}
}

// SynthesisFailed wraps err as a synthesis stage failure.
func SynthesisFailed(err error) error {
	return &StageError{Stage: StageSynthesis, Err: err}
}

// FailedStage reports the stage carried by err, if any.
func FailedStage(err error) (Stage, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

// DeviceError reports that the microphone could not be acquired.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsStopped reports whether err comes from a user stop or a cancelled context.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStoppedByUser) || errors.Is(err, context.Canceled)
}
