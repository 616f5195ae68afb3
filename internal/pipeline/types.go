package pipeline

import (
	"context"
	"time"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

// StageState represents the state of an individual stage
type StageState string

const (
	StageStatePending   StageState = "pending"
	StageStateRunning   StageState = "running"
	StageStateCompleted StageState = "completed"
	StageStateFailed    StageState = "failed"
	StageStateSkipped   StageState = "skipped"
	StageStateStopped   StageState = "stopped"
)

// StageExecution records one stage of a run
type StageExecution struct {
	Stage       domain.Stage `json:"stage"`
	State       StageState   `json:"state"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Latency returns how long the stage ran, or zero if it never finished.
func (s StageExecution) Latency() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Input is either an assembled utterance or text already finalized by a
// streaming recognizer.
type Input struct {
	Audio   *entities.AudioBuffer
	Text    string
	History []entities.Message
}

// EventType names a progress event.
type EventType string

const (
	EventTranscribed EventType = "stt"
	EventResponded   EventType = "ai"
	EventSpoken      EventType = "tts"
	EventComplete    EventType = "complete"
)

// Timings summarizes stage latencies. TTS is zero when synthesis was stopped.
type Timings struct {
	STT   time.Duration `json:"stt"`
	AI    time.Duration `json:"ai"`
	TTS   time.Duration `json:"tts"`
	Total time.Duration `json:"total"`
}

// Progress is emitted as each stage completes.
type Progress struct {
	Type     EventType     `json:"type"`
	Text     string        `json:"text,omitempty"`
	Response string        `json:"response,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	Timings  *Timings      `json:"timings,omitempty"`
}

// Result is the outcome of a completed run.
type Result struct {
	Transcript string
	Response   string
	Stages     []StageExecution
	Timings    Timings
}

// Transcriber turns an utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio entities.AudioBuffer) (repositories.Transcript, error)
}

// Responder produces the assistant reply for a user turn.
type Responder interface {
	GetResponse(ctx context.Context, text string, history []entities.Message) (string, error)
}

// Speaker voices a reply. Speak returns once audio has started.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}
