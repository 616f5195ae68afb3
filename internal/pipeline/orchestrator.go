package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
)

// ErrBusy is returned when Run is called while another run is in flight.
var ErrBusy = errors.New("pipeline is already processing")

// Orchestrator runs transcription, generation and synthesis for one turn at a time.
type Orchestrator struct {
	transcriber Transcriber
	responder   Responder
	speaker     Speaker
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	runID  uint64
}

// NewOrchestrator creates an orchestrator over the three stage clients.
func NewOrchestrator(transcriber Transcriber, responder Responder, speaker Speaker, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		transcriber: transcriber,
		responder:   responder,
		speaker:     speaker,
		logger:      logger,
		now:         time.Now,
	}
}

// IsProcessing reports whether a run is in flight.
func (o *Orchestrator) IsProcessing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// Stop cancels the in-flight run, if any.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		o.logger.Info("Stopping pipeline run")
		cancel()
	}
}

// Run executes one turn. Stage failures abort the remaining stages and are
// returned as *domain.StageError; a user stop is returned as
// domain.ErrStoppedByUser. onProgress may be nil.
func (o *Orchestrator) Run(ctx context.Context, input Input, onProgress func(Progress)) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return Result{}, ErrBusy
	}
	o.cancel = cancel
	o.runID++
	runID := o.runID
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	run := &run{
		logger: o.logger.With(zap.Uint64("runID", runID)),
		now:    o.now,
		stages: []StageExecution{
			{Stage: domain.StageTranscription, State: StageStatePending},
			{Stage: domain.StageGeneration, State: StageStatePending},
			{Stage: domain.StageSynthesis, State: StageStatePending},
		},
	}
	return run.execute(ctx, o, input, onProgress)
}

type run struct {
	logger *zap.Logger
	now    func() time.Time
	stages []StageExecution
}

func (r *run) execute(ctx context.Context, o *Orchestrator, input Input, onProgress func(Progress)) (Result, error) {
	started := r.now()
	result := Result{}

	// Stage 1: transcription, skipped for text already finalized upstream.
	if input.Audio == nil {
		r.stages[0].State = StageStateSkipped
		result.Transcript = strings.TrimSpace(input.Text)
		if result.Transcript == "" {
			return r.finish(result), domain.TranscriptionFailed(domain.ErrNoSpeech)
		}
	} else {
		text, err := r.stage(ctx, 0, func(ctx context.Context) (string, error) {
			transcript, err := o.transcriber.Transcribe(ctx, *input.Audio)
			return transcript.Text, err
		})
		if err != nil {
			return r.finish(result), err
		}
		result.Transcript = text
	}
	result.Timings.STT = r.stages[0].Latency()
	onProgress(Progress{Type: EventTranscribed, Text: result.Transcript, Latency: result.Timings.STT})

	// Stage 2: generation.
	reply, err := r.stage(ctx, 1, func(ctx context.Context) (string, error) {
		reply, err := o.responder.GetResponse(ctx, result.Transcript, input.History)
		if err == nil && strings.TrimSpace(reply) == "" {
			err = domain.ErrEmptyReply
		}
		return strings.TrimSpace(reply), err
	})
	if err != nil {
		return r.finish(result), err
	}
	result.Response = reply
	result.Timings.AI = r.stages[1].Latency()
	onProgress(Progress{Type: EventResponded, Text: result.Transcript, Response: reply, Latency: result.Timings.AI})

	// Stage 3: synthesis. A stop here still completes the turn.
	_, err = r.stage(ctx, 2, func(ctx context.Context) (string, error) {
		return "", o.speaker.Speak(ctx, reply)
	})
	switch {
	case err == nil:
		result.Timings.TTS = r.stages[2].Latency()
		onProgress(Progress{Type: EventSpoken, Latency: result.Timings.TTS})
	case errors.Is(err, domain.ErrStoppedByUser):
		r.logger.Info("Synthesis stopped, completing turn without audio")
	default:
		return r.finish(result), err
	}

	result.Timings.Total = r.now().Sub(started)
	timings := result.Timings
	onProgress(Progress{Type: EventComplete, Text: result.Transcript, Response: reply, Timings: &timings})

	r.logger.Info("Pipeline run completed",
		zap.Duration("stt", timings.STT),
		zap.Duration("ai", timings.AI),
		zap.Duration("tts", timings.TTS),
		zap.Duration("total", timings.Total))

	return r.finish(result), nil
}

// stage runs fn as stage i, checking cancellation before and after.
func (r *run) stage(ctx context.Context, i int, fn func(context.Context) (string, error)) (string, error) {
	exec := &r.stages[i]

	if ctx.Err() != nil {
		exec.State = StageStateStopped
		return "", domain.ErrStoppedByUser
	}

	startedAt := r.now()
	exec.StartedAt = &startedAt
	exec.State = StageStateRunning
	r.logger.Debug("Stage started", zap.String("stage", string(exec.Stage)))

	out, err := fn(ctx)

	completedAt := r.now()
	exec.CompletedAt = &completedAt

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if domain.IsStopped(err) || ctx.Err() != nil {
			exec.State = StageStateStopped
			r.logger.Info("Stage stopped", zap.String("stage", string(exec.Stage)))
			return "", domain.ErrStoppedByUser
		}

		exec.State = StageStateFailed
		exec.Error = err.Error()
		r.logger.Error("Stage failed", zap.String("stage", string(exec.Stage)), zap.Error(err))
		return "", tagStage(exec.Stage, err)
	}

	exec.State = StageStateCompleted
	return out, nil
}

func (r *run) finish(result Result) Result {
	result.Stages = append([]StageExecution(nil), r.stages...)
	return result
}

// tagStage wraps err with its stage unless it already carries one.
func tagStage(stage domain.Stage, err error) error {
	if _, ok := domain.FailedStage(err); ok {
		return err
	}
	return &domain.StageError{Stage: stage, Err: err}
}
