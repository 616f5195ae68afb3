package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const defaultLongRunningTimeout = 3 * time.Minute

// GoogleConfig configures the client-library adapter.
type GoogleConfig struct {
	// CredentialsFile is a service-account JSON path. Empty uses ambient credentials.
	CredentialsFile string
	// CredentialsJSON is the service-account JSON itself and wins over CredentialsFile.
	CredentialsJSON    []byte
	LongRunningTimeout time.Duration
}

// GoogleSpeechToText implements buffered and streaming recognition with the
// Cloud Speech client library.
type GoogleSpeechToText struct {
	client             *speech.Client
	longRunningTimeout time.Duration
	logger             *zap.Logger
}

var (
	_ repositories.SpeechToText          = (*GoogleSpeechToText)(nil)
	_ repositories.StreamingSpeechToText = (*GoogleSpeechToText)(nil)
)

// NewGoogleSpeechToText creates the speech client.
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	var opts []option.ClientOption
	switch {
	case len(config.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(config.CredentialsJSON))
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	timeout := config.LongRunningTimeout
	if timeout <= 0 {
		timeout = defaultLongRunningTimeout
	}

	return &GoogleSpeechToText{
		client:             client,
		longRunningTimeout: timeout,
		logger:             logger,
	}, nil
}

// Close releases the underlying client.
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// TranscribeAudio converts a buffered utterance to text.
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audio entities.AudioBuffer, config repositories.AudioConfig) (repositories.Transcript, error) {
	recognitionConfig, err := protoRecognitionConfig(audio, config)
	if err != nil {
		return repositories.Transcript{}, err
	}
	recognitionAudio := &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
	}

	if !audio.RequiresLongRunning() {
		resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
			Config: recognitionConfig,
			Audio:  recognitionAudio,
		})
		if err != nil {
			if ctx.Err() != nil {
				return repositories.Transcript{}, domain.ErrStoppedByUser
			}
			return repositories.Transcript{}, fmt.Errorf("failed to recognize: %w", err)
		}
		return transcriptFromProto(resp.Results), nil
	}

	g.logger.Info("Using long-running recognition", zap.Duration("estimatedDuration", audio.EstimatedDuration()))

	waitCtx, cancel := context.WithTimeout(ctx, g.longRunningTimeout)
	defer cancel()

	op, err := g.client.LongRunningRecognize(waitCtx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig,
		Audio:  recognitionAudio,
	})
	if err != nil {
		if ctx.Err() != nil {
			return repositories.Transcript{}, domain.ErrStoppedByUser
		}
		return repositories.Transcript{}, fmt.Errorf("failed to start long-running recognition: %w", err)
	}

	resp, err := op.Wait(waitCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return repositories.Transcript{}, domain.ErrStoppedByUser
		case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
			return repositories.Transcript{}, domain.ErrTimeout
		default:
			return repositories.Transcript{}, fmt.Errorf("long-running recognition failed: %w", err)
		}
	}
	return transcriptFromProto(resp.Results), nil
}

// InitTranscribeStreaming opens a live recognition stream with interim results.
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	recognitionConfig, err := protoRecognitionConfig(entities.AudioBuffer{Encoding: config.Encoding, SampleRate: config.SampleRate}, config)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig,
				InterimResults:  true,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		ctx:    streamCtx,
		stream: stream,
		cancel: cancel,
		deltas: make(chan repositories.TranscriptDelta, 16),
		logger: g.logger,
	}
	go s.receive()
	return s, nil
}

type googleStream struct {
	ctx    context.Context
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	deltas chan repositories.TranscriptDelta
	logger *zap.Logger

	sendMu    sync.Mutex
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *googleStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: data},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (s *googleStream) Deltas() <-chan repositories.TranscriptDelta {
	return s.deltas
}

func (s *googleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *googleStream) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.stream.CloseSend()
		s.sendMu.Unlock()
		s.cancel()
	})
	return nil
}

func (s *googleStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// receive forwards interim results until the first final one.
func (s *googleStream) receive() {
	defer close(s.deltas)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			s.fail(domain.ErrNoSpeech)
			return
		}
		if err != nil {
			s.fail(fmt.Errorf("failed to receive response: %w", err))
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			text := strings.TrimSpace(result.Alternatives[0].Transcript)
			if result.IsFinal {
				select {
				case s.deltas <- repositories.TranscriptDelta{Text: text, IsFinal: true}:
				case <-s.ctx.Done():
				}
				s.logger.Debug("Final transcript received", zap.String("transcript", text))
				s.Close()
				return
			}
			select {
			case s.deltas <- repositories.TranscriptDelta{Text: text}:
			default:
				// the consumer only needs the latest partial
			}
		}
	}
}
