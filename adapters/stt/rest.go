package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 90
)

// RESTConfig holds configuration for the REST speech adapter.
type RESTConfig struct {
	// BaseURL overrides the service endpoint, e.g. https://speech.googleapis.com.
	BaseURL         string
	PollInterval    time.Duration
	MaxPollAttempts int
}

// recognizer is the part of the speech client the adapter calls.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error)
	startLongRunning(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longRunningOperation, error)
	Close() error
}

// longRunningOperation is satisfied by *speech.LongRunningRecognizeOperation.
type longRunningOperation interface {
	Name() string
	Done() bool
	Poll(ctx context.Context, opts ...gax.CallOption) (*speechpb.LongRunningRecognizeResponse, error)
}

type restClient struct {
	*speech.Client
}

func (c restClient) startLongRunning(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longRunningOperation, error) {
	return c.LongRunningRecognize(ctx, req)
}

// RESTSpeechToText transcribes buffered utterances with the Speech REST
// client, authorised by short-lived tokens from the relay.
type RESTSpeechToText struct {
	client          recognizer
	tokens          oauth2.TokenSource
	pollInterval    time.Duration
	maxPollAttempts int
	logger          *zap.Logger
}

var _ repositories.SpeechToText = (*RESTSpeechToText)(nil)

// NewRESTSpeechToText creates the REST adapter. Every call carries a bearer
// token from tokens.
func NewRESTSpeechToText(ctx context.Context, config RESTConfig, tokens oauth2.TokenSource, logger *zap.Logger) (*RESTSpeechToText, error) {
	if tokens == nil {
		return nil, errors.New("token source is required")
	}

	opts := []option.ClientOption{option.WithTokenSource(tokens)}
	if endpoint := restEndpoint(config.BaseURL); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	client, err := speech.NewRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech REST client: %w", err)
	}
	return newRESTSpeechToText(restClient{client}, tokens, config, logger), nil
}

func newRESTSpeechToText(client recognizer, tokens oauth2.TokenSource, config RESTConfig, logger *zap.Logger) *RESTSpeechToText {
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	maxPollAttempts := config.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = defaultMaxPollAttempts
	}
	return &RESTSpeechToText{
		client:          client,
		tokens:          tokens,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		logger:          logger,
	}
}

// restEndpoint drops the API version the client adds itself.
func restEndpoint(baseURL string) string {
	return strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
}

// Close releases the underlying client.
func (r *RESTSpeechToText) Close() error {
	return r.client.Close()
}

// TranscribeAudio picks sync or long-running recognition from the estimated duration.
func (r *RESTSpeechToText) TranscribeAudio(ctx context.Context, audio entities.AudioBuffer, config repositories.AudioConfig) (repositories.Transcript, error) {
	if ctx.Err() != nil {
		return repositories.Transcript{}, domain.ErrStoppedByUser
	}

	// The cached token makes this free; a failing token endpoint is reported
	// before any audio is sent.
	if _, err := r.tokens.Token(); err != nil {
		if ctx.Err() != nil {
			return repositories.Transcript{}, domain.ErrStoppedByUser
		}
		return repositories.Transcript{}, fmt.Errorf("%w: token: %w", domain.ErrTranscriptionUnavailable, err)
	}

	recognitionConfig, err := protoRecognitionConfig(audio, config)
	if err != nil {
		return repositories.Transcript{}, err
	}
	recognitionAudio := &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
	}

	duration := audio.EstimatedDuration()
	if audio.RequiresLongRunning() {
		r.logger.Info("Using long-running recognition", zap.Duration("estimatedDuration", duration))
		return r.longRunning(ctx, recognitionConfig, recognitionAudio)
	}

	r.logger.Debug("Using sync recognition", zap.Duration("estimatedDuration", duration))
	resp, err := r.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio:  recognitionAudio,
	})
	if err != nil {
		if tooLong(err) {
			r.logger.Warn("Sync recognition rejected audio length, retrying long-running", zap.Error(err))
			return r.longRunning(ctx, recognitionConfig, recognitionAudio)
		}
		return repositories.Transcript{}, classify(ctx, err)
	}
	return transcriptFromProto(resp.GetResults()), nil
}

func (r *RESTSpeechToText) longRunning(ctx context.Context, config *speechpb.RecognitionConfig, audio *speechpb.RecognitionAudio) (repositories.Transcript, error) {
	op, err := r.client.startLongRunning(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: config,
		Audio:  audio,
	})
	if err != nil {
		return repositories.Transcript{}, classify(ctx, err)
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			r.logger.Info("Long-running recognition cancelled", zap.String("operation", op.Name()))
			return repositories.Transcript{}, domain.ErrStoppedByUser
		case <-ticker.C:
		}

		resp, err := op.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return repositories.Transcript{}, domain.ErrStoppedByUser
			}
			if op.Done() {
				return repositories.Transcript{}, fmt.Errorf("long-running recognition failed: %w", err)
			}
			return repositories.Transcript{}, classify(ctx, err)
		}

		if op.Done() {
			r.logger.Info("Long-running recognition completed", zap.Int("attempts", attempt))
			return transcriptFromProto(resp.GetResults()), nil
		}

		if attempt%5 == 0 {
			r.logger.Debug("Long-running recognition still processing",
				zap.String("operation", op.Name()),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", r.maxPollAttempts))
		}
	}

	return repositories.Transcript{}, domain.ErrTimeout
}

// tooLong reports whether the sync endpoint refused the audio for its length.
func tooLong(err error) bool {
	message := err.Error()
	if s, ok := status.FromError(err); ok {
		message = s.Message()
	}
	return strings.Contains(message, "too long") || strings.Contains(message, "Sync input")
}

// classify maps cancellation to ErrStoppedByUser and transport or auth
// failures to ErrTranscriptionUnavailable.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.ErrStoppedByUser
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPCode() {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %w", domain.ErrTranscriptionUnavailable, err)
		}
	}

	s, ok := status.FromError(err)
	if !ok && apiErr == nil {
		return fmt.Errorf("%w: %w", domain.ErrTranscriptionUnavailable, err)
	}
	switch s.Code() {
	case codes.Unauthenticated, codes.PermissionDenied, codes.Unavailable:
		return fmt.Errorf("%w: %w", domain.ErrTranscriptionUnavailable, err)
	}
	return fmt.Errorf("speech recognition failed: %w", err)
}
