package stt

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) {
	return nil, errors.New("token backend down")
}

var testTokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})

type fakeOperation struct {
	mu         sync.Mutex
	doneAfter  int // polls until done; zero never finishes
	polls      int
	done       bool
	results    []*speechpb.SpeechRecognitionResult
	err        error
	onEachPoll func()
}

func (o *fakeOperation) Name() string { return "operations/123" }

func (o *fakeOperation) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

func (o *fakeOperation) Poll(ctx context.Context, opts ...gax.CallOption) (*speechpb.LongRunningRecognizeResponse, error) {
	if o.onEachPoll != nil {
		o.onEachPoll()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls++
	if o.doneAfter == 0 || o.polls < o.doneAfter {
		return nil, nil
	}
	o.done = true
	if o.err != nil {
		return nil, o.err
	}
	return &speechpb.LongRunningRecognizeResponse{Results: o.results}, nil
}

func (o *fakeOperation) pollCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polls
}

type fakeRecognizer struct {
	mu           sync.Mutex
	results      []*speechpb.SpeechRecognitionResult
	recognizeErr error
	startErr     error
	op           *fakeOperation
	requests     []*speechpb.RecognizeRequest
	longRunning  int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest, opts ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.recognizeErr != nil {
		return nil, f.recognizeErr
	}
	return &speechpb.RecognizeResponse{Results: f.results}, nil
}

func (f *fakeRecognizer) startLongRunning(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longRunningOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.longRunning++
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.op, nil
}

func (f *fakeRecognizer) Close() error { return nil }

func (f *fakeRecognizer) counts() (syncCalls, longRunning int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests), f.longRunning
}

func result(text string, confidence float32) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: confidence}},
	}
}

func pcmBuffer(seconds int) entities.AudioBuffer {
	return entities.AudioBuffer{
		Data:       make([]byte, seconds*16000*2),
		Encoding:   entities.EncodingLinear16,
		SampleRate: 16000,
	}
}

var speechConfig = repositories.AudioConfig{
	SampleRate:        16000,
	Encoding:          entities.EncodingLinear16,
	Language:          "en-US",
	Model:             "latest_long",
	UseEnhanced:       true,
	EnablePunctuation: true,
}

func newTestREST(client recognizer, attempts int) *RESTSpeechToText {
	return newRESTSpeechToText(client, testTokens, RESTConfig{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: attempts,
	}, zap.NewNop())
}

func TestRESTSyncRecognize(t *testing.T) {
	client := &fakeRecognizer{results: []*speechpb.SpeechRecognitionResult{
		result("hello there", 0.9),
		result(" how are you ", 0.7),
	}}

	transcript, err := newTestREST(client, 3).TranscribeAudio(context.Background(), pcmBuffer(2), speechConfig)
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if transcript.Text != "hello there how are you" {
		t.Errorf("Unexpected transcript %q", transcript.Text)
	}
	if transcript.Confidence < 0.79 || transcript.Confidence > 0.81 {
		t.Errorf("Expected averaged confidence 0.8, got %f", transcript.Confidence)
	}

	if len(client.requests) != 1 {
		t.Fatalf("Expected one sync request, got %d", len(client.requests))
	}
	config := client.requests[0].GetConfig()
	if config.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 || config.GetSampleRateHertz() != 16000 {
		t.Errorf("Unexpected audio format: %v", config)
	}
	if config.GetModel() != "latest_long" || !config.GetUseEnhanced() || !config.GetEnableAutomaticPunctuation() {
		t.Errorf("Unexpected recognition options: %v", config)
	}
	if got := len(client.requests[0].GetAudio().GetContent()); got != 2*16000*2 {
		t.Errorf("Expected audio content sent inline, got %d bytes", got)
	}
}

func TestRESTLongAudioUsesLongRunning(t *testing.T) {
	op := &fakeOperation{doneAfter: 3, results: []*speechpb.SpeechRecognitionResult{result("a long story", 0.8)}}
	client := &fakeRecognizer{op: op}

	transcript, err := newTestREST(client, 10).TranscribeAudio(context.Background(), pcmBuffer(70), speechConfig)
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if transcript.Text != "a long story" {
		t.Errorf("Unexpected transcript %q", transcript.Text)
	}
	if syncCalls, _ := client.counts(); syncCalls != 0 {
		t.Error("Sync recognition must not be used for long audio")
	}
	if op.pollCount() != 3 {
		t.Errorf("Expected 3 polls, got %d", op.pollCount())
	}
}

func TestRESTSyncTooLongRetriesLongRunning(t *testing.T) {
	client := &fakeRecognizer{
		recognizeErr: status.Error(codes.InvalidArgument, "Sync input too long. For audio longer than 1 min use LongRunningRecognize with a 'uri' parameter."),
		op:           &fakeOperation{doneAfter: 1, results: []*speechpb.SpeechRecognitionResult{result("retried", 0.5)}},
	}

	transcript, err := newTestREST(client, 3).TranscribeAudio(context.Background(), pcmBuffer(5), speechConfig)
	if err != nil {
		t.Fatalf("TranscribeAudio failed: %v", err)
	}
	if _, longRunning := client.counts(); transcript.Text != "retried" || longRunning != 1 {
		t.Errorf("Expected long-running retry, got %q after %d calls", transcript.Text, longRunning)
	}
}

func TestRESTPollBudgetExhausted(t *testing.T) {
	op := &fakeOperation{}
	_, err := newTestREST(&fakeRecognizer{op: op}, 3).TranscribeAudio(context.Background(), pcmBuffer(70), speechConfig)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if op.pollCount() != 3 {
		t.Errorf("Expected the full poll budget, got %d polls", op.pollCount())
	}
}

func TestRESTOperationError(t *testing.T) {
	op := &fakeOperation{doneAfter: 1, err: status.Error(codes.InvalidArgument, "bad audio")}
	_, err := newTestREST(&fakeRecognizer{op: op}, 3).TranscribeAudio(context.Background(), pcmBuffer(70), speechConfig)
	if err == nil || errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrTranscriptionUnavailable) {
		t.Errorf("Expected operation failure, got %v", err)
	}
}

func TestRESTCancelDuringPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := &fakeOperation{onEachPoll: cancel}

	_, err := newTestREST(&fakeRecognizer{op: op}, 50).TranscribeAudio(ctx, pcmBuffer(70), speechConfig)
	if !errors.Is(err, domain.ErrStoppedByUser) {
		t.Errorf("Expected ErrStoppedByUser, got %v", err)
	}
}

func TestRESTUnavailable(t *testing.T) {
	forbidden, _ := apierror.FromError(&googleapi.Error{Code: http.StatusForbidden, Message: "denied"})

	tests := map[string]error{
		"unavailable":     status.Error(codes.Unavailable, "backend down"),
		"unauthenticated": status.Error(codes.Unauthenticated, "bad token"),
		"denied":          status.Error(codes.PermissionDenied, "no access"),
		"http forbidden":  forbidden,
		"transport":       errors.New("dial tcp: connection refused"),
	}
	for name, failure := range tests {
		t.Run(name, func(t *testing.T) {
			client := &fakeRecognizer{recognizeErr: failure}
			_, err := newTestREST(client, 3).TranscribeAudio(context.Background(), pcmBuffer(1), speechConfig)
			if !errors.Is(err, domain.ErrTranscriptionUnavailable) {
				t.Errorf("Expected ErrTranscriptionUnavailable, got %v", err)
			}
		})
	}
}

func TestRESTRejectedRequestIsNotUnavailable(t *testing.T) {
	client := &fakeRecognizer{recognizeErr: status.Error(codes.InvalidArgument, "bad sample rate")}
	_, err := newTestREST(client, 3).TranscribeAudio(context.Background(), pcmBuffer(1), speechConfig)
	if err == nil || errors.Is(err, domain.ErrTranscriptionUnavailable) {
		t.Errorf("Expected a plain recognition failure, got %v", err)
	}
}

func TestRESTTokenFailureIsUnavailable(t *testing.T) {
	client := &fakeRecognizer{}
	rest := newRESTSpeechToText(client, failingTokens{}, RESTConfig{}, zap.NewNop())

	_, err := rest.TranscribeAudio(context.Background(), pcmBuffer(1), speechConfig)
	if !errors.Is(err, domain.ErrTranscriptionUnavailable) {
		t.Errorf("Expected ErrTranscriptionUnavailable, got %v", err)
	}
	if syncCalls, _ := client.counts(); syncCalls != 0 {
		t.Error("Expected no audio sent without a token")
	}
}

func TestRESTRequiresTokenSource(t *testing.T) {
	if _, err := NewRESTSpeechToText(context.Background(), RESTConfig{}, nil, zap.NewNop()); err == nil {
		t.Error("Expected error without a token source")
	}
}

func TestRESTEndpointDropsVersion(t *testing.T) {
	tests := map[string]string{
		"":                                  "",
		"https://speech.googleapis.com":     "https://speech.googleapis.com",
		"https://speech.googleapis.com/v1/": "https://speech.googleapis.com",
		"http://localhost:9000/v1":          "http://localhost:9000",
	}
	for in, want := range tests {
		if got := restEndpoint(in); got != want {
			t.Errorf("restEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecognitionConfigOmitsRateForCompressedAudio(t *testing.T) {
	rc := buildRecognitionConfig(entities.AudioBuffer{Encoding: entities.EncodingWebMOpus, SampleRate: 48000}, speechConfig)
	if rc.SampleRateHertz != 0 {
		t.Errorf("Expected no sample rate for WEBM_OPUS, got %d", rc.SampleRateHertz)
	}
	if rc.Encoding != entities.EncodingWebMOpus {
		t.Errorf("Expected buffer encoding to win, got %s", rc.Encoding)
	}
}
