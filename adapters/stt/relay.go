package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	relayWriteWait     = 10 * time.Second
	relayDeltaCapacity = 16
)

// RelayConfig configures the streaming relay client.
type RelayConfig struct {
	// URL is the relay websocket endpoint, e.g. ws://localhost:8080/api/stream-stt.
	URL string
	// ClientToken authenticates with the relay. Empty when the relay runs without auth.
	ClientToken string
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

// RelaySpeechToText streams microphone audio to the relay and surfaces its
// partial and final transcripts.
type RelaySpeechToText struct {
	url         string
	clientToken string
	dialer      *websocket.Dialer
	logger      *zap.Logger
}

var _ repositories.StreamingSpeechToText = (*RelaySpeechToText)(nil)

// NewRelaySpeechToText creates the relay client.
func NewRelaySpeechToText(config RelayConfig, logger *zap.Logger) (*RelaySpeechToText, error) {
	if config.URL == "" {
		return nil, errors.New("relay URL is required")
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &RelaySpeechToText{
		url:         config.URL,
		clientToken: config.ClientToken,
		dialer:      dialer,
		logger:      logger,
	}, nil
}

// InitTranscribeStreaming dials the relay and sends the recognition config.
func (r *RelaySpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	header := http.Header{}
	if r.clientToken != "" {
		header.Set("Authorization", "Bearer "+r.clientToken)
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial relay (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	configMessage := domain.StreamClientMessage{
		Type:  domain.StreamMessageConfig,
		Token: r.clientToken,
		Config: &domain.StreamConfig{
			Encoding:                   config.Encoding,
			SampleRateHertz:            config.SampleRate,
			LanguageCode:               config.Language,
			Model:                      config.Model,
			UseEnhanced:                config.UseEnhanced,
			EnableAutomaticPunctuation: config.EnablePunctuation,
			EnableInterimResults:       true,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	if err := conn.WriteJSON(configMessage); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send stream config: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &relayStream{
		conn:   conn,
		ctx:    streamCtx,
		cancel: cancel,
		deltas: make(chan repositories.TranscriptDelta, relayDeltaCapacity),
		logger: r.logger,
	}
	go s.readPump()
	go func() {
		<-streamCtx.Done()
		s.Close()
	}()

	r.logger.Info("Streaming transcription started", zap.String("url", r.url))
	return s, nil
}

type relayStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	deltas chan repositories.TranscriptDelta
	logger *zap.Logger

	writeMu   sync.Mutex
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *relayStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return domain.ErrStoppedByUser
	}

	message := domain.StreamClientMessage{
		Type:  domain.StreamMessageAudio,
		Audio: base64.StdEncoding.EncodeToString(data),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(relayWriteWait))
	if err := s.conn.WriteJSON(message); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (s *relayStream) Deltas() <-chan repositories.TranscriptDelta {
	return s.deltas
}

func (s *relayStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *relayStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
	return nil
}

func (s *relayStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// readPump turns relay messages into deltas until a final transcript,
// an error message, or the connection ends.
func (s *relayStream) readPump() {
	defer close(s.deltas)

	for {
		var message domain.StreamServerMessage
		if err := s.conn.ReadJSON(&message); err != nil {
			if s.ctx.Err() != nil {
				s.fail(domain.ErrStoppedByUser)
			} else {
				s.fail(fmt.Errorf("relay connection lost: %w", err))
			}
			return
		}

		switch message.Type {
		case domain.StreamMessagePartial:
			select {
			case s.deltas <- repositories.TranscriptDelta{Text: message.Transcript}:
			default:
			}
		case domain.StreamMessageFinal:
			select {
			case s.deltas <- repositories.TranscriptDelta{Text: message.Transcript, IsFinal: true}:
			case <-s.ctx.Done():
			}
			s.Close()
			return
		case domain.StreamMessageError:
			s.logger.Warn("Relay reported transcription error", zap.String("error", message.Error))
			s.fail(fmt.Errorf("relay error: %s", message.Error))
			s.Close()
			return
		default:
			s.logger.Debug("Ignoring unknown relay message", zap.String("type", message.Type))
		}
	}
}
