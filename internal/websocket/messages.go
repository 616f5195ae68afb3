package websocket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
)

var (
	// ErrUnknownMessageType is returned for a client message with an unsupported type.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrMissingConfig is returned for a config message without a config body.
	ErrMissingConfig = errors.New("config message without config")
	// ErrEmptyAudio is returned for an audio message without data.
	ErrEmptyAudio = errors.New("audio message without data")
)

// ParseClientMessage decodes and validates a text frame from the agent.
func ParseClientMessage(data []byte) (domain.StreamClientMessage, error) {
	var msg domain.StreamClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("failed to parse message: %w", err)
	}

	switch msg.Type {
	case domain.StreamMessageConfig:
		if msg.Config == nil {
			return msg, ErrMissingConfig
		}
	case domain.StreamMessageAudio:
		if msg.Audio == "" {
			return msg, ErrEmptyAudio
		}
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}
	return msg, nil
}

// DecodeAudio returns the raw bytes of an audio message.
func DecodeAudio(msg domain.StreamClientMessage) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		return nil, fmt.Errorf("invalid audio payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

// AudioConfigFromStream overlays the client's recognition config on defaults.
func AudioConfigFromStream(config *domain.StreamConfig, defaults repositories.AudioConfig) repositories.AudioConfig {
	audioConfig := defaults
	if config == nil {
		return audioConfig
	}
	if config.Encoding != "" {
		audioConfig.Encoding = config.Encoding
	}
	if config.SampleRateHertz > 0 {
		audioConfig.SampleRate = config.SampleRateHertz
	}
	if config.LanguageCode != "" {
		audioConfig.Language = config.LanguageCode
	}
	if config.Model != "" {
		audioConfig.Model = config.Model
	}
	audioConfig.UseEnhanced = audioConfig.UseEnhanced || config.UseEnhanced
	audioConfig.EnablePunctuation = audioConfig.EnablePunctuation || config.EnableAutomaticPunctuation
	return audioConfig
}

func transcriptMessage(delta repositories.TranscriptDelta) []byte {
	msgType := domain.StreamMessagePartial
	if delta.IsFinal {
		msgType = domain.StreamMessageFinal
	}
	return encode(domain.StreamServerMessage{Type: msgType, Transcript: delta.Text})
}

func errorMessage(text string) []byte {
	return encode(domain.StreamServerMessage{Type: domain.StreamMessageError, Error: text})
}

func encode(msg domain.StreamServerMessage) []byte {
	payload, _ := json.Marshal(msg)
	return payload
}
