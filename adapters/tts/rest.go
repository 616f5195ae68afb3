package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	defaultRESTLanguageCode = "en-US"
	defaultRESTSpeaker      = "en-US-Neural2-F"
	defaultRESTSpeakingRate = 1.0
	defaultRESTEncoding     = entities.EncodingMP3
	restRequestTimeout      = 30 * time.Second
)

// RESTConfig holds configuration for the REST synthesis backend.
type RESTConfig struct {
	Endpoint     string
	APIKey       string
	LanguageCode string
	SpeakerID    string
	Pitch        float64
	SpeakingRate float64
	// Encoding of the returned audio_content.
	Encoding   string
	HTTPClient *http.Client
}

// ValidateRESTConfig validates the RESTConfig
func ValidateRESTConfig(config RESTConfig) error {
	if config.Endpoint == "" {
		return errors.New("synthesis endpoint is required")
	}
	if config.APIKey == "" {
		return errors.New("synthesis API key is required")
	}
	if config.SpeakingRate < 0 || config.SpeakingRate > 4 {
		return fmt.Errorf("speaking rate must be between 0 and 4, got %f", config.SpeakingRate)
	}
	return nil
}

type restRequest struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	SpeakerID    string  `json:"speaker_id"`
	Pitch        float64 `json:"pitch"`
	SpeakingRate float64 `json:"speaking_rate"`
}

type restResponse struct {
	AudioContent string `json:"audio_content"`
	Message      string `json:"message,omitempty"`
}

// RESTTTS synthesizes speech through a JSON endpoint returning base64 audio.
type RESTTTS struct {
	config     RESTConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*RESTTTS)(nil)

// NewRESTTTS creates the REST synthesis backend.
func NewRESTTTS(config RESTConfig, logger *zap.Logger) (*RESTTTS, error) {
	if err := ValidateRESTConfig(config); err != nil {
		return nil, err
	}

	if config.LanguageCode == "" {
		config.LanguageCode = defaultRESTLanguageCode
		logger.Info("Using default language code", zap.String("languageCode", config.LanguageCode))
	}
	if config.SpeakerID == "" {
		config.SpeakerID = defaultRESTSpeaker
		logger.Info("Using default speaker", zap.String("speakerID", config.SpeakerID))
	}
	if config.SpeakingRate == 0 {
		config.SpeakingRate = defaultRESTSpeakingRate
	}
	if config.Encoding == "" {
		config.Encoding = defaultRESTEncoding
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: restRequestTimeout}
	}

	return &RESTTTS{config: config, httpClient: httpClient, logger: logger}, nil
}

// ConvertTextToSpeech posts text and returns the decoded clip.
func (r *RESTTTS) ConvertTextToSpeech(ctx context.Context, text string) (entities.AudioClip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.AudioClip{}, errors.New("text cannot be empty")
	}

	payload, err := json.Marshal(restRequest{
		Text:         text,
		LanguageCode: r.config.LanguageCode,
		SpeakerID:    r.config.SpeakerID,
		Pitch:        r.config.Pitch,
		SpeakingRate: r.config.SpeakingRate,
	})
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	var body restResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		message := body.Message
		if message == "" {
			message = resp.Status
		}
		return entities.AudioClip{}, fmt.Errorf("synthesis API error %d: %s", resp.StatusCode, message)
	}
	if decodeErr != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if body.AudioContent == "" {
		return entities.AudioClip{}, errors.New("no audio content received")
	}

	audio, err := base64.StdEncoding.DecodeString(body.AudioContent)
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to decode audio content: %w", err)
	}

	r.logger.Debug("Synthesized speech",
		zap.Int("characters", len(text)),
		zap.Int("bytes", len(audio)))

	return entities.AudioClip{Data: audio, Encoding: r.config.Encoding}, nil
}
