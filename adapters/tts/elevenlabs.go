package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultOutputFormat = "pcm_24000"
	defaultModelID      = "eleven_multilingual_v2"
	defaultStability    = 0.5
	defaultClarity      = 0.75

	elevenLabsTimeout = 60 * time.Second
)

// ElevenLabsConfig configures the ElevenLabs voice. Only APIKey is required.
// OutputFormat is pcm_<rate> or mp3_<rate>_<bitrate>; pcm keeps playback
// decode-free.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	// LanguageCode is an ISO 639-1 hint such as "en". Optional.
	LanguageCode string
	Stability    float64
	Clarity      float64
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return errors.New("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if f := config.OutputFormat; f != "" && !strings.HasPrefix(f, "pcm_") && !strings.HasPrefix(f, "mp3_") {
		return fmt.Errorf("unsupported output format %q", f)
	}
	return nil
}

func (c ElevenLabsConfig) withDefaults(logger *zap.Logger) ElevenLabsConfig {
	setString := func(field *string, def, name string) {
		if *field == "" {
			*field = def
			logger.Info("Using default ElevenLabs setting", zap.String("setting", name), zap.String("value", def))
		}
	}
	setString(&c.APIBaseURL, defaultAPIBaseURL, "apiBaseURL")
	setString(&c.VoiceID, defaultVoiceID, "voiceID")
	setString(&c.ModelID, defaultModelID, "modelID")
	setString(&c.OutputFormat, defaultOutputFormat, "outputFormat")
	if c.Stability == 0 {
		c.Stability = defaultStability
	}
	if c.Clarity == 0 {
		c.Clarity = defaultClarity
	}
	return c
}

// ElevenLabsTTS synthesizes whole clips with the ElevenLabs REST API.
type ElevenLabsTTS struct {
	config     ElevenLabsConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// ElevenLabsRequest is the text-to-speech request body.
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	LanguageCode           string                  `json:"language_code,omitempty"`
	VoiceSettings          elevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// NewElevenLabsTTS creates the adapter.
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}
	return &ElevenLabsTTS{
		config:     config.withDefaults(logger),
		httpClient: &http.Client{Timeout: elevenLabsTimeout},
		logger:     logger.With(zap.String("backend", "elevenlabs")),
	}, nil
}

// ConvertTextToSpeech returns the complete clip for text.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string) (entities.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return entities.AudioClip{}, errors.New("text cannot be empty")
	}

	body, err := json.Marshal(ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.config.ModelID,
		LanguageCode:           e.config.LanguageCode,
		ApplyTextNormalization: "auto",
		VoiceSettings: elevenLabsVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.Clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(body))
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptFor(e.config.OutputFormat))
	req.Header.Set("xi-api-key", e.config.APIKey)

	started := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("eleven labs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		e.logger.Error("Synthesis rejected",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(detail)))
		return entities.AudioClip{}, fmt.Errorf("eleven labs API returned error %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to read audio: %w", err)
	}

	e.logger.Debug("Synthesized clip",
		zap.Int("characters", len(text)),
		zap.Int("bytes", len(audio)),
		zap.Duration("latency", time.Since(started)))
	return clipForFormat(audio, e.config.OutputFormat), nil
}

func (e *ElevenLabsTTS) endpoint() string {
	query := url.Values{}
	query.Set("output_format", e.config.OutputFormat)
	query.Set("enable_logging", "false")
	return fmt.Sprintf("%s/text-to-speech/%s?%s", e.config.APIBaseURL, url.PathEscape(e.config.VoiceID), query.Encode())
}

func acceptFor(outputFormat string) string {
	if strings.HasPrefix(outputFormat, "pcm_") {
		return "audio/pcm"
	}
	return "audio/mpeg"
}

// clipForFormat tags response bytes with the encoding and rate named by the
// output format, e.g. pcm_24000 or mp3_44100_128.
func clipForFormat(audio []byte, outputFormat string) entities.AudioClip {
	kind, rest, _ := strings.Cut(outputFormat, "_")
	rateText, _, _ := strings.Cut(rest, "_")
	rate, _ := strconv.Atoi(rateText)

	clip := entities.AudioClip{Data: audio, Encoding: entities.EncodingMP3, SampleRate: rate}
	if kind == "pcm" {
		clip.Encoding = entities.EncodingLinear16
	}
	return clip
}
