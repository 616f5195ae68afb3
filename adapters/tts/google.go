package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const googleSampleRate = 24000

// GoogleConfig configures Cloud Text-to-Speech.
type GoogleConfig struct {
	CredentialsFile string
	LanguageCode    string
	VoiceName       string
	SpeakingRate    float64
	Pitch           float64
}

// GoogleTTS synthesizes LINEAR16 audio with Cloud Text-to-Speech.
type GoogleTTS struct {
	client *texttospeech.Client
	config GoogleConfig
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*GoogleTTS)(nil)

// NewGoogleTTS creates the client. Empty CredentialsFile uses ambient credentials.
func NewGoogleTTS(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleTTS, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	if config.LanguageCode == "" {
		config.LanguageCode = defaultRESTLanguageCode
	}
	if config.SpeakingRate == 0 {
		config.SpeakingRate = defaultRESTSpeakingRate
	}

	return &GoogleTTS{client: client, config: config, logger: logger}, nil
}

// Close releases the client.
func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

// ConvertTextToSpeech returns a WAV-wrapped LINEAR16 clip.
func (g *GoogleTTS) ConvertTextToSpeech(ctx context.Context, text string) (entities.AudioClip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return entities.AudioClip{}, errors.New("text cannot be empty")
	}

	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         g.config.VoiceName,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: googleSampleRate,
			SpeakingRate:    g.config.SpeakingRate,
			Pitch:           g.config.Pitch,
		},
	})
	if err != nil {
		return entities.AudioClip{}, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	g.logger.Debug("Synthesized speech with Cloud Text-to-Speech",
		zap.Int("characters", len(text)),
		zap.Int("bytes", len(resp.AudioContent)))

	return entities.AudioClip{
		Data:       resp.AudioContent,
		Encoding:   entities.EncodingLinear16,
		SampleRate: googleSampleRate,
	}, nil
}
