package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/adapters/llm"
	"github.com/resonira/voiceagent/adapters/memory"
	"github.com/resonira/voiceagent/adapters/mongo"
	"github.com/resonira/voiceagent/adapters/stt"
	"github.com/resonira/voiceagent/adapters/token"
	"github.com/resonira/voiceagent/adapters/tts"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/config"
	"github.com/resonira/voiceagent/internal/knowledge"
	"github.com/resonira/voiceagent/usecase"
)

// closers collects shutdown hooks, run in reverse order.
type closers []func(context.Context)

func (c *closers) add(fn func(context.Context)) {
	*c = append(*c, fn)
}

func (c closers) run(ctx context.Context) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i](ctx)
	}
}

func closeWith(logger *zap.Logger, name string, closer io.Closer) func(context.Context) {
	return func(context.Context) {
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close", zap.String("component", name), zap.Error(err))
		}
	}
}

func audioConfig(cfg *config.Config) repositories.AudioConfig {
	return repositories.AudioConfig{
		SampleRate:        cfg.Speech.SampleRate,
		Encoding:          cfg.Speech.Encoding,
		Language:          cfg.Speech.LanguageCode,
		Model:             cfg.Speech.Model,
		UseEnhanced:       cfg.Speech.UseEnhanced,
		EnablePunctuation: cfg.Speech.EnableAutomaticPunctuation,
	}
}

// buildTranscription wires the REST recognizer behind the token endpoint as
// primary, the Cloud Speech client as secondary and the relay for streaming.
func buildTranscription(ctx context.Context, cfg *config.Config, cleanup *closers, logger *zap.Logger) *usecase.TranscriptionClient {
	var backends usecase.TranscriptionBackends

	if cfg.Speech.TokenURL != "" {
		tokens, err := token.NewHTTPTokenSource(token.Config{
			URL:         cfg.Speech.TokenURL,
			ClientToken: cfg.Speech.ClientToken,
		}, logger)
		if err != nil {
			logger.Warn("Token source disabled", zap.Error(err))
		} else if rest, err := stt.NewRESTSpeechToText(ctx, stt.RESTConfig{BaseURL: cfg.Speech.RESTBaseURL}, tokens, logger); err != nil {
			logger.Warn("REST transcription disabled", zap.Error(err))
		} else {
			backends.Primary = rest
			cleanup.add(closeWith(logger, "speech REST client", rest))
		}
	}

	if google, err := stt.NewGoogleSpeechToText(ctx, stt.GoogleConfig{CredentialsFile: cfg.Speech.CredentialsFile}, logger); err != nil {
		logger.Warn("Cloud Speech transcription disabled", zap.Error(err))
	} else {
		backends.Secondary = google
		cleanup.add(closeWith(logger, "speech client", google))
	}

	if cfg.Speech.RelayURL != "" {
		relay, err := stt.NewRelaySpeechToText(stt.RelayConfig{
			URL:         cfg.Speech.RelayURL,
			ClientToken: cfg.Speech.ClientToken,
		}, logger)
		if err != nil {
			logger.Warn("Streaming transcription disabled", zap.Error(err))
		} else {
			backends.Streaming = relay
		}
	}

	if backends.Primary == nil && backends.Secondary == nil {
		logger.Warn("No transcription backend configured, every turn will fail at the stt stage")
	}
	return usecase.NewTranscriptionClient(backends, audioConfig(cfg), logger)
}

type modelCandidate struct {
	name  string
	build func() (repositories.LargeLanguageModel, error)
}

// buildModels picks the first two available backends, in provider order: the
// chat proxy, Groq direct, then Gemini, with Gemini first when it is the
// configured provider.
func buildModels(ctx context.Context, cfg *config.Config, logger *zap.Logger) (primary, secondary repositories.LargeLanguageModel, err error) {
	candidates := []modelCandidate{
		{"proxy", func() (repositories.LargeLanguageModel, error) { return buildProxy(cfg, logger) }},
		{"groq", func() (repositories.LargeLanguageModel, error) { return buildGroq(cfg, logger) }},
		{"gemini", func() (repositories.LargeLanguageModel, error) { return buildGemini(ctx, cfg, logger) }},
	}
	if cfg.AI.Provider == "gemini" {
		candidates = []modelCandidate{candidates[2], candidates[0], candidates[1]}
	}

	var errs []error
	for _, candidate := range candidates {
		model, err := candidate.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate.name, err))
			continue
		}
		if primary == nil {
			primary = model
			logger.Info("Primary language model selected", zap.String("backend", candidate.name))
			continue
		}
		secondary = model
		logger.Info("Secondary language model selected", zap.String("backend", candidate.name))
		break
	}
	if primary == nil {
		return nil, nil, errors.Join(errs...)
	}
	return primary, secondary, nil
}

func buildProxy(cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	if cfg.AI.ProxyURL == "" {
		return nil, errors.New("ai.proxyURL not set")
	}
	proxy, err := llm.NewProxyLLM(llm.ProxyConfig{
		URL:         cfg.AI.ProxyURL,
		ClientToken: cfg.Speech.ClientToken,
	}, logger)
	if err != nil {
		return nil, err
	}
	return proxy, nil
}

func buildGroq(cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	if cfg.AI.APIKey == "" {
		return nil, errors.New("GROQ_API_KEY not set")
	}
	groq, err := llm.NewGroqLLM(llm.GroqConfig{APIKey: cfg.AI.APIKey, BaseURL: cfg.AI.GroqBaseURL}, logger)
	if err != nil {
		return nil, err
	}
	return groq, nil
}

func buildGemini(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	if cfg.AI.GeminiAPIKey == "" {
		return nil, errors.New("GOOGLE_AI_API_KEY not set")
	}
	gemini, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{APIKey: cfg.AI.GeminiAPIKey, Model: cfg.AI.GeminiModel}, logger)
	if err != nil {
		return nil, err
	}
	return gemini, nil
}

func buildGeneration(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*usecase.GenerationClient, error) {
	primary, secondary, err := buildModels(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var kb usecase.KnowledgeSource
	if cfg.KnowledgeBase.ContextFile != "" {
		base, err := knowledge.Load(cfg.KnowledgeBase.ContextFile, knowledge.Options{
			TopK:                cfg.KnowledgeBase.TopK,
			SimilarityThreshold: cfg.KnowledgeBase.SimilarityThreshold,
		}, logger)
		if err != nil {
			logger.Warn("Knowledge base disabled", zap.Error(err))
		} else {
			kb = base
		}
	}

	return usecase.NewGenerationClient(primary, secondary, usecase.Persona{
		AssistantName: cfg.Persona.AssistantName,
		CompanyName:   cfg.Persona.CompanyName,
		Description:   cfg.Persona.Description,
		SystemPrompt:  cfg.Persona.SystemPrompt,
	}, kb, usecase.GenerationConfig{
		Model:            cfg.AI.Model,
		Temperature:      cfg.AI.Temperature,
		MaxTokens:        cfg.AI.MaxTokens,
		TopP:             cfg.AI.TopP,
		FrequencyPenalty: cfg.AI.FrequencyPenalty,
		PresencePenalty:  cfg.AI.PresencePenalty,
		Stop:             cfg.AI.Stop,
		HistoryMessages:  cfg.Conversation.HistoryCap,
	}, logger), nil
}

// buildVoices returns the configured synthesis backend and the optional
// Cloud Text-to-Speech fallback.
func buildVoices(ctx context.Context, cfg *config.Config, cleanup *closers, logger *zap.Logger) (primary, fallback repositories.TextToSpeech, err error) {
	newGoogle := func() (repositories.TextToSpeech, error) {
		google, err := tts.NewGoogleTTS(ctx, tts.GoogleConfig{
			CredentialsFile: cfg.Voice.CredentialsFile,
			LanguageCode:    cfg.Voice.LanguageCode,
			VoiceName:       cfg.Voice.VoiceName,
			SpeakingRate:    cfg.Voice.SpeakingRate,
			Pitch:           cfg.Voice.Pitch,
		}, logger)
		if err != nil {
			return nil, err
		}
		cleanup.add(closeWith(logger, "text-to-speech client", google))
		return google, nil
	}

	switch cfg.Voice.Provider {
	case "elevenlabs":
		voice, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
			APIKey:       cfg.Voice.ElevenLabs.APIKey,
			VoiceID:      cfg.Voice.ElevenLabs.VoiceID,
			ModelID:      cfg.Voice.ElevenLabs.ModelID,
			OutputFormat: cfg.Voice.ElevenLabs.OutputFormat,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		primary = voice
	case "google":
		if primary, err = newGoogle(); err != nil {
			return nil, nil, err
		}
	default:
		voice, err := tts.NewRESTTTS(tts.RESTConfig{
			Endpoint:     cfg.Voice.Endpoint,
			APIKey:       cfg.Voice.APIKey,
			LanguageCode: cfg.Voice.LanguageCode,
			SpeakerID:    cfg.Voice.VoiceName,
			Pitch:        cfg.Voice.Pitch,
			SpeakingRate: cfg.Voice.SpeakingRate,
			Encoding:     cfg.Voice.Encoding,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		primary = voice
	}

	if cfg.Voice.Fallback == "google" && cfg.Voice.Provider != "google" {
		if fallback, err = newGoogle(); err != nil {
			logger.Warn("Synthesis fallback disabled", zap.Error(err))
			fallback = nil
		}
	}
	return primary, fallback, nil
}

// buildTranscripts archives to MongoDB when a URI is configured and keeps
// records in memory otherwise.
func buildTranscripts(ctx context.Context, cfg *config.Config, cleanup *closers, logger *zap.Logger) repositories.TranscriptRepository {
	if cfg.Mongo.URI == "" {
		return memory.NewTranscriptRepository()
	}
	client, err := mongo.NewClient(ctx, mongo.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}, logger)
	if err != nil {
		logger.Warn("MongoDB unavailable, keeping transcripts in memory", zap.Error(err))
		return memory.NewTranscriptRepository()
	}
	cleanup.add(func(ctx context.Context) { client.Close(ctx) })
	return client.Transcripts()
}
