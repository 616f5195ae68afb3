package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultTopK           = 40
	defaultTimeoutSeconds = 30
)

// GeminiConfig holds configuration for the Gemini backend.
type GeminiConfig struct {
	APIKey         string
	Model          string
	TopK           float32
	TimeoutSeconds int
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return errors.New("Google AI API key is required")
	}
	if config.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", config.TopK)
	}
	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}
	return nil
}

var geminiSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client  *genai.Client
	logger  *zap.Logger
	model   string
	topK    float32
	timeout time.Duration
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultGeminiModel
		logger.Info("Using default model", zap.String("model", model))
	}

	topK := config.TopK
	if topK == 0 {
		topK = defaultTopK
		logger.Info("Using default topK", zap.Float32("topK", topK))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	return &GeminiLLM{
		client:  client,
		logger:  logger,
		model:   model,
		topK:    topK,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Complete sends the conversation to Gemini. System messages become the
// system instruction.
func (g *GeminiLLM) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	system, contents := convertToGeminiFormat(request.Messages)

	config := &genai.GenerateContentConfig{
		SafetySettings:   geminiSafetySettings,
		Temperature:      genai.Ptr(request.Temperature),
		TopP:             genai.Ptr(request.TopP),
		TopK:             genai.Ptr(g.topK),
		MaxOutputTokens:  int32(request.MaxTokens),
		StopSequences:    request.Stop,
		FrequencyPenalty: genai.Ptr(request.FrequencyPenalty),
		PresencePenalty:  genai.Ptr(request.PresencePenalty),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return "", domain.ErrEmptyReply
	}

	var responseText strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part.Text != "" {
			responseText.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(responseText.String())
	if text == "" {
		return "", domain.ErrEmptyReply
	}

	g.logger.Debug("Gemini replied", zap.String("model", g.model), zap.Int("length", len(text)))
	return text, nil
}

// convertToGeminiFormat splits system messages from the turn history.
func convertToGeminiFormat(messages []repositories.ChatMessage) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content

	for _, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case repositories.SystemRole:
			system = append(system, msg.Content)
			continue
		case repositories.AssistantRole:
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	return strings.Join(system, "\n\n"), contents
}
