package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqConfig configures the direct Groq backend.
type GroqConfig struct {
	APIKey  string
	BaseURL string
}

// ValidateGroqConfig validates the GroqConfig
func ValidateGroqConfig(config GroqConfig) error {
	if config.APIKey == "" {
		return errors.New("groq API key is required")
	}
	return nil
}

// GroqLLM talks to Groq's chat completions API through the OpenAI client.
type GroqLLM struct {
	client *openai.Client
	logger *zap.Logger
}

var _ repositories.LargeLanguageModel = (*GroqLLM)(nil)

// NewGroqLLM creates the Groq backend.
func NewGroqLLM(config GroqConfig, logger *zap.Logger) (*GroqLLM, error) {
	if err := ValidateGroqConfig(config); err != nil {
		return nil, err
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
		logger.Info("Using default Groq base URL", zap.String("baseURL", baseURL))
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = baseURL

	return &GroqLLM{
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Complete returns the first choice's content.
func (g *GroqLLM) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, ToOpenAIRequest(request))
	if err != nil {
		return "", fmt.Errorf("groq completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyReply
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.ErrEmptyReply
	}

	g.logger.Debug("Groq replied",
		zap.String("model", resp.Model),
		zap.Int("totalTokens", resp.Usage.TotalTokens))
	return text, nil
}

// ToOpenAIRequest maps a completion request onto the OpenAI wire type.
func ToOpenAIRequest(request repositories.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(request.Messages))
	for _, m := range request.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:            request.Model,
		Messages:         messages,
		Temperature:      request.Temperature,
		MaxTokens:        request.MaxTokens,
		TopP:             request.TopP,
		FrequencyPenalty: request.FrequencyPenalty,
		PresencePenalty:  request.PresencePenalty,
		Stop:             request.Stop,
	}
}
