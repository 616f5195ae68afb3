package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
)

const defaultProxyTimeout = 30 * time.Second

// ProxyConfig configures the chat proxy client.
type ProxyConfig struct {
	URL         string
	ClientToken string
	HTTPClient  *http.Client
}

// ProxyLLM calls a chat proxy that holds the provider key server side.
type ProxyLLM struct {
	url         string
	clientToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ repositories.LargeLanguageModel = (*ProxyLLM)(nil)

// NewProxyLLM creates the proxy client.
func NewProxyLLM(config ProxyConfig, logger *zap.Logger) (*ProxyLLM, error) {
	if config.URL == "" {
		return nil, errors.New("proxy URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultProxyTimeout}
	}
	return &ProxyLLM{
		url:         config.URL,
		clientToken: config.ClientToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Complete posts the messages and sampling parameters and returns the reply.
func (p *ProxyLLM) Complete(ctx context.Context, request repositories.CompletionRequest) (string, error) {
	body := domain.ChatProxyRequest{
		Messages:         request.Messages,
		Model:            request.Model,
		Temperature:      &request.Temperature,
		MaxTokens:        request.MaxTokens,
		TopP:             &request.TopP,
		FrequencyPenalty: &request.FrequencyPenalty,
		PresencePenalty:  &request.PresencePenalty,
		Stop:             request.Stop,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.clientToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.clientToken)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat proxy request failed: %w", err)
	}
	defer resp.Body.Close()

	var reply domain.ChatProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("failed to decode proxy response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := reply.Error
		if message == "" {
			message = resp.Status
		}
		return "", fmt.Errorf("chat proxy returned %d: %s", resp.StatusCode, message)
	}

	text := strings.TrimSpace(reply.Response)
	if text == "" {
		return "", domain.ErrEmptyReply
	}

	p.logger.Debug("Chat proxy replied",
		zap.String("model", reply.Model),
		zap.Duration("latency", time.Since(start)))
	return text, nil
}
