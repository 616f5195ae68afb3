package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/resonira/voiceagent/domain"
)

const (
	// refreshMargin is how long before expiry a cached token is replaced.
	refreshMargin    = 5 * time.Minute
	defaultExpiresIn = 3600
	requestTimeout   = 15 * time.Second
)

// Config configures the token backend client.
type Config struct {
	URL         string
	ClientToken string
	HTTPClient  *http.Client
}

// endpointSource fetches access tokens from the relay's token endpoint.
type endpointSource struct {
	url         string
	clientToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewHTTPTokenSource returns a token source for url. Tokens are cached and
// replaced five minutes before they expire; concurrent callers share one fetch.
func NewHTTPTokenSource(config Config, logger *zap.Logger) (oauth2.TokenSource, error) {
	if config.URL == "" {
		return nil, errors.New("token URL is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	src := &endpointSource{
		url:         config.URL,
		clientToken: config.ClientToken,
		httpClient:  httpClient,
		logger:      logger,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, src, refreshMargin), nil
}

// Token fetches a fresh token.
func (s *endpointSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	token := &oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   tokenType,
		Expiry:      time.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	s.logger.Info("Access token refreshed", zap.Time("expiresAt", token.Expiry))
	return token, nil
}

func (s *endpointSource) fetch(ctx context.Context) (*domain.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.clientToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.clientToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("token backend returned %d: %s", resp.StatusCode, string(body))
	}

	var token domain.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("no access token received from backend")
	}
	return &token, nil
}
