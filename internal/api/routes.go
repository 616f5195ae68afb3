package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/resonira/voiceagent/adapters/llm"
	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/auth"
	"github.com/resonira/voiceagent/internal/websocket"
)

// ChatCompleter is the chat completion client behind the proxy. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Deps are the relay's collaborators. Tokens and Chat are nil when their
// credentials are not configured.
type Deps struct {
	Hub    *websocket.Hub
	Auth   *auth.Authenticator
	Tokens oauth2.TokenSource
	Chat   ChatCompleter
	Logger *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	h := &handlers{Deps: deps}

	// Health check
	e.GET("/health", h.health)

	api := e.Group("/api")
	api.POST("/google-token", h.googleToken, h.requireClient)
	api.POST("/groq-chat", h.groqChat, h.requireClient)

	// The websocket may also authenticate inside its config message.
	api.GET("/stream-stt", h.streamSTT)
}

type handlers struct {
	Deps
}

func (h *handlers) health(c echo.Context) error {
	connections := 0
	if h.Hub != nil {
		connections = h.Hub.Count()
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Service:     "voiceagent-relay",
		Connections: connections,
	})
}

func requestToken(c echo.Context) string {
	if token := auth.BearerToken(c.Request().Header.Get("Authorization")); token != "" {
		return token
	}
	return c.QueryParam("token")
}

// requireClient rejects requests without a valid client token when auth is enabled.
func (h *handlers) requireClient(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.Auth == nil || !h.Auth.Enabled() {
			return next(c)
		}
		claims, err := h.Auth.ValidateToken(requestToken(c))
		if err != nil {
			h.Logger.Warn("Request rejected",
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "A valid client token is required",
			})
		}
		c.Set("clientID", claims.ClientID)
		return next(c)
	}
}

func (h *handlers) googleToken(c echo.Context) error {
	if h.Tokens == nil {
		h.Logger.Error("Google token requested but no service account is configured")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "not_configured",
			Message: "Google service account credentials not configured",
		})
	}

	token, err := h.Tokens.Token()
	if err != nil {
		h.Logger.Error("Failed to mint Google access token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: err.Error(),
		})
	}

	expiresIn := tokenLifetimeSeconds
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry
		expiresIn = int(time.Until(token.Expiry).Seconds())
	}

	h.Logger.Info("Issued Google access token", zap.Time("expiresAt", expiresAt))
	return c.JSON(http.StatusOK, domain.TokenResponse{
		AccessToken: token.AccessToken,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.UnixMilli(),
	})
}

func (h *handlers) groqChat(c echo.Context) error {
	var req domain.ChatProxyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ChatProxyResponse{Error: "Invalid request format"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, domain.ChatProxyResponse{Error: "Messages array is required"})
	}
	if h.Chat == nil {
		h.Logger.Error("Chat requested but no Groq API key is configured")
		return c.JSON(http.StatusInternalServerError, domain.ChatProxyResponse{Error: "Groq API key not configured"})
	}

	request := llm.ToOpenAIRequest(chatRequestWithDefaults(req))
	resp, err := h.Chat.CreateChatCompletion(c.Request().Context(), request)
	if err != nil {
		status := http.StatusInternalServerError
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			status = apiErr.HTTPStatusCode
		}
		h.Logger.Error("Groq completion failed", zap.Int("status", status), zap.Error(err))
		return c.JSON(status, domain.ChatProxyResponse{Error: err.Error()})
	}
	if len(resp.Choices) == 0 {
		return c.JSON(http.StatusInternalServerError, domain.ChatProxyResponse{Error: "No response from Groq AI"})
	}

	h.Logger.Debug("Proxied chat completion",
		zap.String("model", resp.Model),
		zap.Int("totalTokens", resp.Usage.TotalTokens))

	return c.JSON(http.StatusOK, domain.ChatProxyResponse{
		Response: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:    resp.Model,
		Usage: &domain.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

func chatRequestWithDefaults(req domain.ChatProxyRequest) repositories.CompletionRequest {
	orDefault := func(v *float32, def float32) float32 {
		if v == nil {
			return def
		}
		return *v
	}

	request := repositories.CompletionRequest{
		Messages:         req.Messages,
		Model:            req.Model,
		Temperature:      orDefault(req.Temperature, defaultChatTemperature),
		MaxTokens:        req.MaxTokens,
		TopP:             orDefault(req.TopP, defaultChatTopP),
		FrequencyPenalty: orDefault(req.FrequencyPenalty, defaultChatPenalty),
		PresencePenalty:  orDefault(req.PresencePenalty, defaultChatPenalty),
		Stop:             req.Stop,
	}
	if request.Model == "" {
		request.Model = defaultChatModel
	}
	if request.MaxTokens <= 0 {
		request.MaxTokens = defaultChatMaxTokens
	}
	if len(request.Stop) == 0 {
		request.Stop = defaultChatStop
	}
	return request
}

// streamSTT upgrades to the transcription relay. A token in the header or
// query is checked here; without one the client authenticates in its config message.
func (h *handlers) streamSTT(c echo.Context) error {
	if h.Hub == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "streaming_unavailable"})
	}

	var claims *auth.ClientClaims
	if token := requestToken(c); token != "" && h.Auth != nil && h.Auth.Enabled() {
		var err error
		claims, err = h.Auth.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired client token",
			})
		}
	}
	return h.Hub.ServeWS(c, claims)
}
