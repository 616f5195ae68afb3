package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/adapters/llm"
	"github.com/resonira/voiceagent/adapters/stt"
	"github.com/resonira/voiceagent/adapters/token"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/api"
	"github.com/resonira/voiceagent/internal/auth"
	"github.com/resonira/voiceagent/internal/config"
	"github.com/resonira/voiceagent/internal/websocket"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a client token for the given client ID and exit")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	authenticator := auth.NewAuthenticator(cfg.Relay.ClientSecret, 0)
	if *issueToken != "" {
		clientToken, err := authenticator.GenerateClientToken(*issueToken)
		if err != nil {
			logger.Fatal("Failed to issue client token", zap.Error(err))
		}
		fmt.Println(clientToken)
		return
	}
	if !authenticator.Enabled() {
		logger.Warn("No relay client secret configured, client authentication is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{Auth: authenticator, Logger: logger}

	if cfg.Relay.GoogleCredentialsJSON != "" {
		deps.Tokens, err = token.NewServiceAccountTokenSource(ctx, []byte(cfg.Relay.GoogleCredentialsJSON))
		if err != nil {
			logger.Error("Google token endpoint disabled", zap.Error(err))
		}
	} else {
		logger.Warn("GOOGLE_SERVICE_ACCOUNT_JSON not set, token endpoint disabled")
	}

	if cfg.Relay.GroqAPIKey != "" {
		baseURL := cfg.Relay.GroqBaseURL
		if baseURL == "" {
			baseURL = llm.DefaultGroqBaseURL
		}
		clientConfig := openai.DefaultConfig(cfg.Relay.GroqAPIKey)
		clientConfig.BaseURL = baseURL
		deps.Chat = openai.NewClientWithConfig(clientConfig)
	} else {
		logger.Warn("GROQ_API_KEY not set, chat proxy disabled")
	}

	recognizer, err := stt.NewGoogleSpeechToText(ctx, stt.GoogleConfig{
		CredentialsJSON: []byte(cfg.Relay.GoogleCredentialsJSON),
		CredentialsFile: cfg.Speech.CredentialsFile,
	}, logger)
	if err != nil {
		logger.Error("Streaming transcription relay disabled", zap.Error(err))
	} else {
		defer recognizer.Close()

		deps.Hub = websocket.NewHub(recognizer, authenticator, repositories.AudioConfig{
			SampleRate:        cfg.Speech.SampleRate,
			Encoding:          cfg.Speech.Encoding,
			Language:          cfg.Speech.LanguageCode,
			Model:             cfg.Speech.Model,
			UseEnhanced:       cfg.Speech.UseEnhanced,
			EnablePunctuation: cfg.Speech.EnableAutomaticPunctuation,
		}, logger)
		go deps.Hub.Run(ctx)

		reaper := websocket.NewIdleReaper(deps.Hub, time.Duration(cfg.Relay.IdleTimeoutSeconds)*time.Second, 0, logger)
		reaper.Start()
		defer reaper.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, deps)

	port := strconv.Itoa(cfg.Relay.Port)
	go func() {
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay started", zap.String("port", port))

	<-ctx.Done()
	logger.Info("Relay is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Relay exited")
}

func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
