package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/adapters/device"
	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/internal/audio"
	"github.com/resonira/voiceagent/internal/config"
	"github.com/resonira/voiceagent/internal/pipeline"
	"github.com/resonira/voiceagent/internal/vad"
	"github.com/resonira/voiceagent/usecase"
)

func main() {
	autoStart := flag.Bool("start", false, "start the conversation immediately")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cleanup.run(shutdownCtx)
		logger.Info("Voice agent exited")
	}()

	pa, err := device.NewPortAudio(logger)
	if err != nil {
		logger.Error("Failed to initialize audio", zap.Error(err))
		return
	}
	cleanup.add(func(context.Context) { pa.Terminate() })

	capture := audio.NewCaptureSession(pa, audio.CaptureConfig{SampleRate: cfg.Speech.SampleRate}, logger)
	detector := vad.NewDetector(capture, cfg.VAD.Thresholds(), logger)

	transcription := buildTranscription(ctx, cfg, &cleanup, logger)

	generation, err := buildGeneration(ctx, cfg, logger)
	if err != nil {
		logger.Error("No language model available", zap.Error(err))
		return
	}

	primaryVoice, fallbackVoice, err := buildVoices(ctx, cfg, &cleanup, logger)
	if err != nil {
		logger.Error("No synthesis backend available", zap.Error(err))
		return
	}
	synthesis := usecase.NewSynthesisClient(primaryVoice, fallbackVoice, audio.NewPlaybackManager(pa, logger), logger)
	synthesis.SetEnabled(cfg.Features.EnableAudio)

	deps := usecase.ConversationDeps{
		Detector:    detector,
		Frames:      capture,
		Pipeline:    pipeline.NewOrchestrator(transcription, generation, synthesis, logger),
		Voice:       synthesis,
		Transcripts: buildTranscripts(ctx, cfg, &cleanup, logger),
	}
	if transcription.CanStream() {
		deps.Streamer = transcription
	}

	conversation := usecase.NewConversation(deps, usecase.ConversationConfig{
		Calibrate:         cfg.VAD.Calibrate,
		CalibrationWindow: time.Duration(cfg.VAD.CalibrationMs) * time.Millisecond,
		EnableStreaming:   cfg.Features.EnableStreaming,
		EnableBargeIn:     cfg.Features.EnableBargeIn,
		MinBlobBytes:      cfg.Conversation.MinBlobBytes,
		HistoryTurns:      cfg.Conversation.HistoryCap / 2,
		DisplayTurns:      cfg.Conversation.DisplayTurns,
		TypingInterval:    time.Duration(cfg.Features.TypingIntervalMs) * time.Millisecond,
		Metadata: entities.ConversationMetadata{
			Language:   cfg.Speech.LanguageCode,
			VADProfile: cfg.VAD.Profile,
			Streaming:  cfg.Features.EnableStreaming,
		},
	}, logger)
	cleanup.add(func(context.Context) {
		if conversation.IsActive() {
			conversation.Stop()
		}
	})

	events, unsubscribe := conversation.Subscribe()
	defer unsubscribe()
	go printEvents(events)

	fmt.Println("Enter: start/stop  m: toggle audio  h: history  q: quit")
	if *autoStart {
		toggle(ctx, conversation, logger)
	}

	commands := readCommands(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case command, ok := <-commands:
			if !ok {
				return
			}
			switch command {
			case "":
				toggle(ctx, conversation, logger)
			case "m":
				if conversation.ToggleAudio() {
					fmt.Println("[audio on]")
				} else {
					fmt.Println("[audio off]")
				}
			case "h":
				printHistory(conversation.History())
			case "q":
				return
			default:
				fmt.Printf("unknown command %q\n", command)
			}
		}
	}
}

func toggle(ctx context.Context, conversation *usecase.Conversation, logger *zap.Logger) {
	if conversation.IsActive() {
		conversation.Stop()
		return
	}
	if err := conversation.Start(ctx); err != nil && !errors.Is(err, usecase.ErrAlreadyActive) && !domain.IsStopped(err) {
		logger.Error("Failed to start conversation", zap.Error(err))
	}
}

// readCommands turns stdin lines into commands until ctx is done or stdin closes.
func readCommands(ctx context.Context) <-chan string {
	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case commands <- strings.ToLower(strings.TrimSpace(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()
	return commands
}

// printEvents renders state changes and the display text. Text that grows
// by appending, as the typing effect does, is printed incrementally.
func printEvents(events <-chan usecase.StateEvent) {
	var lastState entities.ConversationState = -1
	var lastText string
	for event := range events {
		if event.State != lastState {
			if lastText != "" {
				fmt.Println()
				lastText = ""
			}
			fmt.Printf("[%s]\n", event.State)
			lastState = event.State
		}
		switch text := event.DisplayText; {
		case text == lastText:
		case lastText != "" && strings.HasPrefix(text, lastText):
			fmt.Print(text[len(lastText):])
		default:
			if lastText != "" {
				fmt.Println()
			}
			fmt.Print(text)
		}
		lastText = event.DisplayText
		if event.Err != nil {
			fmt.Printf("\nerror: %v\n", event.Err)
			lastText = ""
		}
	}
}

func printHistory(turns []entities.ConversationTurn) {
	if len(turns) == 0 {
		fmt.Println("(no turns yet)")
		return
	}
	for _, turn := range turns {
		fmt.Printf("You: %s\n", turn.UserText)
		fmt.Printf("Assistant: %s\n", turn.AssistantText)
	}
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
