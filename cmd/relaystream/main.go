// Command relaystream streams an audio file through the transcription relay
// and prints the transcripts it returns.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/adapters/device"
	"github.com/resonira/voiceagent/adapters/stt"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/audio"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/api/stream-stt", "relay websocket endpoint")
	clientToken := flag.String("token", os.Getenv("VOICEAGENT_SPEECH_CLIENTTOKEN"), "relay client token")
	file := flag.String("file", "", "WAV, MP3 or raw LINEAR16 file to stream")
	sampleRate := flag.Int("rate", 16000, "sample rate of raw LINEAR16 input")
	language := flag.String("language", "en-US", "recognition language")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "audio per message")
	realtime := flag.Bool("realtime", true, "pace chunks at playback speed")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *file == "" {
		logger.Fatal("-file is required")
	}

	samples, rate, err := loadSamples(*file, *sampleRate)
	if err != nil {
		logger.Fatal("Failed to load audio", zap.String("file", *file), zap.Error(err))
	}
	logger.Info("Loaded audio",
		zap.Int("samples", len(samples)),
		zap.Int("sampleRate", rate),
		zap.Duration("duration", time.Duration(len(samples))*time.Second/time.Duration(rate)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relay, err := stt.NewRelaySpeechToText(stt.RelayConfig{URL: *url, ClientToken: *clientToken}, logger)
	if err != nil {
		logger.Fatal("Failed to create relay client", zap.Error(err))
	}

	stream, err := relay.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate:        rate,
		Encoding:          entities.EncodingLinear16,
		Language:          *language,
		EnablePunctuation: true,
	})
	if err != nil {
		logger.Fatal("Failed to open relay stream", zap.Error(err))
	}
	defer stream.Close()

	go func() {
		perChunk := int(int64(rate) * int64(*chunk) / int64(time.Second))
		if perChunk <= 0 {
			perChunk = rate / 10
		}
		for start := 0; start < len(samples); start += perChunk {
			end := min(start+perChunk, len(samples))
			if err := stream.Stream(audio.SamplesToBytes(samples[start:end])); err != nil {
				logger.Error("Failed to stream chunk", zap.Int("offset", start), zap.Error(err))
				return
			}
			if *realtime {
				select {
				case <-time.After(*chunk):
				case <-ctx.Done():
					return
				}
			}
		}
		logger.Info("Finished sending audio")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-stream.Deltas():
			if !ok {
				if err := stream.Err(); err != nil {
					logger.Error("Relay stream failed", zap.Error(err))
				}
				return
			}
			if delta.IsFinal {
				fmt.Printf("final:   %s\n", delta.Text)
				return
			}
			fmt.Printf("partial: %s\n", delta.Text)
		}
	}
}

func loadSamples(path string, rawRate int) ([]int16, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	clip := entities.AudioClip{Data: data, Encoding: entities.EncodingLinear16, SampleRate: rawRate}
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		clip.Encoding = entities.EncodingMP3
	}
	return device.DecodeClip(clip)
}
