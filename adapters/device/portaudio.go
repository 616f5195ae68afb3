package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const playbackFramesPerBuffer = 1920 // 80ms at 24kHz

// PortAudio is the host sound system. Initialize once per process and
// Terminate on shutdown.
type PortAudio struct {
	logger *zap.Logger
}

var (
	_ repositories.AudioDevice = (*PortAudio)(nil)
	_ repositories.AudioPlayer = (*PortAudio)(nil)
)

// NewPortAudio initializes the PortAudio library.
func NewPortAudio(logger *zap.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	return &PortAudio{logger: logger}, nil
}

// Terminate releases the library.
func (p *PortAudio) Terminate() error {
	return portaudio.Terminate()
}

// Open starts a mono 16-bit input stream on the default microphone.
func (p *PortAudio) Open(ctx context.Context, sampleRate, frameSize int) (repositories.AudioInput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buffer := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buffer), buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	p.logger.Debug("Input stream started", zap.Int("sampleRate", sampleRate), zap.Int("frameSize", frameSize))
	return &input{stream: stream, buffer: buffer}, nil
}

// Play decodes clip and renders it on the default output device.
func (p *PortAudio) Play(ctx context.Context, clip entities.AudioClip) (repositories.Playback, error) {
	samples, sampleRate, err := DecodeClip(clip)
	if err != nil {
		return nil, err
	}

	out := make([]int16, playbackFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(out), out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	p.logger.Debug("Playing clip",
		zap.String("encoding", clip.Encoding),
		zap.Int("sampleRate", sampleRate),
		zap.Int("samples", len(samples)))

	return startPlayback(ctx, &outputSink{stream: stream, out: out}, samples, len(out)), nil
}

type input struct {
	stream *portaudio.Stream
	buffer []int16

	mu     sync.Mutex
	closed bool
}

var errInputClosed = errors.New("input stream closed")

func (in *input) Read() ([]int16, error) {
	in.mu.Lock()
	closed := in.closed
	in.mu.Unlock()
	if closed {
		return nil, errInputClosed
	}

	if err := in.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return nil, nil
		}
		return nil, err
	}

	frame := make([]int16, len(in.buffer))
	copy(frame, in.buffer)
	return frame, nil
}

func (in *input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true

	if err := in.stream.Stop(); err != nil {
		in.stream.Close()
		return err
	}
	return in.stream.Close()
}

// outputSink writes fixed-size blocks to an output stream.
type outputSink struct {
	stream *portaudio.Stream
	out    []int16
}

func (s *outputSink) Write(block []int16) error {
	n := copy(s.out, block)
	for i := n; i < len(s.out); i++ {
		s.out[i] = 0
	}
	return s.stream.Write()
}

func (s *outputSink) Close() error {
	s.stream.Stop()
	return s.stream.Close()
}
