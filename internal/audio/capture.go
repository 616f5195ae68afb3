package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/domain/repositories"
)

const (
	defaultSampleRate    = 16000
	defaultFrameSize     = 512  // 32ms at 16kHz
	defaultFFTSize       = 2048 // analysis window
	defaultPrerollFrames = 3
	frameBufferSize      = 64
)

// CaptureConfig configures a capture session.
type CaptureConfig struct {
	SampleRate    int
	FrameSize     int
	FFTSize       int
	PrerollFrames int
}

// Frame is one analysed block of microphone audio.
type Frame struct {
	Energy       float64
	SpeechEnergy float64
	At           time.Time
	Samples      []int16
}

// CaptureSession owns one microphone stream and its recorder.
type CaptureSession struct {
	device repositories.AudioDevice
	config CaptureConfig
	logger *zap.Logger
	now    func() time.Time

	level atomic.Uint64

	mu        sync.Mutex
	input     repositories.AudioInput
	frames    chan Frame
	recording bool
	chunks    []entities.AudioChunk
	preroll   []entities.AudioChunk
}

// NewCaptureSession creates a capture session on device.
func NewCaptureSession(device repositories.AudioDevice, config CaptureConfig, logger *zap.Logger) *CaptureSession {
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if config.FrameSize == 0 {
		config.FrameSize = defaultFrameSize
	}
	if config.FFTSize == 0 {
		config.FFTSize = defaultFFTSize
	}
	if config.PrerollFrames == 0 {
		config.PrerollFrames = defaultPrerollFrames
	}

	return &CaptureSession{
		device: device,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Open acquires the microphone. An already open stream is closed first.
func (c *CaptureSession) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.input != nil {
		c.logger.Info("Closing previous capture stream before reopening")
		c.closeLocked()
	}

	input, err := c.device.Open(ctx, c.config.SampleRate, c.config.FrameSize)
	if err != nil {
		return &domain.DeviceError{Op: "open", Err: err}
	}

	c.input = input
	c.frames = make(chan Frame, frameBufferSize)
	c.recording = false
	c.chunks = nil
	c.preroll = nil
	c.level.Store(0)

	go c.readLoop(input, c.frames, c.now())

	c.logger.Info("Microphone opened",
		zap.Int("sampleRate", c.config.SampleRate),
		zap.Int("frameSize", c.config.FrameSize))
	return nil
}

// IsOpen reports whether a stream is held.
func (c *CaptureSession) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input != nil
}

// Frames returns the analysed frames of the current stream. The channel
// is closed when the stream ends.
func (c *CaptureSession) Frames() <-chan Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frames == nil {
		closed := make(chan Frame)
		close(closed)
		return closed
	}
	return c.frames
}

// ReadLevel returns the latest overall energy, 0..1.
func (c *CaptureSession) ReadLevel() float64 {
	return math.Float64frombits(c.level.Load())
}

// StartRecording begins accumulating audio, seeded with a short pre-roll.
// Any unflushed recording is discarded.
func (c *CaptureSession) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunks = append([]entities.AudioChunk(nil), c.preroll...)
	c.preroll = nil
	c.recording = true
}

// StopRecording ends the recording and returns the assembled buffer when keep is true.
func (c *CaptureSession) StopRecording(keep bool) (entities.AudioBuffer, bool) {
	c.mu.Lock()
	chunks := c.chunks
	c.chunks = nil
	c.recording = false
	c.mu.Unlock()

	if !keep || len(chunks) == 0 {
		return entities.AudioBuffer{}, false
	}
	return entities.NewAudioBuffer(chunks, entities.EncodingLinear16, c.config.SampleRate), true
}

// SampleRate returns the capture rate.
func (c *CaptureSession) SampleRate() int {
	return c.config.SampleRate
}

// Close releases the microphone. Safe to call repeatedly.
func (c *CaptureSession) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *CaptureSession) closeLocked() error {
	if c.input == nil {
		return nil
	}
	input := c.input
	c.input = nil
	c.frames = nil
	c.recording = false
	c.chunks = nil
	c.preroll = nil

	if err := input.Close(); err != nil {
		c.logger.Warn("Failed to close microphone", zap.Error(err))
		return &domain.DeviceError{Op: "close", Err: err}
	}
	c.logger.Info("Microphone released")
	return nil
}

func (c *CaptureSession) readLoop(input repositories.AudioInput, frames chan Frame, start time.Time) {
	defer close(frames)

	analyzer := NewAnalyzer(c.config.FFTSize, c.config.SampleRate)
	window := make([]int16, analyzer.Size())
	var samplesRead int64

	for {
		pcm, err := input.Read()
		if err != nil {
			c.mu.Lock()
			current := c.input == input
			c.mu.Unlock()
			if current {
				c.logger.Error("Microphone read failed", zap.Error(err))
			}
			return
		}
		if len(pcm) == 0 {
			continue
		}

		slideWindow(window, pcm)
		energy, speechEnergy := analyzer.Analyze(window)
		c.level.Store(math.Float64bits(energy))

		samplesRead += int64(len(pcm))
		at := start.Add(time.Duration(samplesRead) * time.Second / time.Duration(c.config.SampleRate))
		chunk := entities.AudioChunk{Data: SamplesToBytes(pcm), CapturedAt: at}

		c.mu.Lock()
		if c.input != input {
			c.mu.Unlock()
			return
		}
		if c.recording {
			c.chunks = append(c.chunks, chunk)
		} else {
			c.preroll = append(c.preroll, chunk)
			if over := len(c.preroll) - c.config.PrerollFrames; over > 0 {
				c.preroll = c.preroll[over:]
			}
		}
		c.mu.Unlock()

		frame := Frame{
			Energy:       energy,
			SpeechEnergy: speechEnergy,
			At:           at,
			Samples:      pcm,
		}
		select {
		case frames <- frame:
		default:
			c.logger.Debug("Dropping analysis frame, consumer is behind")
		}
	}
}

func slideWindow(window, pcm []int16) {
	if len(pcm) >= len(window) {
		copy(window, pcm[len(pcm)-len(window):])
		return
	}
	copy(window, window[len(pcm):])
	copy(window[len(window)-len(pcm):], pcm)
}

// SamplesToBytes encodes samples as little-endian LINEAR16.
func SamplesToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
