package vad

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/internal/audio"
)

const (
	// DefaultMaxSpeechDuration bounds worst-case latency for a runaway utterance.
	DefaultMaxSpeechDuration = 30 * time.Second

	// DefaultCalibrationWindow is how long ambient noise is sampled.
	DefaultCalibrationWindow = 1000 * time.Millisecond

	calibrationNoiseFloor  = 0.02
	calibrationEnergyScale = 1.5
	calibrationSpeechScale = 1.3
	minCalibratedEnergy    = 0.03
	minCalibratedSpeech    = 0.12
)

// ErrCaptureClosed reports that the frame source ended during calibration or
// while listening.
var ErrCaptureClosed = errors.New("capture closed")

// Source is the capture side the detector listens to.
type Source interface {
	Open(ctx context.Context) error
	Frames() <-chan audio.Frame
	StartRecording()
	StopRecording(keep bool) (entities.AudioBuffer, bool)
	Close() error
}

// Utterance is one detected speech segment.
type Utterance struct {
	Audio     entities.AudioBuffer
	Duration  time.Duration
	StartedAt time.Time
	Forced    bool
	// Err is set, with no audio, when the run ended because capture stopped.
	Err error
}

type detectorState int

const (
	stateSilent detectorState = iota
	stateSpeaking
)

// Detector classifies frames as speech or silence and emits one utterance
// per Start.
type Detector struct {
	source    Source
	logger    *zap.Logger
	defaults  entities.VADThresholds
	maxSpeech time.Duration

	mu          sync.Mutex
	thresholds  entities.VADThresholds
	state       detectorState
	speechStart time.Time
	lastSpeech  time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewDetector creates a detector over source using thresholds as the profile defaults.
func NewDetector(source Source, thresholds entities.VADThresholds, logger *zap.Logger) *Detector {
	return &Detector{
		source:     source,
		logger:     logger,
		defaults:   thresholds,
		thresholds: thresholds,
		maxSpeech:  DefaultMaxSpeechDuration,
	}
}

// Open acquires the capture device.
func (d *Detector) Open(ctx context.Context) error {
	return d.source.Open(ctx)
}

// Thresholds returns the thresholds in effect.
func (d *Detector) Thresholds() entities.VADThresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholds
}

// IsSpeaking reports whether an utterance is in progress.
func (d *Detector) IsSpeaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateSpeaking
}

// Calibrate samples ambient noise for window and scales the thresholds to
// the observed floor. A quiet room restores the profile defaults.
func (d *Detector) Calibrate(ctx context.Context, window time.Duration) (entities.VADThresholds, error) {
	if window <= 0 {
		window = DefaultCalibrationWindow
	}

	frames := d.source.Frames()
	deadline := time.NewTimer(2*window + time.Second)
	defer deadline.Stop()

	var start time.Time
	var sumEnergy, sumSpeech float64
	count := 0

collect:
	for {
		select {
		case <-ctx.Done():
			return d.Thresholds(), ctx.Err()
		case <-deadline.C:
			break collect
		case frame, ok := <-frames:
			if !ok {
				if count == 0 {
					return d.Thresholds(), ErrCaptureClosed
				}
				break collect
			}
			if start.IsZero() {
				start = frame.At
			}
			sumEnergy += frame.Energy
			sumSpeech += frame.SpeechEnergy
			count++
			if frame.At.Sub(start) >= window {
				break collect
			}
		}
	}

	if count == 0 {
		d.logger.Warn("No frames received during calibration, keeping thresholds")
		return d.Thresholds(), nil
	}

	avgEnergy := sumEnergy / float64(count)
	avgSpeech := sumSpeech / float64(count)

	d.mu.Lock()
	if avgEnergy > calibrationNoiseFloor {
		d.thresholds.EnergyThreshold = math.Max(minCalibratedEnergy, avgEnergy*calibrationEnergyScale)
		d.thresholds.SpeechFrequencyThreshold = math.Max(minCalibratedSpeech, avgSpeech*calibrationSpeechScale)
	} else {
		d.thresholds.EnergyThreshold = d.defaults.EnergyThreshold
		d.thresholds.SpeechFrequencyThreshold = d.defaults.SpeechFrequencyThreshold
	}
	thresholds := d.thresholds
	d.mu.Unlock()

	d.logger.Info("VAD calibrated",
		zap.Float64("ambientEnergy", avgEnergy),
		zap.Float64("ambientSpeechEnergy", avgSpeech),
		zap.Float64("energyThreshold", thresholds.EnergyThreshold),
		zap.Float64("speechFrequencyThreshold", thresholds.SpeechFrequencyThreshold),
		zap.Int("frames", count))

	return thresholds, nil
}

// Start begins listening. A run already in progress is stopped and its
// recording discarded first. The returned channel yields at most one
// utterance and is closed when the run ends.
func (d *Detector) Start(ctx context.Context) (<-chan Utterance, error) {
	d.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan Utterance, 1)
	done := make(chan struct{})

	d.mu.Lock()
	d.state = stateSilent
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.run(runCtx, d.source.Frames(), out, done)

	d.logger.Debug("VAD listening")
	return out, nil
}

// Stop ends the current run, discarding any partial recording. Safe to call repeatedly.
func (d *Detector) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	d.source.StopRecording(false)
	d.mu.Lock()
	d.state = stateSilent
	d.mu.Unlock()
}

// Cleanup stops listening and releases the capture device.
func (d *Detector) Cleanup() error {
	d.Stop()
	return d.source.Close()
}

func (d *Detector) run(ctx context.Context, frames <-chan audio.Frame, out chan<- Utterance, done chan struct{}) {
	defer close(done)
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				d.logger.Warn("Capture ended while listening")
				out <- Utterance{Err: ErrCaptureClosed}
				return
			}
			if utterance, emitted := d.process(frame); emitted {
				out <- utterance
				return
			}
		}
	}
}

// process advances the state machine by one frame.
func (d *Detector) process(frame audio.Frame) (Utterance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	th := d.thresholds
	isSpeech := frame.Energy > th.EnergyThreshold && frame.SpeechEnergy > th.SpeechFrequencyThreshold

	switch d.state {
	case stateSilent:
		if isSpeech {
			d.state = stateSpeaking
			d.speechStart = frame.At
			d.lastSpeech = frame.At
			d.source.StartRecording()
			d.logger.Debug("Speech started",
				zap.Float64("energy", frame.Energy),
				zap.Float64("speechEnergy", frame.SpeechEnergy))
		}
		return Utterance{}, false

	case stateSpeaking:
		if isSpeech {
			d.lastSpeech = frame.At
		}

		if frame.At.Sub(d.speechStart) >= d.maxSpeech {
			d.logger.Info("Maximum speech duration reached, forcing utterance end",
				zap.Duration("maxSpeech", d.maxSpeech))
			return d.emitLocked(true), true
		}

		if frame.At.Sub(d.lastSpeech) < th.SilenceThreshold {
			return Utterance{}, false
		}

		if d.lastSpeech.Sub(d.speechStart) >= th.MinSpeechDuration {
			return d.emitLocked(false), true
		}

		d.logger.Debug("Speech too short, treating as noise",
			zap.Duration("speechDuration", d.lastSpeech.Sub(d.speechStart)))
		d.source.StopRecording(false)
		d.state = stateSilent
	}

	return Utterance{}, false
}

func (d *Detector) emitLocked(forced bool) Utterance {
	buf, _ := d.source.StopRecording(true)
	utterance := Utterance{
		Audio:     buf,
		Duration:  d.lastSpeech.Sub(d.speechStart),
		StartedAt: d.speechStart,
		Forced:    forced,
	}
	d.state = stateSilent

	d.logger.Info("Utterance captured",
		zap.Duration("duration", utterance.Duration),
		zap.Int("bytes", buf.Size()),
		zap.Bool("forced", forced))
	return utterance
}
