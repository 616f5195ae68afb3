package vad

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
	"github.com/resonira/voiceagent/internal/audio"
)

type fakeSource struct {
	frames chan audio.Frame

	mu        sync.Mutex
	recording bool
	starts    int
	kept      int
	discarded int
	closed    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan audio.Frame, 1024)}
}

func (f *fakeSource) Open(ctx context.Context) error { return nil }

func (f *fakeSource) Frames() <-chan audio.Frame { return f.frames }

func (f *fakeSource) StartRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = true
	f.starts++
}

func (f *fakeSource) StopRecording(keep bool) (entities.AudioBuffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wasRecording := f.recording
	f.recording = false
	if !wasRecording {
		return entities.AudioBuffer{}, false
	}
	if !keep {
		f.discarded++
		return entities.AudioBuffer{}, false
	}
	f.kept++
	return entities.AudioBuffer{Data: make([]byte, 6000), Encoding: entities.EncodingLinear16, SampleRate: 16000}, true
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// feed queues frames every step from from to to (exclusive) with the given energies.
func (f *fakeSource) feed(from, to, step time.Duration, energy, speech float64) {
	for at := from; at < to; at += step {
		f.frames <- audio.Frame{Energy: energy, SpeechEnergy: speech, At: epoch.Add(at)}
	}
}

func collect(t *testing.T, utterances <-chan Utterance, timeout time.Duration) []Utterance {
	t.Helper()
	var got []Utterance
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-utterances:
			if !ok {
				return got
			}
			got = append(got, u)
		case <-deadline:
			return got
		}
	}
}

func TestDetectorEmitsOneUtteranceAfterSilence(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	utterances, err := detector.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	step := 50 * time.Millisecond
	source.feed(0, 1200*time.Millisecond, step, 0.3, 0.4)
	source.feed(1200*time.Millisecond, 2100*time.Millisecond, step, 0.01, 0.01)

	got := collect(t, utterances, time.Second)
	if len(got) != 1 {
		t.Fatalf("Expected exactly one utterance, got %d", len(got))
	}

	diff := got[0].Duration - 1200*time.Millisecond
	if diff < -100*time.Millisecond || diff > 100*time.Millisecond {
		t.Errorf("Expected duration near 1200ms, got %v", got[0].Duration)
	}
	if got[0].Forced {
		t.Error("Expected a natural end, not a forced one")
	}
	if got[0].Audio.Size() == 0 {
		t.Error("Expected captured audio")
	}
	if !got[0].StartedAt.Equal(epoch) {
		t.Errorf("Expected start at epoch, got %v", got[0].StartedAt)
	}
}

func TestDetectorShortBurstIsNoise(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	utterances, _ := detector.Start(context.Background())

	step := 50 * time.Millisecond
	source.feed(0, 300*time.Millisecond, step, 0.3, 0.4)
	source.feed(300*time.Millisecond, 1500*time.Millisecond, step, 0.01, 0.01)

	got := collect(t, utterances, 200*time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("Expected no utterance for a short burst, got %d", len(got))
	}
	if detector.IsSpeaking() {
		t.Error("Expected detector to reset to silent")
	}

	source.mu.Lock()
	discarded := source.discarded
	source.mu.Unlock()
	if discarded != 1 {
		t.Errorf("Expected the burst recording to be discarded once, got %d", discarded)
	}

	detector.Stop()
}

func TestDetectorPauseInsideUtteranceDoesNotEndIt(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())
	utterances, _ := detector.Start(context.Background())

	step := 50 * time.Millisecond
	source.feed(0, 500*time.Millisecond, step, 0.3, 0.4)
	source.feed(500*time.Millisecond, 900*time.Millisecond, step, 0.01, 0.01) // 400ms pause
	source.feed(900*time.Millisecond, 1500*time.Millisecond, step, 0.3, 0.4)
	source.feed(1500*time.Millisecond, 2500*time.Millisecond, step, 0.01, 0.01)

	got := collect(t, utterances, time.Second)
	if len(got) != 1 {
		t.Fatalf("Expected one utterance, got %d", len(got))
	}
	if got[0].Duration < 1400*time.Millisecond {
		t.Errorf("Expected the pause to be inside the utterance, got %v", got[0].Duration)
	}
}

func TestDetectorRequiresBothThresholds(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())
	utterances, _ := detector.Start(context.Background())

	// loud but outside the speech band
	source.feed(0, 2000*time.Millisecond, 50*time.Millisecond, 0.5, 0.05)

	if got := collect(t, utterances, 200*time.Millisecond); len(got) != 0 {
		t.Fatalf("Expected no utterance, got %d", len(got))
	}
	if detector.IsSpeaking() {
		t.Error("Expected detector to stay silent")
	}
	detector.Stop()
}

func TestDetectorForcesEndAfterMaxSpeech(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())
	utterances, _ := detector.Start(context.Background())

	source.feed(0, 31*time.Second, 500*time.Millisecond, 0.3, 0.4)

	got := collect(t, utterances, time.Second)
	if len(got) != 1 {
		t.Fatalf("Expected one forced utterance, got %d", len(got))
	}
	if !got[0].Forced {
		t.Error("Expected utterance to be forced")
	}
	if got[0].Duration != DefaultMaxSpeechDuration {
		t.Errorf("Expected duration %v, got %v", DefaultMaxSpeechDuration, got[0].Duration)
	}
}

func TestDetectorRestartDiscardsPriorRun(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	first, _ := detector.Start(context.Background())
	source.feed(0, 300*time.Millisecond, 50*time.Millisecond, 0.3, 0.4)

	// wait until the detector has consumed the frames
	deadline := time.Now().Add(time.Second)
	for (!detector.IsSpeaking() || len(source.frames) > 0) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !detector.IsSpeaking() {
		t.Fatal("Expected detector to be speaking")
	}

	second, _ := detector.Start(context.Background())

	if _, ok := <-first; ok {
		t.Error("Expected first run to end without an utterance")
	}
	if detector.IsSpeaking() {
		t.Error("Expected restart to reset state")
	}

	source.mu.Lock()
	discarded := source.discarded
	source.mu.Unlock()
	if discarded != 1 {
		t.Errorf("Expected prior recording to be discarded, got %d", discarded)
	}

	detector.Stop()
	if _, ok := <-second; ok {
		t.Error("Expected second run to close on Stop")
	}
}

func TestDetectorCleanupClosesSource(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())
	detector.Start(context.Background())

	if err := detector.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if !source.closed {
		t.Error("Expected source to be closed")
	}
	// second stop is a no-op
	detector.Stop()
}

func TestCalibrateScalesForNoisyRoom(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	source.feed(0, 1100*time.Millisecond, 50*time.Millisecond, 0.1, 0.2)

	thresholds, err := detector.Calibrate(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}

	if !near(thresholds.EnergyThreshold, 0.15) {
		t.Errorf("Expected energy threshold 0.15, got %f", thresholds.EnergyThreshold)
	}
	if !near(thresholds.SpeechFrequencyThreshold, 0.26) {
		t.Errorf("Expected speech threshold 0.26, got %f", thresholds.SpeechFrequencyThreshold)
	}
	if thresholds.SilenceThreshold != 800*time.Millisecond {
		t.Errorf("Expected silence threshold untouched, got %v", thresholds.SilenceThreshold)
	}
}

func TestCalibrateAppliesFloors(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	source.feed(0, 1100*time.Millisecond, 50*time.Millisecond, 0.021, 0.05)

	thresholds, _ := detector.Calibrate(context.Background(), time.Second)
	if !near(thresholds.EnergyThreshold, 0.0315) {
		t.Errorf("Expected energy threshold 0.0315, got %f", thresholds.EnergyThreshold)
	}
	if !near(thresholds.SpeechFrequencyThreshold, 0.12) {
		t.Errorf("Expected speech floor 0.12, got %f", thresholds.SpeechFrequencyThreshold)
	}
}

func TestCalibrateQuietRoomKeepsDefaults(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.MobileThresholds(), zap.NewNop())

	source.feed(0, 1100*time.Millisecond, 50*time.Millisecond, 0.01, 0.01)

	thresholds, err := detector.Calibrate(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if thresholds != entities.MobileThresholds() {
		t.Errorf("Expected mobile defaults, got %+v", thresholds)
	}
}

func TestCalibrateClosedSource(t *testing.T) {
	source := newFakeSource()
	close(source.frames)
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())

	if _, err := detector.Calibrate(context.Background(), time.Second); err != ErrCaptureClosed {
		t.Errorf("Expected ErrCaptureClosed, got %v", err)
	}
}

func TestDetectorReportsCaptureLoss(t *testing.T) {
	source := newFakeSource()
	detector := NewDetector(source, entities.DesktopThresholds(), zap.NewNop())
	utterances, err := detector.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	source.feed(0, 300*time.Millisecond, 50*time.Millisecond, 0.001, 0.001)
	close(source.frames)

	got := collect(t, utterances, time.Second)
	if len(got) != 1 {
		t.Fatalf("Expected one terminal value, got %d", len(got))
	}
	if got[0].Err != ErrCaptureClosed {
		t.Errorf("Expected ErrCaptureClosed, got %v", got[0].Err)
	}
	if got[0].Audio.Size() != 0 {
		t.Errorf("Expected no audio with a capture error, got %d bytes", got[0].Audio.Size())
	}
	detector.Stop()
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
