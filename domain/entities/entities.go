package entities

import (
	"time"
)

// Audio encodings understood by the transcription and playback layers.
const (
	EncodingLinear16 = "LINEAR16"
	EncodingWebMOpus = "WEBM_OPUS"
	EncodingOggOpus  = "OGG_OPUS"
	EncodingMP3      = "MP3"
)

const (
	// compressedBitrate is the nominal bitrate assumed for opus captures.
	compressedBitrate = 32000

	// LongRunningThreshold is the estimated duration at which buffered
	// transcription switches from a synchronous request to submit-then-poll.
	LongRunningThreshold = 50 * time.Second
)

// AudioChunk is one slice of raw captured audio.
type AudioChunk struct {
	Data       []byte
	CapturedAt time.Time
}

// AudioBuffer is an assembled utterance handed to transcription.
type AudioBuffer struct {
	Data       []byte
	Encoding   string
	SampleRate int
}

// NewAudioBuffer assembles chunks into one buffer.
func NewAudioBuffer(chunks []AudioChunk, encoding string, sampleRate int) AudioBuffer {
	size := 0
	for _, c := range chunks {
		size += len(c.Data)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c.Data...)
	}
	return AudioBuffer{Data: data, Encoding: encoding, SampleRate: sampleRate}
}

// Size returns the buffer length in bytes.
func (b AudioBuffer) Size() int {
	return len(b.Data)
}

// EstimatedDuration derives playback length from the byte size.
// Uncompressed 16-bit PCM is exact; compressed encodings assume 32 kbps.
func (b AudioBuffer) EstimatedDuration() time.Duration {
	if b.Encoding == EncodingLinear16 && b.SampleRate > 0 {
		samples := len(b.Data) / 2
		return time.Duration(samples) * time.Second / time.Duration(b.SampleRate)
	}
	bits := int64(len(b.Data)) * 8
	return time.Duration(bits * int64(time.Second) / compressedBitrate)
}

// RequiresLongRunning reports whether the buffer should take the async path.
func (b AudioBuffer) RequiresLongRunning() bool {
	return b.EstimatedDuration() >= LongRunningThreshold
}

// AudioClip is synthesized speech ready for playback.
type AudioClip struct {
	Data       []byte
	Encoding   string
	SampleRate int
}

// VADThresholds drive the speech/silence classifier.
type VADThresholds struct {
	EnergyThreshold          float64       `json:"energyThreshold" mapstructure:"energyThreshold"`
	SpeechFrequencyThreshold float64       `json:"speechFrequencyThreshold" mapstructure:"speechFrequencyThreshold"`
	SilenceThreshold         time.Duration `json:"silenceThreshold" mapstructure:"silenceThreshold"`
	MinSpeechDuration        time.Duration `json:"minSpeechDuration" mapstructure:"minSpeechDuration"`
}

// DesktopThresholds are the defaults for a desk microphone.
func DesktopThresholds() VADThresholds {
	return VADThresholds{
		EnergyThreshold:          0.05,
		SpeechFrequencyThreshold: 0.15,
		SilenceThreshold:         800 * time.Millisecond,
		MinSpeechDuration:        600 * time.Millisecond,
	}
}

// MobileThresholds are more sensitive and wait longer before ending a turn.
func MobileThresholds() VADThresholds {
	return VADThresholds{
		EnergyThreshold:          0.03,
		SpeechFrequencyThreshold: 0.15,
		SilenceThreshold:         1200 * time.Millisecond,
		MinSpeechDuration:        600 * time.Millisecond,
	}
}

// ThresholdsForProfile returns the defaults for "desktop" or "mobile".
func ThresholdsForProfile(profile string) VADThresholds {
	if profile == "mobile" {
		return MobileThresholds()
	}
	return DesktopThresholds()
}
