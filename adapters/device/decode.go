package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	"github.com/resonira/voiceagent/domain/entities"
)

const defaultClipSampleRate = 24000

var ErrUnsupportedClip = errors.New("unsupported clip encoding")

// DecodeClip turns a synthesized clip into mono 16-bit samples. LINEAR16
// clips may be raw or RIFF-wrapped; MP3 clips are decoded in full.
func DecodeClip(clip entities.AudioClip) ([]int16, int, error) {
	if len(clip.Data) == 0 {
		return nil, 0, errors.New("clip is empty")
	}

	switch clip.Encoding {
	case entities.EncodingLinear16, "":
		if bytes.HasPrefix(clip.Data, []byte("RIFF")) {
			streamer, format, err := wav.Decode(bytes.NewReader(clip.Data))
			if err != nil {
				return nil, 0, fmt.Errorf("failed to decode wav clip: %w", err)
			}
			return drain(streamer, format)
		}
		rate := clip.SampleRate
		if rate == 0 {
			rate = defaultClipSampleRate
		}
		return rawLinear16(clip.Data), rate, nil

	case entities.EncodingMP3:
		streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode mp3 clip: %w", err)
		}
		return drain(streamer, format)

	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedClip, clip.Encoding)
	}
}

func rawLinear16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// drain reads a beep stream to the end and downmixes it to mono.
func drain(streamer beep.StreamSeekCloser, format beep.Format) ([]int16, int, error) {
	defer streamer.Close()

	var samples []int16
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, s := range buf[:n] {
			samples = append(samples, toInt16((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, 0, err
	}
	return samples, int(format.SampleRate), nil
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(v * math.MaxInt16)
}
