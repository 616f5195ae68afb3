package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Decibel range mapped onto 0..1, matching a browser AnalyserNode's byte frequency data.
const (
	minDecibels = -100.0
	maxDecibels = -30.0

	// Voiced speech band.
	speechBandLowHz  = 300.0
	speechBandHighHz = 3400.0
)

// Analyzer turns a window of PCM samples into overall and speech-band energy.
type Analyzer struct {
	fft        *fourier.FFT
	size       int
	sampleRate int
	window     []float64
	input      []float64
	coeffs     []complex128
	lowBin     int
	highBin    int
}

// NewAnalyzer creates an analyzer over windows of size samples.
func NewAnalyzer(size, sampleRate int) *Analyzer {
	window := make([]float64, size)
	for i := range window {
		// Blackman
		x := 2 * math.Pi * float64(i) / float64(size-1)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}

	binWidth := float64(sampleRate) / float64(size)
	lowBin := int(math.Ceil(speechBandLowHz / binWidth))
	highBin := int(math.Floor(speechBandHighHz / binWidth))
	if highBin >= size/2 {
		highBin = size/2 - 1
	}

	return &Analyzer{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		window:     window,
		input:      make([]float64, size),
		lowBin:     lowBin,
		highBin:    highBin,
	}
}

// Size returns the analysis window length.
func (a *Analyzer) Size() int {
	return a.size
}

// Analyze returns the mean normalized magnitude over all bins and over the
// 300-3400 Hz band. Shorter inputs are zero padded. Not safe for concurrent use.
func (a *Analyzer) Analyze(pcm []int16) (energy, speechEnergy float64) {
	for i := range a.input {
		var s float64
		if i < len(pcm) {
			s = float64(pcm[i]) / 32768
		}
		a.input[i] = s * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)

	bins := a.size / 2
	var total, band float64
	for k := 0; k < bins; k++ {
		v := normalizeMagnitude(cmplx.Abs(a.coeffs[k]) / float64(a.size))
		total += v
		if k >= a.lowBin && k <= a.highBin {
			band += v
		}
	}

	bandBins := a.highBin - a.lowBin + 1
	if bandBins <= 0 {
		return total / float64(bins), 0
	}
	return total / float64(bins), band / float64(bandBins)
}

func normalizeMagnitude(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(1, v))
}
