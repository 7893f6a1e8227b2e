package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var ErrShortSignal = errors.New("signal too short")

// Spectrum holds the one-sided amplitude spectrum of a real signal.
type Spectrum struct {
	Freqs     []float64
	Amplitude []float64
}

// PowerSpectrum transforms signal sampled at rate Hz after removing its
// mean. A sinusoid of amplitude A shows up as A at its frequency bin.
func PowerSpectrum(signal []float64, rate float64) (*Spectrum, error) {
	n := len(signal)
	if n < 4 {
		return nil, ErrShortSignal
	}
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, errors.New("sample rate must be positive")
	}
	var mean float64
	for _, v := range signal {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("signal is not finite")
		}
		mean += v
	}
	mean /= float64(n)
	x := make([]float64, n)
	for i, v := range signal {
		x[i] = v - mean
	}

	c := fft.FFTReal(x)
	half := n / 2
	s := &Spectrum{Freqs: make([]float64, half+1), Amplitude: make([]float64, half+1)}
	for k := 0; k <= half; k++ {
		s.Freqs[k] = float64(k) * rate / float64(n)
		a := cmplx.Abs(c[k]) / float64(n)
		if k > 0 && 2*k != n {
			a *= 2
		}
		s.Amplitude[k] = a
	}
	return s, nil
}

// Dominant returns the strongest bin above DC.
func (s *Spectrum) Dominant() (freq, amplitude float64) {
	for k := 1; k < len(s.Amplitude); k++ {
		if s.Amplitude[k] > amplitude {
			freq, amplitude = s.Freqs[k], s.Amplitude[k]
		}
	}
	return freq, amplitude
}

// HighFrequencyRatio is the amplitude above cutoff over the amplitude of all
// bins above DC. A flat signal gives 0.
func (s *Spectrum) HighFrequencyRatio(cutoff float64) float64 {
	var high, total float64
	for k := 1; k < len(s.Amplitude); k++ {
		total += s.Amplitude[k]
		if s.Freqs[k] > cutoff {
			high += s.Amplitude[k]
		}
	}
	if total == 0 {
		return 0
	}
	return high / total
}
