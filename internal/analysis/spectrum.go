package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// Spectrum is the one-sided amplitude spectrum of a uniformly sampled
// series with its mean removed. DominantBin is the strongest non-zero
// frequency bin.
type Spectrum struct {
	N              int
	Dt             float64
	Amplitude      []float64
	DominantBin    int
	DominantPeriod float64
}

// Frequency returns the frequency of bin k in cycles per time unit.
func (s *Spectrum) Frequency(k int) float64 {
	return float64(k) / (float64(s.N) * s.Dt)
}

// Analyze needs at least four samples; any length works.
func Analyze(values []float64, dt float64) (*Spectrum, error) {
	if dt <= 0 {
		return nil, fmt.Errorf("dt must be positive, got %g", dt)
	}
	n := len(values)
	if n < 4 {
		return nil, fmt.Errorf("need at least 4 samples, got %d", n)
	}

	mean := 0.0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("series contains %g", v)
		}
		mean += v
	}
	mean /= float64(n)

	centered := make([]float64, n)
	for i, v := range values {
		centered[i] = v - mean
	}

	coeffs := fft.FFTReal(centered)
	amp := make([]float64, n/2+1)
	for k := range amp {
		amp[k] = cmplx.Abs(coeffs[k]) / float64(n)
	}

	s := &Spectrum{N: n, Dt: dt, Amplitude: amp}
	for k := 1; k < len(amp); k++ {
		if s.DominantBin == 0 || amp[k] > amp[s.DominantBin] {
			s.DominantBin = k
		}
	}
	s.DominantPeriod = float64(n) * dt / float64(s.DominantBin)
	return s, nil
}
