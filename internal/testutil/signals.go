package testutil

import (
	"math"
	"math/cmplx"
	"math/rand"

	algofft "github.com/cwbudde/algo-fft"
)

// Sine generates a deterministic sine wave starting at phase 0.
func Sine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// Vowel generates a deterministic harmonic tone with a 1/k amplitude roll-off,
// a rough stand-in for a sustained sung vowel.
func Vowel(f0Hz, sampleRate, amplitude float64, harmonics, length int) []float64 {
	out := make([]float64, length)
	for k := 1; k <= harmonics; k++ {
		freq := f0Hz * float64(k)
		if freq >= sampleRate/2 {
			break
		}
		step := 2 * math.Pi * freq / sampleRate
		gain := amplitude / float64(k)
		for i := range out {
			out[i] += gain * math.Sin(step*float64(i))
		}
	}
	return out
}

// Noise generates white noise with a fixed seed for reproducibility.
func Noise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// Silence returns length zero samples.
func Silence(length int) []float64 {
	return make([]float64, length)
}

// DominantFrequency returns the frequency in Hz of the largest magnitude bin
// of a Hann-windowed FFT over the whole signal (zero-padded to a power of
// two). Parabolic interpolation refines the peak between bins.
func DominantFrequency(samples []float64, sampleRate float64) (float64, error) {
	n := 1
	for n < len(samples) {
		n <<= 1
	}

	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return 0, err
	}

	buf := make([]complex128, n)
	for i, v := range samples {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(len(samples)))
		buf[i] = complex(v*w, 0)
	}

	if err := plan.Forward(buf, buf); err != nil {
		return 0, err
	}

	half := n / 2
	peak := 1
	for k := 1; k < half; k++ {
		if cmplx.Abs(buf[k]) > cmplx.Abs(buf[peak]) {
			peak = k
		}
	}

	shift := 0.0
	if peak > 0 && peak < half-1 {
		a := cmplx.Abs(buf[peak-1])
		b := cmplx.Abs(buf[peak])
		c := cmplx.Abs(buf[peak+1])
		if den := a - 2*b + c; den != 0 {
			shift = 0.5 * (a - c) / den
		}
	}

	return (float64(peak) + shift) * sampleRate / float64(n), nil
}

// PeakAbs returns the largest absolute sample value.
func PeakAbs(samples []float64) float64 {
	peak := 0.0
	for _, v := range samples {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return peak
}
