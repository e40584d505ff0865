package f0

import (
	"fmt"
	"math"

	algofft "github.com/cwbudde/algo-fft"
)

const (
	// DefaultFrameLength is the YIN analysis frame in samples.
	DefaultFrameLength = 2048
	// DefaultTroughThreshold is the CMNDF level below which the first trough
	// is accepted as the period.
	DefaultTroughThreshold = 0.1

	// Correlation and energy terms below this are treated as zero.
	yinEpsilon = 1e-6
	// tinyFloat is the smallest normal float64.
	tinyFloat = 0x1p-1022
)

// YIN tracks the fundamental of a monophonic signal with the YIN algorithm.
// The signal is centred by zero-padding FrameLength/2 samples on both sides,
// so a signal of n samples yields 1 + n/Hop frames. It is not safe for
// concurrent use.
type YIN struct {
	sampleRate  float64
	fmin, fmax  float64
	frameLength int
	winLength   int
	hop         int
	threshold   float64

	minPeriod int
	maxPeriod int

	plan    *algofft.Plan[complex128]
	fftSize int
	raw     []float64
	frame   []complex128
	window  []complex128
	lag     []complex128
	diff    []float64
	cmndf   []float64
}

// YINOption configures a YIN tracker.
type YINOption func(*YIN)

// WithFrameLength sets the analysis frame length. The integration window is
// half of it and the hop defaults to a quarter.
func WithFrameLength(n int) YINOption {
	return func(y *YIN) {
		y.frameLength = n
	}
}

// WithYINHop sets the frame advance in samples.
func WithYINHop(h int) YINOption {
	return func(y *YIN) {
		y.hop = h
	}
}

// WithTroughThreshold sets the CMNDF acceptance threshold.
func WithTroughThreshold(v float64) YINOption {
	return func(y *YIN) {
		y.threshold = v
	}
}

// NewYIN creates a tracker for the given sample rate and search range.
func NewYIN(sampleRate, fmin, fmax float64, opts ...YINOption) (*YIN, error) {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: sample rate must be positive and finite: %v", ErrInvalidInput, sampleRate)
	}

	if !(fmin > 0) || !(fmax > fmin) {
		return nil, fmt.Errorf("%w: need 0 < fmin < fmax: fmin=%v fmax=%v", ErrInvalidInput, fmin, fmax)
	}

	y := &YIN{
		sampleRate:  sampleRate,
		fmin:        fmin,
		fmax:        fmax,
		frameLength: DefaultFrameLength,
		threshold:   DefaultTroughThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(y)
		}
	}

	if y.frameLength < 4 {
		return nil, fmt.Errorf("%w: frame length must be >= 4: %d", ErrInvalidInput, y.frameLength)
	}

	y.winLength = y.frameLength / 2
	if y.hop == 0 {
		y.hop = y.frameLength / 4
	}

	if y.hop < 1 {
		return nil, fmt.Errorf("%w: hop must be >= 1: %d", ErrInvalidInput, y.hop)
	}

	if !(y.threshold > 0) {
		return nil, fmt.Errorf("%w: trough threshold must be > 0: %v", ErrInvalidInput, y.threshold)
	}

	y.minPeriod = max(int(math.Floor(sampleRate/fmax)), 1)
	y.maxPeriod = min(int(math.Ceil(sampleRate/fmin)), y.frameLength-y.winLength-1)
	if y.minPeriod >= y.maxPeriod {
		return nil, fmt.Errorf("%w: empty period range [%d, %d] for fmin=%v fmax=%v at %v Hz",
			ErrInvalidInput, y.minPeriod, y.maxPeriod, fmin, fmax, sampleRate)
	}

	y.fftSize = 1
	for y.fftSize < y.frameLength {
		y.fftSize <<= 1
	}

	plan, err := algofft.NewPlan64(y.fftSize)
	if err != nil {
		return nil, fmt.Errorf("f0: failed to create FFT plan: %w", err)
	}

	y.plan = plan
	y.raw = make([]float64, y.frameLength)
	y.frame = make([]complex128, y.fftSize)
	y.window = make([]complex128, y.fftSize)
	y.lag = make([]complex128, y.fftSize)
	y.diff = make([]float64, y.frameLength-y.winLength)
	y.cmndf = make([]float64, y.maxPeriod-y.minPeriod+1)

	return y, nil
}

// Hop returns the frame advance in samples.
func (y *YIN) Hop() int { return y.hop }

// FrameCount returns the number of frames Track produces for n samples.
func (y *YIN) FrameCount(n int) int { return 1 + n/y.hop }

// Track returns one F0 estimate per frame.
func (y *YIN) Track(samples []float64) (Contour, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty signal", ErrInvalidInput)
	}

	frames := y.FrameCount(len(samples))
	out := make(Contour, frames)
	pad := y.frameLength / 2

	for m := range frames {
		start := m*y.hop - pad
		for i := range y.raw {
			idx := start + i
			if idx >= 0 && idx < len(samples) {
				y.raw[i] = samples[idx]
			} else {
				y.raw[i] = 0
			}
		}

		if err := y.difference(); err != nil {
			return nil, err
		}

		y.normalize()
		out[m] = y.sampleRate / y.period()
	}

	return out, nil
}

// difference fills y.diff[tau] = sum_{j=1..win} (x[j] - x[j+tau])^2 for the
// frame in y.raw. The lag product comes from an FFT cross-correlation of the
// integration window against the whole frame.
func (y *YIN) difference() error {
	for i := range y.fftSize {
		var v float64
		if i < y.frameLength {
			v = y.raw[i]
		}

		y.frame[i] = complex(v, 0)
		if i >= 1 && i <= y.winLength {
			y.window[i] = complex(v, 0)
		} else {
			y.window[i] = 0
		}
	}

	if err := y.plan.Forward(y.frame, y.frame); err != nil {
		return fmt.Errorf("f0: forward FFT failed: %w", err)
	}

	if err := y.plan.Forward(y.window, y.window); err != nil {
		return fmt.Errorf("f0: forward FFT failed: %w", err)
	}

	for i, w := range y.window {
		y.window[i] = complex(real(w), -imag(w)) * y.frame[i]
	}

	if err := y.plan.Inverse(y.lag, y.window); err != nil {
		return fmt.Errorf("f0: inverse FFT failed: %w", err)
	}

	// energy tracks sum_{j=tau+1..tau+win} x[j]^2.
	var energy float64
	for j := 1; j <= y.winLength; j++ {
		energy += y.raw[j] * y.raw[j]
	}

	energy0 := clampTiny(energy)
	for tau := range y.diff {
		if tau > 0 {
			in := y.raw[tau+y.winLength]
			outgoing := y.raw[tau]
			energy += in*in - outgoing*outgoing
		}

		acf := clampTiny(real(y.lag[tau]))
		y.diff[tau] = energy0 + clampTiny(energy) - 2*acf
	}

	return nil
}

// normalize computes the cumulative-mean-normalised difference for lags
// minPeriod..maxPeriod.
func (y *YIN) normalize() {
	var cum float64
	for tau := 1; tau <= y.maxPeriod; tau++ {
		cum += y.diff[tau]
		if tau < y.minPeriod {
			continue
		}

		mean := cum / float64(tau)
		y.cmndf[tau-y.minPeriod] = y.diff[tau] / (mean + tinyFloat)
	}
}

// period picks the first trough below the threshold, or the global minimum
// when there is none, and refines it by parabolic interpolation.
func (y *YIN) period() float64 {
	c := y.cmndf
	best := -1

	for i := range c {
		if c[i] < y.threshold && isTrough(c, i) {
			best = i
			break
		}
	}

	if best < 0 {
		best = 0
		for i, v := range c {
			if v < c[best] {
				best = i
			}
		}
	}

	return float64(y.minPeriod+best) + parabolicShift(c, best)
}

func isTrough(c []float64, i int) bool {
	switch {
	case i == 0:
		return len(c) > 1 && c[0] < c[1]
	case i == len(c)-1:
		return c[i] < c[i-1]
	default:
		return c[i] < c[i-1] && c[i] <= c[i+1]
	}
}

func parabolicShift(c []float64, i int) float64 {
	if i <= 0 || i >= len(c)-1 {
		return 0
	}

	a := c[i+1] + c[i-1] - 2*c[i]
	b := (c[i+1] - c[i-1]) / 2
	if math.Abs(b) >= math.Abs(a) {
		return 0
	}

	return -b / a
}

func clampTiny(v float64) float64 {
	if math.Abs(v) < yinEpsilon {
		return 0
	}

	return v
}
