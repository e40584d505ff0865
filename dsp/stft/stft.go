package stft

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// DefaultFFTSize is the analysis frame length in samples.
	DefaultFFTSize = 2048
	// DefaultHop is the frame advance in samples (FFTSize/4).
	DefaultHop = 512

	minFFTSize = 16
	wssFloor   = 1e-10
)

var (
	// ErrEmptyInput indicates a zero-length signal.
	ErrEmptyInput = errors.New("stft: empty input")
	// ErrShapeMismatch indicates magnitude and phase matrices of different shape.
	ErrShapeMismatch = errors.New("stft: magnitude and phase shape mismatch")
)

// Frames is a spectral frame set. Magnitude and Phase are indexed
// [bin][frame] and always share dimensions.
type Frames struct {
	Magnitude [][]float64
	Phase     [][]float64
	FFTSize   int
	Hop       int
}

// Bins returns the number of frequency bins (FFTSize/2 + 1).
func (f *Frames) Bins() int { return len(f.Magnitude) }

// Len returns the number of time frames.
func (f *Frames) Len() int {
	if len(f.Magnitude) == 0 {
		return 0
	}
	return len(f.Magnitude[0])
}

// Validate checks that the magnitude and phase matrices are consistent.
func (f *Frames) Validate() error {
	if f.FFTSize < minFFTSize || f.FFTSize&(f.FFTSize-1) != 0 {
		return fmt.Errorf("stft: fft size must be a power of two >= %d: %d", minFFTSize, f.FFTSize)
	}

	if f.Hop <= 0 || f.Hop > f.FFTSize {
		return fmt.Errorf("stft: hop must be in [1, %d]: %d", f.FFTSize, f.Hop)
	}

	bins := f.FFTSize/2 + 1
	if len(f.Magnitude) != bins || len(f.Phase) != bins {
		return fmt.Errorf("%w: want %d bins, got %d/%d", ErrShapeMismatch, bins, len(f.Magnitude), len(f.Phase))
	}

	frames := f.Len()
	for k := range bins {
		if len(f.Magnitude[k]) != frames || len(f.Phase[k]) != frames {
			return fmt.Errorf("%w: bin %d", ErrShapeMismatch, k)
		}
	}

	return nil
}

// Option configures a Transform.
type Option func(*config)

type config struct {
	fftSize int
	hop     int
}

// WithFFTSize sets the frame length. It must be a power of two.
func WithFFTSize(n int) Option {
	return func(c *config) {
		c.fftSize = n
	}
}

// WithHop sets the frame advance in samples.
func WithHop(h int) Option {
	return func(c *config) {
		c.hop = h
	}
}

// Transform holds the FFT plan and window for one frame size. It is not
// safe for concurrent use.
type Transform struct {
	fftSize int
	hop     int
	window  []float64
	plan    *algofft.Plan[complex128]

	frame     []float64
	spectrum  []complex128
	timeFrame []complex128
}

// New creates a Transform. Without options it uses DefaultFFTSize and DefaultHop.
func New(opts ...Option) (*Transform, error) {
	cfg := config{fftSize: DefaultFFTSize, hop: DefaultHop}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if cfg.fftSize < minFFTSize || cfg.fftSize&(cfg.fftSize-1) != 0 {
		return nil, fmt.Errorf("stft: fft size must be a power of two >= %d: %d", minFFTSize, cfg.fftSize)
	}

	if cfg.hop <= 0 || cfg.hop > cfg.fftSize {
		return nil, fmt.Errorf("stft: hop must be in [1, %d]: %d", cfg.fftSize, cfg.hop)
	}

	plan, err := algofft.NewPlan64(cfg.fftSize)
	if err != nil {
		return nil, fmt.Errorf("stft: failed to create FFT plan: %w", err)
	}

	return &Transform{
		fftSize:  cfg.fftSize,
		hop:      cfg.hop,
		window:   window.Generate(window.TypeHann, cfg.fftSize, window.WithPeriodic()),
		plan:     plan,
		frame:     make([]float64, cfg.fftSize),
		spectrum:  make([]complex128, cfg.fftSize),
		timeFrame: make([]complex128, cfg.fftSize),
	}, nil
}

// FFTSize returns the frame length.
func (t *Transform) FFTSize() int { return t.fftSize }

// Hop returns the frame advance.
func (t *Transform) Hop() int { return t.hop }

// FrameCount returns the number of frames Analyze produces for n samples.
func (t *Transform) FrameCount(n int) int {
	return 1 + n/t.hop
}

// Analyze computes the magnitude and phase of each centred frame.
func (t *Transform) Analyze(samples []float64) (*Frames, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}

	half := t.fftSize / 2
	bins := half + 1
	frames := t.FrameCount(len(samples))

	out := &Frames{
		Magnitude: make([][]float64, bins),
		Phase:     make([][]float64, bins),
		FFTSize:   t.fftSize,
		Hop:       t.hop,
	}
	for k := range bins {
		out.Magnitude[k] = make([]float64, frames)
		out.Phase[k] = make([]float64, frames)
	}

	for m := range frames {
		// Frame m covers padded[m*hop : m*hop+fftSize], padded = [half zeros | samples | half zeros].
		start := m*t.hop - half
		for i := range t.frame {
			idx := start + i
			if idx >= 0 && idx < len(samples) {
				t.frame[i] = samples[idx]
			} else {
				t.frame[i] = 0
			}
		}

		vecmath.MulBlockInPlace(t.frame, t.window)

		for i, v := range t.frame {
			t.spectrum[i] = complex(v, 0)
		}

		if err := t.plan.Forward(t.spectrum, t.spectrum); err != nil {
			return nil, fmt.Errorf("stft: forward FFT failed: %w", err)
		}

		for k := range bins {
			re := real(t.spectrum[k])
			im := imag(t.spectrum[k])
			out.Magnitude[k][m] = math.Hypot(re, im)
			out.Phase[k][m] = math.Atan2(im, re)
		}
	}

	return out, nil
}

// Synthesize reconstructs a signal of exactly length samples from f. The
// frame set must have been produced with this Transform's size and hop.
func (t *Transform) Synthesize(f *Frames, length int) ([]float64, error) {
	if length <= 0 {
		return nil, fmt.Errorf("stft: synthesis length must be > 0: %d", length)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	if f.FFTSize != t.fftSize || f.Hop != t.hop {
		return nil, fmt.Errorf("stft: frame set is %d/%d, transform is %d/%d",
			f.FFTSize, f.Hop, t.fftSize, t.hop)
	}

	half := t.fftSize / 2
	frames := f.Len()
	if frames == 0 {
		return nil, ErrEmptyInput
	}

	olaLen := t.fftSize + t.hop*(frames-1)
	ola := make([]float64, olaLen)
	wss := make([]float64, olaLen)

	for m := range frames {
		for k := 0; k <= half; k++ {
			mag := f.Magnitude[k][m]
			ph := f.Phase[k][m]
			t.spectrum[k] = complex(mag*math.Cos(ph), mag*math.Sin(ph))
		}

		t.spectrum[0] = complex(real(t.spectrum[0]), 0)
		t.spectrum[half] = complex(real(t.spectrum[half]), 0)
		for k := 1; k < half; k++ {
			v := t.spectrum[k]
			t.spectrum[t.fftSize-k] = complex(real(v), -imag(v))
		}

		if err := t.plan.Inverse(t.timeFrame, t.spectrum); err != nil {
			return nil, fmt.Errorf("stft: inverse FFT failed: %w", err)
		}

		pos := m * t.hop
		for i := range t.fftSize {
			w := t.window[i]
			ola[pos+i] += real(t.timeFrame[i]) * w
			wss[pos+i] += w * w
		}
	}

	for i := range ola {
		if wss[i] > wssFloor {
			ola[i] /= wss[i]
		}
	}

	out := make([]float64, length)
	if half < olaLen {
		copy(out, ola[half:])
	}

	return out, nil
}

// Analyze is a one-shot helper around New and Transform.Analyze.
func Analyze(samples []float64, opts ...Option) (*Frames, error) {
	t, err := New(opts...)
	if err != nil {
		return nil, err
	}

	return t.Analyze(samples)
}

// Synthesize is a one-shot helper around New and Transform.Synthesize using
// the frame set's own size and hop.
func Synthesize(f *Frames, length int) ([]float64, error) {
	t, err := New(WithFFTSize(f.FFTSize), WithHop(f.Hop))
	if err != nil {
		return nil, err
	}

	return t.Synthesize(f, length)
}
