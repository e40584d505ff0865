// Package timbre applies a crude timbre perturbation by smoothing each
// frequency bin's magnitude envelope over time while keeping the phase.
package timbre

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-karaoke/dsp/savgol"
	"github.com/cwbudde/algo-karaoke/dsp/stft"
)

// ErrInvalidInput indicates an empty signal or an unusable sample rate.
var ErrInvalidInput = errors.New("timbre: invalid input")

// Option configures a Perturber.
type Option func(*config)

type config struct {
	fftSize int
	hop     int
	window  int
	order   int
}

// WithFFTSize overrides the STFT frame length.
func WithFFTSize(n int) Option {
	return func(c *config) {
		c.fftSize = n
	}
}

// WithHop overrides the STFT hop.
func WithHop(h int) Option {
	return func(c *config) {
		c.hop = h
	}
}

// WithSmoothing overrides the Savitzky-Golay window and polynomial order.
func WithSmoothing(window, order int) Option {
	return func(c *config) {
		c.window = window
		c.order = order
	}
}

// Perturber smooths magnitude envelopes. It is not safe for concurrent use.
type Perturber struct {
	sampleRate float64
	transform  *stft.Transform
	smoother   *savgol.Smoother
}

// NewPerturber creates a Perturber with a 2048/512 STFT and a 5-point
// quadratic smoother unless overridden.
func NewPerturber(sampleRate float64, opts ...Option) (*Perturber, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be > 0: %v", ErrInvalidInput, sampleRate)
	}

	cfg := config{
		fftSize: stft.DefaultFFTSize,
		hop:     stft.DefaultHop,
		window:  savgol.DefaultWindow,
		order:   savgol.DefaultOrder,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	tr, err := stft.New(stft.WithFFTSize(cfg.fftSize), stft.WithHop(cfg.hop))
	if err != nil {
		return nil, fmt.Errorf("timbre: %w", err)
	}

	sm, err := savgol.New(cfg.window, cfg.order)
	if err != nil {
		return nil, fmt.Errorf("timbre: %w", err)
	}

	return &Perturber{sampleRate: sampleRate, transform: tr, smoother: sm}, nil
}

// SampleRate returns the configured sample rate.
func (p *Perturber) SampleRate() float64 { return p.sampleRate }

// Process returns a perturbed copy of samples with the same length.
func (p *Perturber) Process(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty signal", ErrInvalidInput)
	}

	frames, err := p.transform.Analyze(samples)
	if err != nil {
		return nil, fmt.Errorf("timbre: analysis failed: %w", err)
	}

	for k, row := range frames.Magnitude {
		smoothed, err := p.smooth(row)
		if err != nil {
			return nil, fmt.Errorf("timbre: bin %d: %w", k, err)
		}

		// Negative lobes of the smoother are kept; they flip the bin's phase
		// on resynthesis.
		frames.Magnitude[k] = smoothed
	}

	out, err := p.transform.Synthesize(frames, len(samples))
	if err != nil {
		return nil, fmt.Errorf("timbre: synthesis failed: %w", err)
	}

	return out, nil
}

func (p *Perturber) smooth(row []float64) ([]float64, error) {
	if len(row) < p.smoother.Window() {
		return savgol.Filter(row, p.smoother.Window(), p.smoother.Order())
	}

	return p.smoother.Apply(row)
}

// Perturb is a one-shot helper using the default configuration.
func Perturb(samples []float64, sampleRate int) ([]float64, error) {
	p, err := NewPerturber(float64(sampleRate))
	if err != nil {
		return nil, err
	}

	return p.Process(samples)
}
