// Package shift applies semitone shifts to F0 contours and waveforms.
package shift

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"
	"github.com/cwbudde/algo-dsp/dsp/resample"
)

const (
	// MaxSemitones bounds the waveform shift in either direction.
	MaxSemitones = 24.0

	// DefaultFrameSize and DefaultHop match the analysis grid used elsewhere in
	// the pipeline.
	DefaultFrameSize = 2048
	DefaultHop       = 512
)

var (
	// ErrShiftRange indicates a shift outside [-MaxSemitones, MaxSemitones] or
	// a non-finite shift.
	ErrShiftRange = errors.New("shift: semitones out of range")
	// ErrInvalidInput indicates an empty waveform or bad sample rate.
	ErrInvalidInput = errors.New("shift: invalid input")
)

// Ratio converts semitones to a frequency ratio.
func Ratio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// Contour scales every frame of f0 by 2^(semitones/12). A zero shift returns
// f0 itself; otherwise a new slice is returned and f0 is left untouched.
func Contour(f0 []float64, semitones float64) []float64 {
	if semitones == 0 {
		return f0
	}

	ratio := Ratio(semitones)
	out := make([]float64, len(f0))
	for i, v := range f0 {
		out[i] = v * ratio
	}

	return out
}

// Option configures a Shifter.
type Option func(*config)

type config struct {
	frameSize int
	hop       int
	quality   resample.Quality
}

// WithFrameSize sets the phase-vocoder frame length.
func WithFrameSize(n int) Option {
	return func(c *config) {
		c.frameSize = n
	}
}

// WithHop sets the analysis hop.
func WithHop(h int) Option {
	return func(c *config) {
		c.hop = h
	}
}

// WithResampleQuality sets the quality of the duration-correcting resampler.
func WithResampleQuality(q resample.Quality) Option {
	return func(c *config) {
		c.quality = q
	}
}

// Shifter changes the pitch of a waveform while preserving its duration.
// It is not safe for concurrent use.
type Shifter struct {
	sampleRate float64
	cfg        config
	vocoder    *pitch.SpectralPitchShifter
}

// NewShifter creates a Shifter for the given sample rate.
func NewShifter(sampleRate int, opts ...Option) (*Shifter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be > 0: %d", ErrInvalidInput, sampleRate)
	}

	cfg := config{
		frameSize: DefaultFrameSize,
		hop:       DefaultHop,
		quality:   resample.QualityBalanced,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	v, err := pitch.NewSpectralPitchShifter(float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}

	if err := v.SetFrameSize(cfg.frameSize); err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}

	if err := v.SetAnalysisHop(cfg.hop); err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}

	v.SetResampleQuality(cfg.quality)

	return &Shifter{sampleRate: float64(sampleRate), cfg: cfg, vocoder: v}, nil
}

// Process returns samples shifted by semitones with the same length. A zero
// shift returns samples itself.
func (s *Shifter) Process(samples []float64, semitones float64) ([]float64, error) {
	if semitones == 0 {
		return samples, nil
	}

	if math.IsNaN(semitones) || math.Abs(semitones) > MaxSemitones {
		return nil, fmt.Errorf("%w: %v (limit ±%v)", ErrShiftRange, semitones, MaxSemitones)
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: empty waveform", ErrInvalidInput)
	}

	if err := s.vocoder.SetPitchSemitones(semitones); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShiftRange, err)
	}

	s.vocoder.Reset()

	out, err := s.vocoder.ProcessWithError(samples)
	if err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}

	return out, nil
}

// Waveform is a one-shot helper around NewShifter and Process.
func Waveform(samples []float64, sampleRate int, semitones float64) ([]float64, error) {
	if semitones == 0 {
		return samples, nil
	}

	s, err := NewShifter(sampleRate)
	if err != nil {
		return nil, err
	}

	return s.Process(samples, semitones)
}
