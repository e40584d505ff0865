package convert

import (
	"context"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/dsp/shift"
	"github.com/cwbudde/algo-karaoke/dsp/signal"
	"github.com/cwbudde/algo-karaoke/dsp/timbre"
	"github.com/cwbudde/algo-karaoke/internal/wavio"
)

// DefaultQuality is the default value of the inert quality setting.
const DefaultQuality = 128

// Result is everything a conversion produced.
type Result struct {
	F0        f0.Contour
	ShiftedF0 f0.Contour
	F0Method  f0.Method
	// F0Fallback is the neural model's failure reason when F0 came from the
	// YIN fallback.
	F0Fallback error

	// Processed is the shifted (and, for a nonzero shift, smoothed) waveform
	// before normalisation. For a zero shift it is the input itself.
	Processed Waveform
	// Output is Processed scaled to the target peak.
	Output Waveform

	InputLevels  Levels
	OutputLevels Levels

	Semitones float64
	Trace     []State
}

// Visited reports whether the run passed through s.
func (r *Result) Visited(s State) bool {
	for _, v := range r.Trace {
		if v == s {
			return true
		}
	}

	return false
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSemitones sets the pitch shift.
func WithSemitones(s float64) Option {
	return func(p *Pipeline) {
		p.semitones = s
	}
}

// WithModelPath records a voice model path. It has no effect on processing.
func WithModelPath(path string) Option {
	return func(p *Pipeline) {
		p.modelPath = path
	}
}

// WithQuality records a quality setting. It has no effect on processing.
func WithQuality(q int) Option {
	return func(p *Pipeline) {
		p.quality = q
	}
}

// WithTargetPeak overrides the 0.9 output peak.
func WithTargetPeak(peak float64) Option {
	return func(p *Pipeline) {
		p.targetPeak = peak
	}
}

// WithLogger sets the progress logger.
func WithLogger(l log.Interface) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// Pipeline converts waveforms. It keeps no per-run state, so one Pipeline may
// serve concurrent runs as long as its estimator's model allows it.
type Pipeline struct {
	estimator  *f0.Estimator
	semitones  float64
	modelPath  string
	quality    int
	targetPeak float64
	logger     log.Interface
}

// New creates a Pipeline around an F0 estimator.
func New(estimator *f0.Estimator, opts ...Option) (*Pipeline, error) {
	if estimator == nil {
		return nil, errors.New("pipeline needs an f0 estimator")
	}

	p := &Pipeline{
		estimator:  estimator,
		quality:    DefaultQuality,
		targetPeak: signal.DefaultTargetPeak,
		logger:     log.Log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if p.targetPeak <= 0 || p.targetPeak > 1 {
		return nil, errors.Newf("target peak must be in (0, 1]: %v", p.targetPeak)
	}

	if p.modelPath != "" {
		p.logger.WithField("model", p.modelPath).Warn("Voice model path is accepted but not used yet")
	}

	if p.quality != DefaultQuality {
		p.logger.WithField("quality", p.quality).Warn("Quality setting is accepted but not used yet")
	}

	return p, nil
}

// Semitones returns the configured shift.
func (p *Pipeline) Semitones() float64 { return p.semitones }

// ModelPath returns the inert model path.
func (p *Pipeline) ModelPath() string { return p.modelPath }

// Quality returns the inert quality setting.
func (p *Pipeline) Quality() int { return p.quality }

// Run converts w up to the Normalized state.
func (p *Pipeline) Run(ctx context.Context, w Waveform) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, conversionFailure(err, "invalid input waveform")
	}

	logger := p.logger.WithFields(log.Fields{
		"samples":    len(w.Samples),
		"sampleRate": w.SampleRate,
		"semitones":  p.semitones,
	})

	res := &Result{Semitones: p.semitones, Trace: []State{StateLoaded}}
	res.InputLevels = MeasureLevels(w)
	logger.WithFields(levelFields(res.InputLevels)).Info("Audio loaded")

	est, err := p.estimator.Estimate(ctx, w.Samples, w.SampleRate)
	if err != nil {
		return nil, conversionFailure(err, "extracting f0")
	}

	if est.Fallback != nil {
		logger.WithError(est.Fallback).Warn("Neural pitch model failed, used yin fallback")
	}

	res.F0 = est.Contour
	res.F0Method = est.Method
	res.F0Fallback = est.Fallback
	res.Trace = append(res.Trace, StateF0Extracted)
	logger.WithFields(log.Fields{
		"frames": len(est.Contour),
		"method": est.Method,
	}).Info("F0 extracted")

	if err := ctx.Err(); err != nil {
		return nil, conversionFailure(err, "cancelled after f0 extraction")
	}

	res.ShiftedF0 = shift.Contour(res.F0, p.semitones)

	samples, err := shift.Waveform(w.Samples, w.SampleRate, p.semitones)
	if err != nil {
		return nil, conversionFailure(err, "shifting waveform")
	}

	res.Trace = append(res.Trace, StateShifted)

	if p.semitones != 0 {
		logger.Info("Applied pitch shift")

		if err := ctx.Err(); err != nil {
			return nil, conversionFailure(err, "cancelled after pitch shift")
		}

		samples, err = timbre.Perturb(samples, w.SampleRate)
		if err != nil {
			return nil, conversionFailure(err, "smoothing spectrum")
		}

		res.Trace = append(res.Trace, StateSmoothed)
		logger.Info("Applied spectral smoothing")
	}

	res.Processed = Waveform{Samples: samples, SampleRate: w.SampleRate}

	normalized, err := signal.NormalizePeak(samples, p.targetPeak)
	if err != nil {
		return nil, conversionFailure(err, "normalising output")
	}

	res.Output = Waveform{Samples: normalized, SampleRate: w.SampleRate}
	res.Trace = append(res.Trace, StateNormalized)
	res.OutputLevels = MeasureLevels(res.Output)
	logger.WithFields(levelFields(res.OutputLevels)).Info("Output normalised")

	return res, nil
}

// ConvertFile loads inPath, runs the pipeline and writes the result to
// outPath, creating its directory. A missing input is reported as
// ErrInputNotFound before anything else happens.
func (p *Pipeline) ConvertFile(ctx context.Context, inPath, outPath string) (*Result, error) {
	if _, err := os.Stat(inPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Mark(errors.Wrapf(err, "input file not found: %s", inPath), ErrInputNotFound)
		}

		return nil, conversionFailure(err, "checking input file")
	}

	start := time.Now()
	logger := p.logger.WithFields(log.Fields{
		"input":  inPath,
		"output": outPath,
	})

	logger.Info("Loading audio")

	samples, sampleRate, err := wavio.Load(inPath)
	if err != nil {
		return nil, conversionFailure(err, "loading input audio")
	}

	res, err := p.Run(ctx, Waveform{Samples: samples, SampleRate: sampleRate})
	if err != nil {
		return nil, err
	}

	logger.Info("Saving converted audio")

	if err := wavio.Save(outPath, res.Output.Samples, res.Output.SampleRate); err != nil {
		return nil, conversionFailure(err, "saving output audio")
	}

	res.Trace = append(res.Trace, StateSaved)
	logger.WithField("elapsed", time.Since(start).String()).Info("Voice conversion completed")

	return res, nil
}

func levelFields(l Levels) log.Fields {
	return log.Fields{
		"peak_db": l.PeakDB,
		"rms_db":  l.RMSDB,
		"lufs":    l.LUFS,
	}
}
