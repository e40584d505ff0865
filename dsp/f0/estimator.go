package f0

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/resample"
)

const (
	// ReferenceRate is the sample rate the neural model operates at.
	ReferenceRate = 16000
	// DefaultFMin and DefaultFMax bound the vocal search range in Hz.
	DefaultFMin = 50.0
	DefaultFMax = 550.0
	// ModelHop is the neural model's hop at ReferenceRate (10 ms).
	ModelHop = 160
	// DefaultHopLength is the caller-visible hop at the original rate.
	DefaultHopLength = 512
	// DefaultCapacity is the smallest neural model variant.
	DefaultCapacity = "tiny"

	fallbackHop = 512
)

var (
	// ErrInvalidInput indicates an empty signal or an unusable parameter.
	ErrInvalidInput = errors.New("f0: invalid input")
	// ErrEstimation indicates that neither the model nor the fallback produced
	// a contour.
	ErrEstimation = errors.New("f0: estimation failed")
	// ErrNoModel is reported as the fallback reason when no neural model is
	// configured.
	ErrNoModel = errors.New("f0: no neural model configured")
	// ErrEmptyContour is reported when a model returns no frames.
	ErrEmptyContour = errors.New("f0: model returned an empty contour")
)

// Device selects the compute backend handed to the neural model.
type Device int

const (
	// DeviceCPU runs the model on the CPU.
	DeviceCPU Device = iota
	// DeviceAccelerator runs the model on the preferred accelerator.
	DeviceAccelerator
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceAccelerator:
		return "accelerator"
	default:
		return fmt.Sprintf("Device(%d)", int(d))
	}
}

// Method names the algorithm that produced a contour.
type Method string

const (
	// MethodCrepe is the neural estimator with YIN fallback.
	MethodCrepe Method = "crepe"
	// MethodYIN is the classical estimator.
	MethodYIN Method = "yin"
)

// ParseMethod maps a user-supplied name to a Method. Unknown names report
// ok=false and map to MethodYIN.
func ParseMethod(s string) (m Method, ok bool) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodCrepe:
		return MethodCrepe, true
	case MethodYIN:
		return MethodYIN, true
	default:
		return MethodYIN, false
	}
}

// ModelConfig is what the estimator asks of the neural model.
type ModelConfig struct {
	SampleRate int
	HopLength  int
	FMin       float64
	FMax       float64
	Capacity   string
	Device     Device
}

// Outcome is the result of one model invocation: either a contour or the
// reason the model could not produce one.
type Outcome struct {
	Contour Contour
	Err     error
}

// Success wraps a contour.
func Success(c Contour) Outcome { return Outcome{Contour: c} }

// Failure wraps a failure reason.
func Failure(err error) Outcome { return Outcome{Err: err} }

// OK reports whether the outcome carries a usable contour.
func (o Outcome) OK() bool { return o.Err == nil && len(o.Contour) > 0 }

// Reason returns the failure reason, or nil for a usable outcome.
func (o Outcome) Reason() error {
	switch {
	case o.Err != nil:
		return o.Err
	case len(o.Contour) == 0:
		return ErrEmptyContour
	default:
		return nil
	}
}

// Model is a black-box neural pitch estimator. Implementations report
// failures through the Outcome and must not panic.
type Model interface {
	Predict(ctx context.Context, samples []float64, cfg ModelConfig) Outcome
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, samples []float64, cfg ModelConfig) Outcome

// Predict calls f.
func (f ModelFunc) Predict(ctx context.Context, samples []float64, cfg ModelConfig) Outcome {
	return f(ctx, samples, cfg)
}

// Result is a contour plus how it was obtained.
type Result struct {
	Contour Contour
	Method  Method
	// Fallback is the neural model's failure reason when the contour came
	// from the YIN fallback, nil otherwise.
	Fallback error
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithModel sets the neural model.
func WithModel(m Model) Option {
	return func(e *Estimator) {
		e.model = m
	}
}

// WithMethod selects the estimation method.
func WithMethod(m Method) Option {
	return func(e *Estimator) {
		e.method = m
	}
}

// WithDevice sets the device handed to the model.
func WithDevice(d Device) Option {
	return func(e *Estimator) {
		e.device = d
	}
}

// WithHopLength sets the hop at the original sample rate that neural
// contours are re-gridded to, and the hop of classical-only tracking.
func WithHopLength(h int) Option {
	return func(e *Estimator) {
		e.hop = h
	}
}

// WithRange sets the search range in Hz.
func WithRange(fmin, fmax float64) Option {
	return func(e *Estimator) {
		e.fmin = fmin
		e.fmax = fmax
	}
}

// WithResampleQuality sets the quality of the 16 kHz resampler.
func WithResampleQuality(q resample.Quality) Option {
	return func(e *Estimator) {
		e.quality = q
	}
}

// Estimator produces F0 contours. It holds no per-call state and may be
// shared, provided the Model may be.
type Estimator struct {
	model   Model
	method  Method
	device  Device
	hop     int
	fmin    float64
	fmax    float64
	quality resample.Quality
}

// NewEstimator creates an Estimator. The default method is MethodCrepe on
// DeviceCPU with hop 512 over 50-550 Hz.
func NewEstimator(opts ...Option) (*Estimator, error) {
	e := &Estimator{
		method:  MethodCrepe,
		device:  DeviceCPU,
		hop:     DefaultHopLength,
		fmin:    DefaultFMin,
		fmax:    DefaultFMax,
		quality: resample.QualityBalanced,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	if e.hop <= 0 {
		return nil, fmt.Errorf("%w: hop length must be > 0: %d", ErrInvalidInput, e.hop)
	}

	if !(e.fmin > 0) || !(e.fmax > e.fmin) {
		return nil, fmt.Errorf("%w: need 0 < fmin < fmax: fmin=%v fmax=%v", ErrInvalidInput, e.fmin, e.fmax)
	}

	switch e.method {
	case MethodCrepe, MethodYIN:
	default:
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidInput, e.method)
	}

	return e, nil
}

// Method returns the configured method.
func (e *Estimator) Method() Method { return e.method }

// Device returns the configured device.
func (e *Estimator) Device() Device { return e.device }

// HopLength returns the hop at the original sample rate.
func (e *Estimator) HopLength() int { return e.hop }

// TargetFrames returns the frame count of a re-gridded contour for n samples.
func (e *Estimator) TargetFrames(n int) int { return n/e.hop + 1 }

// Estimate computes the F0 contour of samples recorded at sampleRate.
//
// With MethodCrepe the model runs on a 16 kHz copy. A model failure is
// recovered by running YIN on that copy; the result then stays on the YIN
// grid and Result.Fallback carries the model's reason. If YIN fails as well
// the error wraps ErrEstimation. A successful model contour is re-gridded to
// TargetFrames(len(samples)) when sampleRate differs from 16 kHz.
//
// With MethodYIN, YIN runs at the original rate with the configured hop.
func (e *Estimator) Estimate(ctx context.Context, samples []float64, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("%w: empty signal", ErrInvalidInput)
	}

	if sampleRate <= 0 {
		return Result{}, fmt.Errorf("%w: sample rate must be > 0: %d", ErrInvalidInput, sampleRate)
	}

	if e.method == MethodYIN {
		c, err := e.track(samples, sampleRate, e.hop)
		if err != nil {
			return Result{}, fmt.Errorf("%w: yin: %v", ErrEstimation, err)
		}

		return Result{Contour: c, Method: MethodYIN}, nil
	}

	ref, err := e.toReference(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEstimation, err)
	}

	outcome := e.predict(ctx, ref)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if !outcome.OK() {
		reason := outcome.Reason()

		c, err := e.track(ref, ReferenceRate, fallbackHop)
		if err != nil {
			return Result{}, fmt.Errorf("%w: fallback yin: %v (model: %v)", ErrEstimation, err, reason)
		}

		return Result{Contour: c, Method: MethodYIN, Fallback: reason}, nil
	}

	c := outcome.Contour
	if sampleRate != ReferenceRate {
		c, err = c.Resize(e.TargetFrames(len(samples)))
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrEstimation, err)
		}
	}

	return Result{Contour: c, Method: MethodCrepe}, nil
}

func (e *Estimator) predict(ctx context.Context, ref []float64) Outcome {
	if e.model == nil {
		return Failure(ErrNoModel)
	}

	return e.model.Predict(ctx, ref, ModelConfig{
		SampleRate: ReferenceRate,
		HopLength:  ModelHop,
		FMin:       e.fmin,
		FMax:       e.fmax,
		Capacity:   DefaultCapacity,
		Device:     e.device,
	})
}

func (e *Estimator) track(samples []float64, sampleRate, hop int) (Contour, error) {
	y, err := NewYIN(float64(sampleRate), e.fmin, e.fmax, WithYINHop(hop))
	if err != nil {
		return nil, err
	}

	return y.Track(samples)
}

// toReference resamples samples to ReferenceRate. The result always holds at
// least one sample.
func (e *Estimator) toReference(samples []float64, sampleRate int) ([]float64, error) {
	if sampleRate == ReferenceRate {
		return samples, nil
	}

	r, err := resample.NewForRates(float64(sampleRate), ReferenceRate, resample.WithQuality(e.quality))
	if err != nil {
		return nil, fmt.Errorf("resampler for %d Hz: %w", sampleRate, err)
	}

	out := r.Process(samples)
	if len(out) == 0 {
		out = []float64{0}
	}

	return out, nil
}
