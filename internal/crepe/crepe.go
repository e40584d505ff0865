// Package crepe runs the CREPE pitch tracker command-line tool as an
// f0.Model.
package crepe

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/executor"
	"github.com/cwbudde/algo-karaoke/internal/wavio"
)

// DefaultBin is the CREPE executable looked up on PATH.
const DefaultBin = "crepe"

const inputName = "input.wav"

// ErrMalformedOutput marks CSV output that could not be parsed.
var ErrMalformedOutput = errors.New("malformed crepe output")

var _ f0.Model = &Model{}

// Model shells out to CREPE for each prediction.
type Model struct {
	exec    executor.Executor
	bin     string
	workDir string
}

// Option configures a Model.
type Option func(*Model)

// WithBinary overrides the executable path.
func WithBinary(bin string) Option {
	return func(m *Model) {
		m.bin = bin
	}
}

// WithWorkDir sets the parent of the per-call scratch directories.
func WithWorkDir(dir string) Option {
	return func(m *Model) {
		m.workDir = dir
	}
}

// New creates a Model running through exec.
func New(exec executor.Executor, opts ...Option) *Model {
	m := &Model{exec: exec, bin: DefaultBin}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Predict writes samples to a scratch WAV, runs CREPE on it and parses the
// per-frame frequencies. Every failure is reported through the Outcome.
func (m *Model) Predict(ctx context.Context, samples []float64, cfg f0.ModelConfig) f0.Outcome {
	contour, err := m.predict(ctx, samples, cfg)
	if err != nil {
		return f0.Failure(err)
	}

	return f0.Success(contour)
}

func (m *Model) predict(ctx context.Context, samples []float64, cfg f0.ModelConfig) (f0.Contour, error) {
	if cfg.SampleRate <= 0 || cfg.HopLength <= 0 {
		return nil, errors.Newf("bad model config: rate=%d hop=%d", cfg.SampleRate, cfg.HopLength)
	}

	dir, err := os.MkdirTemp(m.workDir, "crepe_*")
	if err != nil {
		return nil, errors.Wrap(err, "creating crepe scratch dir")
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, inputName)
	if err := wavio.Save(inputPath, samples, cfg.SampleRate); err != nil {
		return nil, errors.Wrap(err, "writing crepe input")
	}

	args := Args(cfg, dir, inputPath)
	logger := log.WithFields(log.Fields{
		"bin":    m.bin,
		"args":   args,
		"device": cfg.Device,
	})

	logger.Info("Running crepe command")

	cmd := m.exec.Command(ctx, m.bin, args...)
	cmd.SetDir(dir)
	if cfg.Device == f0.DeviceCPU {
		cmd.SetEnv("CUDA_VISIBLE_DEVICES=")
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, "crepe interrupted")
		}

		return nil, errors.WithDetail(
			errors.Wrapf(err, "error occurred while running crepe"),
			string(output))
	}

	logger.Debug(string(output))

	csvPath := filepath.Join(dir, strings.TrimSuffix(inputName, filepath.Ext(inputName))+".f0.csv")

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, errors.Wrap(err, "crepe produced no f0 csv")
	}
	defer f.Close()

	contour, err := ParseCSV(f, cfg.FMin, cfg.FMax)
	if err != nil {
		return nil, err
	}

	logger.WithField("frames", len(contour)).Info("Finished crepe command")

	return contour, nil
}

// Args builds the CREPE command line for cfg.
func Args(cfg f0.ModelConfig, outDir, inputPath string) []string {
	stepMs := float64(cfg.HopLength) * 1000 / float64(cfg.SampleRate)
	capacity := cfg.Capacity
	if capacity == "" {
		capacity = f0.DefaultCapacity
	}

	return []string{
		"--model-capacity", capacity,
		"--step-size", strconv.FormatFloat(stepMs, 'f', -1, 64),
		"--output", outDir,
		inputPath,
	}
}

// ParseCSV reads CREPE's time,frequency,confidence output. Frequencies are
// clamped to [fmin, fmax] when that range is valid.
func ParseCSV(r io.Reader, fmin, fmax float64) (f0.Contour, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "reading crepe csv"), ErrMalformedOutput)
	}

	clamp := fmin > 0 && fmax > fmin
	contour := make(f0.Contour, 0, len(records))

	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}

		if len(rec) < 2 {
			return nil, errors.Mark(errors.Newf("row %d: want at least 2 columns, got %d", i+1, len(rec)),
				ErrMalformedOutput)
		}

		hz, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil || math.IsNaN(hz) || math.IsInf(hz, 0) {
			return nil, errors.Mark(errors.Newf("row %d: bad frequency %q", i+1, rec[1]), ErrMalformedOutput)
		}

		if clamp {
			hz = math.Max(fmin, math.Min(fmax, hz))
		}

		contour = append(contour, hz)
	}

	if len(contour) == 0 {
		return nil, errors.Mark(errors.New("no frames in crepe csv"), ErrMalformedOutput)
	}

	return contour, nil
}
