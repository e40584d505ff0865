// Package stems runs Demucs stem separation on uploaded audio and packs the
// resulting stems into a zip archive.
package stems

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/executor"
	"github.com/cwbudde/algo-karaoke/internal/observe"
)

const (
	DefaultPython        = "python"
	DefaultModel         = "htdemucs_ft"
	DefaultTimeout       = 300 * time.Second
	DefaultHealthTimeout = 10 * time.Second

	inputBase = "input"
	outputDir = "output"
)

// Option configures a Separator.
type Option func(*Separator)

func WithPython(bin string) Option {
	return func(s *Separator) { s.python = bin }
}

// WithModels sets the default model and the advertised model list. The
// default is always part of the list.
func WithModels(def string, available ...string) Option {
	return func(s *Separator) {
		s.model = def
		s.models = append([]string{def}, without(available, def)...)
	}
}

func WithFormat(f Format) Option {
	return func(s *Separator) { s.format = f }
}

func WithBitrate(kbps int) Option {
	return func(s *Separator) { s.bitrate = kbps }
}

// WithTimeout bounds a single Demucs run.
func WithTimeout(d time.Duration) Option {
	return func(s *Separator) { s.timeout = d }
}

func WithHealthTimeout(d time.Duration) Option {
	return func(s *Separator) { s.healthTimeout = d }
}

// WithWorkDir sets the parent of the per-request temp dirs.
func WithWorkDir(dir string) Option {
	return func(s *Separator) { s.workDir = dir }
}

func WithDevice(d f0.Device) Option {
	return func(s *Separator) { s.device = d }
}

// WithWorkers bounds the number of concurrent Demucs runs.
func WithWorkers(n int) Option {
	return func(s *Separator) { s.workers = n }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(s *Separator) { s.metrics = m }
}

func WithLogger(l log.Interface) Option {
	return func(s *Separator) { s.logger = l }
}

// Separator runs Demucs through an executor.
type Separator struct {
	exec          executor.Executor
	python        string
	model         string
	models        []string
	format        Format
	bitrate       int
	timeout       time.Duration
	healthTimeout time.Duration
	workDir       string
	device        f0.Device
	workers       int
	sem           *semaphore.Weighted
	metrics       *observe.Metrics
	logger        log.Interface
}

// New returns a Separator with the service defaults overridden by opts.
func New(exec executor.Executor, opts ...Option) *Separator {
	s := &Separator{
		exec:          exec,
		python:        DefaultPython,
		model:         DefaultModel,
		models:        []string{DefaultModel},
		format:        FormatMP3,
		bitrate:       DefaultBitrate,
		timeout:       DefaultTimeout,
		healthTimeout: DefaultHealthTimeout,
		workDir:       os.TempDir(),
		device:        f0.DeviceCPU,
		workers:       1,
		logger:        log.Log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.workers < 1 {
		s.workers = 1
	}

	s.sem = semaphore.NewWeighted(int64(s.workers))

	return s
}

// Model returns the default model.
func (s *Separator) Model() string { return s.model }

// Models returns the advertised models.
func (s *Separator) Models() []string { return append([]string(nil), s.models...) }

// Device returns the device Demucs runs on.
func (s *Separator) Device() f0.Device { return s.device }

// Args returns the Demucs argument list after the interpreter.
func (s *Separator) Args(model string, format Format, bitrate int, out, input string) []string {
	args := []string{"-m", "demucs"}
	if format == FormatMP3 {
		args = append(args, "--mp3", "--mp3-bitrate", strconv.Itoa(bitrate))
	}

	args = append(args, "-n", model, "-o", out)
	if s.device == f0.DeviceAccelerator {
		args = append(args, "--device", "cuda")
	}

	return append(args, input)
}

func (s *Separator) resolve(req Request) (Request, error) {
	if req.Model == "" {
		req.Model = s.model
	}

	if !modelName.MatchString(req.Model) {
		return req, classify(ErrInvalidRequest, "Invalid model name: %q", req.Model)
	}

	if req.Format == "" {
		req.Format = s.format
	}

	if _, ok := ParseFormat(string(req.Format)); !ok {
		return req, classify(ErrInvalidRequest, "Unsupported output format: %q. Supported: mp3, wav", req.Format)
	}

	if req.Bitrate == 0 {
		req.Bitrate = s.bitrate
	}

	if req.Bitrate < 0 {
		return req, classify(ErrInvalidRequest, "Invalid bitrate: %d", req.Bitrate)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return req, nil
}

// Separate stores the upload in a fresh temp dir, runs Demucs on it and
// zips the stems. The caller must Close the returned archive, which removes
// the temp dir. On error the temp dir is already gone.
func (s *Separator) Separate(ctx context.Context, req Request) (*Archive, error) {
	ext, err := Extension(req.Filename)
	if err == nil {
		req, err = s.resolve(req)
	}

	if err != nil {
		s.metrics.RecordSeparation(ctx, req.Model, string(req.Format), observe.StatusRejected, 0)
		return nil, err
	}

	logger := s.logger.WithFields(log.Fields{
		"request":  req.ID,
		"filename": req.Filename,
		"model":    req.Model,
		"format":   req.Format,
	})

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.metrics.RecordSeparation(ctx, req.Model, string(req.Format), observe.StatusUnavailable, 0)
		return nil, errors.Wrap(err, "waiting for a separation slot")
	}
	defer s.sem.Release(1)
	defer s.metrics.TrackActive(ctx)()

	dir, err := os.MkdirTemp(s.workDir, "demucs_")
	if err != nil {
		s.metrics.RecordSeparation(ctx, req.Model, string(req.Format), observe.StatusFailed, 0)
		return nil, classify(ErrSeparation, "creating work dir: %v", err)
	}

	archive, took, err := s.separateIn(ctx, logger, dir, ext, req)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to remove work dir")
		}

		s.metrics.RecordSeparation(ctx, req.Model, string(req.Format), statusOf(err), took)

		return nil, err
	}

	s.metrics.RecordSeparation(ctx, req.Model, string(req.Format), observe.StatusOK, took)
	s.metrics.RecordArchive(ctx, req.Model, archive.Size)

	return archive, nil
}

func (s *Separator) separateIn(ctx context.Context, logger log.Interface, dir, ext string, req Request) (*Archive, time.Duration, error) {
	input := filepath.Join(dir, inputBase+ext)
	if err := writeUpload(input, req.Audio); err != nil {
		return nil, 0, classify(ErrSeparation, "storing upload: %v", err)
	}

	out := filepath.Join(dir, outputDir)
	if err := os.Mkdir(out, 0o755); err != nil {
		return nil, 0, classify(ErrSeparation, "creating output dir: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := s.Args(req.Model, req.Format, req.Bitrate, out, input)

	logger.WithFields(log.Fields{
		"args":   args,
		"device": s.device.String(),
	}).Info("Running demucs command")

	cmd := s.exec.Command(runCtx, s.python, args...)
	cmd.SetDir(dir)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	took := time.Since(start)

	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, took, errors.Wrap(ctx.Err(), "separation abandoned")
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			logger.WithField("timeout", s.timeout).Error("Demucs timed out")
			return nil, took, classify(ErrTimeout, "Processing timeout")
		default:
			logger.WithError(err).Error("Demucs failed")
			return nil, took, errors.WithDetail(
				classify(ErrSeparation, "DeMucs failed: %s", lastLines(string(output), 20)),
				string(output))
		}
	}

	logger.Debug(string(output))
	logger.WithField("took", took).Info("Finished demucs command")

	stemsDir := filepath.Join(out, req.Model, inputBase)
	stems, err := collectStems(stemsDir, req.Format)
	if err != nil {
		return nil, took, err
	}

	archive, err := writeArchive(dir, ArchiveName(req.Filename), stems)
	if err != nil {
		return nil, took, err
	}

	logger.WithFields(log.Fields{
		"archive": archive.Name,
		"stems":   archive.Stems,
		"size":    archive.Size,
	}).Info("Packed stems")

	return archive, took, nil
}

func writeUpload(path string, r io.Reader) error {
	if r == nil {
		return errors.New("upload has no body")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return observe.StatusTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observe.StatusUnavailable
	default:
		return observe.StatusFailed
	}
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop && v != "" {
			out = append(out, v)
		}
	}

	return out
}
