package stems

import (
	"context"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
)

// Health is the result of probing the Demucs installation.
type Health struct {
	DemucsAvailable bool
	GPUAvailable    bool
	Model           string
}

// Healthy reports whether separation can run.
func (h Health) Healthy() bool { return h.DemucsAvailable }

// Status is "healthy" or "unhealthy".
func (h Health) Status() string {
	if h.Healthy() {
		return "healthy"
	}

	return "unhealthy"
}

// Health runs "<python> -m demucs --help" within the health timeout.
func (s *Separator) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	h := Health{
		GPUAvailable: s.device == f0.DeviceAccelerator,
		Model:        s.model,
	}

	output, err := s.exec.Command(ctx, s.python, "-m", "demucs", "--help").CombinedOutput()
	if err != nil {
		s.logger.WithError(err).WithField("output", lastLines(string(output), 5)).Warn("Demucs health probe failed")
		return h
	}

	h.DemucsAvailable = true

	return h
}
