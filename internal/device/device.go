// Package device resolves the compute device once per process.
package device

import (
	"context"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/cwbudde/algo-karaoke/dsp/f0"
	"github.com/cwbudde/algo-karaoke/internal/executor"
)

// Preference is the user's device request.
type Preference string

const (
	PreferAuto        Preference = "auto"
	PreferCPU         Preference = "cpu"
	PreferAccelerator Preference = "accelerator"
)

// ProbeBin is the binary used to detect an accelerator.
const ProbeBin = "nvidia-smi"

// ProbeTimeout bounds the accelerator probe.
const ProbeTimeout = 5 * time.Second

// ErrUnknownPreference is returned by ParsePreference.
var ErrUnknownPreference = errors.New("unknown device preference")

// ParsePreference accepts auto, cpu and accelerator (gpu and cuda are
// aliases of accelerator).
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PreferAuto, nil
	case "cpu":
		return PreferCPU, nil
	case "accelerator", "gpu", "cuda":
		return PreferAccelerator, nil
	default:
		return "", errors.WithDetailf(errors.Mark(errors.Newf("device preference %q", s), ErrUnknownPreference),
			"valid values: auto, cpu, accelerator")
	}
}

// Resolve turns a preference into a device. auto runs the accelerator probe
// once; any probe failure resolves to the CPU.
func Resolve(ctx context.Context, exec executor.Executor, pref Preference) (f0.Device, error) {
	switch pref {
	case PreferCPU:
		return f0.DeviceCPU, nil
	case PreferAccelerator:
		return f0.DeviceAccelerator, nil
	case PreferAuto, "":
	default:
		return f0.DeviceCPU, errors.Mark(errors.Newf("device preference %q", pref), ErrUnknownPreference)
	}

	logger := log.WithField("probe", ProbeBin)

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	output, err := exec.Command(probeCtx, ProbeBin, "-L").CombinedOutput()
	if err != nil {
		logger.WithError(err).Info("No accelerator detected, using cpu")
		return f0.DeviceCPU, nil
	}

	if !strings.Contains(string(output), "GPU") {
		logger.Info("Accelerator probe listed no devices, using cpu")
		return f0.DeviceCPU, nil
	}

	logger.Debug(strings.TrimSpace(string(output)))
	logger.Info("Accelerator detected")

	return f0.DeviceAccelerator, nil
}
