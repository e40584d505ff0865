package signal

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// ErrSilent is returned when a signal has no nonzero sample to normalise against.
var ErrSilent = errors.New("signal: peak amplitude is zero")

// DefaultTargetPeak is the output peak used before writing converted audio.
const DefaultTargetPeak = 0.9

// Peak returns the maximum absolute sample value of data.
func Peak(data []float64) float64 {
	return vecmath.MaxAbs(data)
}

// NormalizePeak scales data so that its peak absolute value equals
// targetPeak and returns a new slice. The input is left untouched.
//
// Unlike a silent pass-through, an all-zero input is an error: the scale
// factor would be a division by zero.
func NormalizePeak(data []float64, targetPeak float64) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("normalize input must not be empty")
	}

	if targetPeak <= 0 || math.IsNaN(targetPeak) || math.IsInf(targetPeak, 0) {
		return nil, fmt.Errorf("normalize target peak must be positive and finite: %f", targetPeak)
	}

	peak := Peak(data)
	if math.IsNaN(peak) || math.IsInf(peak, 0) {
		return nil, fmt.Errorf("normalize input is not finite: peak %f", peak)
	}

	if peak == 0 {
		return nil, ErrSilent
	}

	out := make([]float64, len(data))
	vecmath.ScaleBlock(out, data, targetPeak/peak)

	return out, nil
}
