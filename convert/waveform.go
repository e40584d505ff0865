package convert

import "github.com/cockroachdb/errors"

// Waveform is a mono signal at a fixed sample rate.
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Validate checks that w holds at least one sample at a positive rate.
func (w Waveform) Validate() error {
	if len(w.Samples) == 0 {
		return errors.New("waveform has no samples")
	}

	if w.SampleRate <= 0 {
		return errors.Newf("sample rate must be > 0: %d", w.SampleRate)
	}

	return nil
}

// Duration returns the length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}

	return float64(len(w.Samples)) / float64(w.SampleRate)
}
