package convert

import (
	"github.com/cwbudde/algo-dsp/measure/loudness"
	dsptime "github.com/cwbudde/algo-dsp/stats/time"
)

// Levels summarises the level of a waveform in dBFS and LUFS.
type Levels struct {
	PeakDB  float64
	RMSDB   float64
	CrestDB float64
	// LUFS is the gated integrated loudness; -Inf when the waveform is
	// shorter than one 400 ms block or below the absolute gate.
	LUFS float64
}

// MeasureLevels computes the levels of a mono waveform.
func MeasureLevels(w Waveform) Levels {
	st := dsptime.Calculate(w.Samples)

	meter := loudness.NewMeter(
		loudness.WithSampleRate(float64(w.SampleRate)),
		loudness.WithChannels(1),
	)
	meter.StartIntegration()
	meter.ProcessBlock(w.Samples)

	return Levels{
		PeakDB:  st.Peak_dB,
		RMSDB:   st.RMS_dB,
		CrestDB: st.CrestFactor_dB,
		LUFS:    meter.Integrated(),
	}
}
