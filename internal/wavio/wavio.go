// Package wavio reads and writes mono float waveforms as PCM WAV files.
package wavio

import (
	"math"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE

	// OutputBitDepth is the bit depth Save writes.
	OutputBitDepth = 16
)

// ErrInvalidWAV marks files that are not decodable PCM WAV.
var ErrInvalidWAV = errors.New("invalid wav file")

// Load decodes path into mono samples in [-1, 1) and returns its sample rate.
// Multi-channel files are downmixed by averaging channels.
func Load(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, errors.Mark(errors.Newf("%s is not a RIFF/WAVE file", path), ErrInvalidWAV)
	}

	if dec.WavAudioFormat != formatPCM && dec.WavAudioFormat != formatExtensible {
		return nil, 0, errors.Mark(
			errors.Newf("%s: unsupported wav audio format %d", path, dec.WavAudioFormat), ErrInvalidWAV)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, errors.Wrapf(err, "decoding %s", path)
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	bitDepth := int(dec.BitDepth)
	if channels <= 0 || sampleRate <= 0 || bitDepth <= 0 {
		return nil, 0, errors.Mark(
			errors.Newf("%s: bad header: channels=%d rate=%d depth=%d", path, channels, sampleRate, bitDepth),
			ErrInvalidWAV)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, 0, errors.Mark(errors.Newf("%s: no audio frames", path), ErrInvalidWAV)
	}

	scale := 1 / math.Exp2(float64(bitDepth-1))
	offset := 0
	if bitDepth == 8 {
		// 8-bit PCM is unsigned.
		offset = 128
	}

	out := make([]float64, frames)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += buf.Data[i*channels+c] - offset
		}

		out[i] = float64(sum) / float64(channels) * scale
	}

	return out, sampleRate, nil
}

// Save writes samples as 16-bit mono PCM, creating the parent directory.
// Samples are clipped to [-1, 1].
func Save(path string, samples []float64, sampleRate int) (err error) {
	if len(samples) == 0 {
		return errors.New("refusing to write an empty waveform")
	}

	if sampleRate <= 0 {
		return errors.Newf("sample rate must be > 0: %d", sampleRate)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating output directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", path)
		}
	}()

	const fullScale = 1<<(OutputBitDepth-1) - 1

	data := make([]int, len(samples))
	for i, v := range samples {
		v = math.Max(-1, math.Min(1, v))
		data[i] = int(math.Round(v * fullScale))
	}

	enc := wav.NewEncoder(f, sampleRate, OutputBitDepth, 1, formatPCM)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: OutputBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}

	if err := enc.Close(); err != nil {
		return errors.Wrapf(err, "finalising %s", path)
	}

	return nil
}
