// Package stft provides a centred short-time Fourier transform and its
// inverse with window-sum-square normalisation.
//
// The framing matches the common analysis convention used by audio tooling:
// the signal is zero-padded by FFTSize/2 on both sides, a periodic Hann window
// is applied, and a signal of length L produces 1 + L/Hop frames. Synthesize
// undoes the padding so that Analyze followed by Synthesize reconstructs the
// input up to floating-point error.
package stft
