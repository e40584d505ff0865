// Package f0 estimates fundamental-frequency contours of monophonic audio.
//
// An Estimator runs a neural pitch model at a 16 kHz reference rate and falls
// back to the classical YIN algorithm when the model fails. The model itself
// is a black box behind the Model interface; the estimator only decides what
// to feed it and what to do with its Outcome.
//
// Contours produced by the neural path are re-gridded onto the caller's hop
// length at the original sample rate so that frame i covers sample i*hop.
// The YIN fallback is returned on its own 16 kHz grid.
package f0
