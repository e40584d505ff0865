// Package convert runs the pitch-shift voice conversion pipeline.
//
// A conversion moves through a fixed sequence of states:
//
//	Loaded -> F0Extracted -> Shifted -> [Smoothed] -> Normalized -> Saved
//
// Smoothed is visited only for a nonzero shift. Saved is reached only by
// ConvertFile. Any failure aborts the run and nothing is written.
package convert
