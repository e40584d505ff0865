package f0

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/interp"
)

// Contour holds one F0 estimate in Hz per analysis frame. Zero or near-zero
// values mark unvoiced frames.
type Contour []float64

// Len returns the number of frames.
func (c Contour) Len() int { return len(c) }

// Clone returns a copy of c.
func (c Contour) Clone() Contour {
	if c == nil {
		return nil
	}

	out := make(Contour, len(c))
	copy(out, c)

	return out
}

// Mean returns the average of the finite frames, or 0 for an empty contour.
func (c Contour) Mean() float64 {
	var (
		sum float64
		n   int
	)

	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}

		sum += v
		n++
	}

	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// Resize linearly interpolates c over frame index onto n evenly spaced frames
// spanning the same first and last frame.
func (c Contour) Resize(n int) (Contour, error) {
	if n <= 0 {
		return nil, fmt.Errorf("f0: target frame count must be > 0: %d", n)
	}

	switch len(c) {
	case 0:
		return nil, errors.New("f0: cannot resize an empty contour")
	case 1:
		out := make(Contour, n)
		for i := range out {
			out[i] = c[0]
		}

		return out, nil
	}

	xs := make([]float64, len(c))
	for i := range xs {
		xs[i] = float64(i)
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, c); err != nil {
		return nil, fmt.Errorf("f0: interpolation fit failed: %w", err)
	}

	out := make(Contour, n)
	if n == 1 {
		out[0] = c[0]
		return out, nil
	}

	last := xs[len(xs)-1]
	step := last / float64(n-1)
	for i := range out {
		x := math.Min(float64(i)*step, last)
		out[i] = pl.Predict(x)
	}

	return out, nil
}

// String renders a short summary for logs.
func (c Contour) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Contour{frames: %d", len(c))
	if len(c) > 0 {
		fmt.Fprintf(&b, ", mean: %.2f Hz", c.Mean())
	}

	b.WriteString("}")

	return b.String()
}
