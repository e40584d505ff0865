// Package savgol implements Savitzky-Golay polynomial smoothing.
//
// Edge samples are handled by fitting one polynomial to the first and last
// window of the series and evaluating it at the edge positions, which is the
// "interp" edge mode of common signal-processing toolkits.
package savgol

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultWindow is the smoothing window length.
	DefaultWindow = 5
	// DefaultOrder is the fitted polynomial order.
	DefaultOrder = 2
)

// ErrInvalidParams indicates an unusable window/order combination.
var ErrInvalidParams = errors.New("savgol: invalid parameters")

// Smoother holds the precomputed projection matrix for one window/order pair.
// It is safe for concurrent use.
type Smoother struct {
	window int
	order  int
	// hat is the window x window least-squares projection. Row i evaluates the
	// fitted polynomial at position i of the window.
	hat *mat.Dense
}

// New builds a Smoother. window must be odd and greater than order.
func New(window, order int) (*Smoother, error) {
	if order < 0 {
		return nil, fmt.Errorf("%w: order must be >= 0: %d", ErrInvalidParams, order)
	}

	if window <= order || window%2 == 0 {
		return nil, fmt.Errorf("%w: window must be odd and > order: window=%d order=%d",
			ErrInvalidParams, window, order)
	}

	hat, err := projection(window, order)
	if err != nil {
		return nil, err
	}

	return &Smoother{window: window, order: order, hat: hat}, nil
}

// Window returns the window length.
func (s *Smoother) Window() int { return s.window }

// Order returns the polynomial order.
func (s *Smoother) Order() int { return s.order }

// Coefficients returns the convolution coefficients applied to interior
// samples, oldest first.
func (s *Smoother) Coefficients() []float64 {
	return mat.Row(nil, s.window/2, s.hat)
}

// Apply smooths x into a new slice. x must hold at least Window samples.
func (s *Smoother) Apply(x []float64) ([]float64, error) {
	n := len(x)
	if n < s.window {
		return nil, fmt.Errorf("%w: series length %d shorter than window %d", ErrInvalidParams, n, s.window)
	}

	half := s.window / 2
	out := make([]float64, n)

	center := s.hat.RawRowView(half)
	for i := half; i < n-half; i++ {
		out[i] = floats.Dot(center, x[i-half:i+half+1])
	}

	head := x[:s.window]
	for i := range half {
		out[i] = floats.Dot(s.hat.RawRowView(i), head)
	}

	tail := x[n-s.window:]
	for i := n - half; i < n; i++ {
		out[i] = floats.Dot(s.hat.RawRowView(s.window-(n-i)), tail)
	}

	return out, nil
}

// Filter smooths x with the given window and order. A series shorter than
// window is smoothed with the largest odd window that fits and still exceeds
// order; when no such window exists a copy of x is returned.
func Filter(x []float64, window, order int) ([]float64, error) {
	if len(x) < window {
		window = len(x)
		if window%2 == 0 {
			window--
		}

		if window <= order {
			out := make([]float64, len(x))
			copy(out, x)

			return out, nil
		}
	}

	s, err := New(window, order)
	if err != nil {
		return nil, err
	}

	return s.Apply(x)
}

// projection returns A * pinv(A) for the Vandermonde matrix A of positions
// 0..window-1 and powers 0..order.
func projection(window, order int) (*mat.Dense, error) {
	cols := order + 1
	half := float64(window / 2)

	a := mat.NewDense(window, cols, nil)
	for i := range window {
		t := float64(i) - half
		for j := range cols {
			a.Set(i, j, math.Pow(t, float64(j)))
		}
	}

	ones := make([]float64, window)
	for i := range ones {
		ones[i] = 1
	}

	var pinv mat.Dense
	if err := pinv.Solve(a, mat.NewDiagDense(window, ones)); err != nil {
		return nil, fmt.Errorf("savgol: least-squares solve failed: %w", err)
	}

	var hat mat.Dense
	hat.Mul(a, &pinv)

	return &hat, nil
}
