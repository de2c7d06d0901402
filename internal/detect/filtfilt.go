package detect

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// lfilter runs a direct-form II transposed IIR filter over x with initial
// delay state zi (length max(len(b), len(a)) - 1). The state slice is
// modified in place.
func lfilter(b, a []float64, x, zi []float64) []float64 {
	n := len(b)
	if len(a) > n {
		n = len(a)
	}
	bp := make([]float64, n)
	copy(bp, b)
	ap := make([]float64, n)
	copy(ap, a)

	y := make([]float64, len(x))
	for i, xn := range x {
		yn := bp[0]*xn + zi[0]
		for j := 0; j < n-2; j++ {
			zi[j] = bp[j+1]*xn + zi[j+1] - ap[j+1]*yn
		}
		zi[n-2] = bp[n-1]*xn - ap[n-1]*yn
		y[i] = yn
	}
	return y
}

// lfilterZI computes the initial filter state that makes the step response
// start from its final value, so the forward and backward passes of FiltFilt
// do not ring at the signal edges. Solves (I - A^T) zi = B for the companion
// form of the denominator.
func lfilterZI(b, a []float64) ([]float64, error) {
	n := len(b)
	if len(a) > n {
		n = len(a)
	}
	if n < 2 {
		return nil, fmt.Errorf("filter must have at least two coefficients")
	}
	bp := make([]float64, n)
	copy(bp, b)
	ap := make([]float64, n)
	copy(ap, a)
	if ap[0] == 0 {
		return nil, fmt.Errorf("denominator leading coefficient is zero")
	}
	for i := range bp {
		bp[i] /= ap[0]
	}
	for i := range ap {
		ap[i] /= ap[0]
	}

	m := mat.NewDense(n-1, n-1, nil)
	for i := 0; i < n-1; i++ {
		m.Set(i, i, m.At(i, i)+1)
		m.Set(i, 0, m.At(i, 0)+ap[i+1])
		if i+1 < n-1 {
			m.Set(i, i+1, m.At(i, i+1)-1)
		}
	}

	rhs := mat.NewVecDense(n-1, nil)
	for i := 0; i < n-1; i++ {
		rhs.SetVec(i, bp[i+1]-ap[i+1]*bp[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("failed to solve filter initial conditions: %w", err)
	}

	out := make([]float64, n-1)
	for i := range out {
		out[i] = zi.AtVec(i)
	}
	return out, nil
}

// FiltFilt applies the filter forward and backward for zero phase distortion.
// The input is extended at both ends with an odd reflection of itself so the
// filter settles before it reaches real data; the extension length is
// 3*max(len(b), len(a)) and the input must be longer than that.
func FiltFilt(b, a, x []float64) ([]float64, error) {
	ntaps := len(b)
	if len(a) > ntaps {
		ntaps = len(a)
	}
	edge := 3 * ntaps
	if len(x) <= edge {
		return nil, fmt.Errorf("signal of %d samples is too short to filter (need more than %d)", len(x), edge)
	}

	ext := make([]float64, 0, len(x)+2*edge)
	for i := edge; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := len(x) - 2; i >= len(x)-1-edge; i-- {
		ext = append(ext, 2*x[len(x)-1]-x[i])
	}

	ziUnit, err := lfilterZI(b, a)
	if err != nil {
		return nil, err
	}

	zi := make([]float64, len(ziUnit))
	for i := range zi {
		zi[i] = ziUnit[i] * ext[0]
	}
	y := lfilter(b, a, ext, zi)

	reverse(y)
	for i := range zi {
		zi[i] = ziUnit[i] * y[0]
	}
	y = lfilter(b, a, y, zi)
	reverse(y)

	return y[edge : edge+len(x)], nil
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
