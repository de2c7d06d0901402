package detect

import (
	"fmt"
	"math"
	"math/cmplx"
)

// butterBandpass designs a digital Butterworth bandpass filter from an
// order-n lowpass prototype (the resulting transfer function has order 2n).
// Cutoffs are in Hz at the given sampling rate. The coefficient flow is the
// classical one: analog prototype poles, lowpass-to-bandpass transform at the
// pre-warped band edges, then the bilinear transform.
func butterBandpass(order int, lowHz, highHz, fs float64) (b, a []float64, err error) {
	if order < 1 {
		return nil, nil, fmt.Errorf("filter order must be at least 1, got %d", order)
	}
	nyquist := fs / 2
	if lowHz <= 0 || highHz <= lowHz || highHz >= nyquist {
		return nil, nil, fmt.Errorf("bandpass cutoffs (%g, %g) Hz must satisfy 0 < low < high < %g", lowHz, highHz, nyquist)
	}

	// Pre-warp the normalized band edges for the bilinear transform.
	const fsInternal = 2.0
	warpedLow := 2 * fsInternal * math.Tan(math.Pi*(lowHz/nyquist)/fsInternal)
	warpedHigh := 2 * fsInternal * math.Tan(math.Pi*(highHz/nyquist)/fsInternal)
	bw := warpedHigh - warpedLow
	wo := math.Sqrt(warpedLow * warpedHigh)

	// Analog lowpass prototype: poles evenly spaced on the left half of the
	// unit circle, no zeros, unit gain.
	poles := make([]complex128, order)
	for k := 1; k <= order; k++ {
		theta := math.Pi * float64(2*k+order-1) / float64(2*order)
		poles[k-1] = -cmplx.Exp(complex(0, theta))
	}
	gain := 1.0

	// Lowpass -> bandpass: each prototype pole splits into a conjugate pair;
	// the pole excess becomes zeros at the origin.
	bpPoles := make([]complex128, 0, 2*order)
	for _, p := range poles {
		scaled := p * complex(bw/2, 0)
		d := cmplx.Sqrt(scaled*scaled - complex(wo*wo, 0))
		bpPoles = append(bpPoles, scaled+d, scaled-d)
	}
	bpZeros := make([]complex128, order) // zeros at s = 0
	gain *= math.Pow(bw, float64(order))

	// Bilinear transform to the z-plane; the remaining pole excess maps to
	// zeros at z = -1.
	fs2 := 2 * fsInternal
	zZeros := make([]complex128, 0, 2*order)
	numer := complex(1, 0)
	denom := complex(1, 0)
	for _, z := range bpZeros {
		zZeros = append(zZeros, (complex(fs2, 0)+z)/(complex(fs2, 0)-z))
		numer *= complex(fs2, 0) - z
	}
	zPoles := make([]complex128, 0, 2*order)
	for _, p := range bpPoles {
		zPoles = append(zPoles, (complex(fs2, 0)+p)/(complex(fs2, 0)-p))
		denom *= complex(fs2, 0) - p
	}
	for len(zZeros) < len(zPoles) {
		zZeros = append(zZeros, complex(-1, 0))
	}
	gainZ := gain * real(numer/denom)

	b = realPoly(zZeros)
	for i := range b {
		b[i] *= gainZ
	}
	a = realPoly(zPoles)
	return b, a, nil
}

// realPoly expands a polynomial from its roots and returns the real parts of
// the descending-order coefficients. Roots arrive in conjugate pairs so the
// imaginary residue is numerical noise only.
func realPoly(roots []complex128) []float64 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}

	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}
	return out
}
