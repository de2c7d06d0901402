package detect

import (
	"math"
	"time"
)

// MovingMean computes the causal time-indexed moving mean: out[i] is the mean
// of every x[j] whose timestamp lies in (ts[i]-window, ts[i]]. Timestamps must
// be ascending.
func MovingMean(ts []time.Time, x []float64, window time.Duration) []float64 {
	out := make([]float64, len(x))
	var sum float64
	lo := 0
	for i := range x {
		sum += x[i]
		cutoff := ts[i].Add(-window)
		for !ts[lo].After(cutoff) {
			sum -= x[lo]
			lo++
		}
		out[i] = sum / float64(i-lo+1)
	}
	return out
}

// MovingStd computes the causal time-indexed moving sample standard deviation
// over the same (ts[i]-window, ts[i]] windows as MovingMean. Windows holding
// fewer than two samples yield NaN.
func MovingStd(ts []time.Time, x []float64, window time.Duration) []float64 {
	out := make([]float64, len(x))
	var sum, sumSq float64
	lo := 0
	for i := range x {
		sum += x[i]
		sumSq += x[i] * x[i]
		cutoff := ts[i].Add(-window)
		for !ts[lo].After(cutoff) {
			sum -= x[lo]
			sumSq -= x[lo] * x[lo]
			lo++
		}
		n := float64(i - lo + 1)
		if n < 2 {
			out[i] = math.NaN()
			continue
		}
		variance := (sumSq - sum*sum/n) / (n - 1)
		if variance < 0 {
			variance = 0
		}
		out[i] = math.Sqrt(variance)
	}
	return out
}
