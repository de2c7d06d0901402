package detect

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLfilterMovingAverage(t *testing.T) {
	b := []float64{0.5, 0.5}
	a := []float64{1, 0}
	x := []float64{2, 4, 6, 8}

	got := lfilter(b, a, x, []float64{0})
	want := []float64{1, 3, 5, 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("moving average mismatch (-want +got):\n%s", diff)
	}
}

func TestLfilterZISettlesStepResponse(t *testing.T) {
	// With zi scaled by the input level, a step passes through at DC gain
	// (here exactly 1) from the very first sample.
	b := []float64{0.25, 0.25}
	a := []float64{1, -0.5}

	zi, err := lfilterZI(b, a)
	if err != nil {
		t.Fatalf("lfilterZI: %v", err)
	}
	if len(zi) != 1 || math.Abs(zi[0]-0.75) > 1e-12 {
		t.Fatalf("zi = %v, want [0.75]", zi)
	}

	x := make([]float64, 50)
	for i := range x {
		x[i] = 1
	}
	y := lfilter(b, a, x, []float64{zi[0] * x[0]})
	for i, v := range y {
		if math.Abs(v-1) > 1e-12 {
			t.Fatalf("y[%d] = %g, want 1 (no startup transient)", i, v)
		}
	}
}

func TestFiltFiltRemovesDC(t *testing.T) {
	b, a, err := butterBandpass(2, 0.1, 1.0, 25)
	if err != nil {
		t.Fatalf("butterBandpass: %v", err)
	}

	x := make([]float64, 1500)
	for i := range x {
		x[i] = 100
	}

	y, err := FiltFilt(b, a, x)
	if err != nil {
		t.Fatalf("FiltFilt: %v", err)
	}
	if len(y) != len(x) {
		t.Fatalf("output length %d, want %d", len(y), len(x))
	}
	for i, v := range y {
		if math.Abs(v) > 1e-6 {
			t.Fatalf("y[%d] = %g, want ~0 for a constant input", i, v)
		}
	}
}

func TestFiltFiltPassbandZeroPhase(t *testing.T) {
	b, a, err := butterBandpass(2, 0.1, 1.0, 25)
	if err != nil {
		t.Fatalf("butterBandpass: %v", err)
	}

	// A band-center sinusoid should come through at near-unit gain with no
	// phase shift, so away from the edges output tracks input.
	const fs = 25.0
	hz := math.Sqrt(0.1 * 1.0)
	x := make([]float64, 1500)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * hz * float64(i) / fs)
	}

	y, err := FiltFilt(b, a, x)
	if err != nil {
		t.Fatalf("FiltFilt: %v", err)
	}
	for i := 500; i < 1000; i++ {
		if math.Abs(y[i]-x[i]) > 0.1 {
			t.Fatalf("y[%d] = %g, want within 0.1 of %g", i, y[i], x[i])
		}
	}
}

func TestFiltFiltDeterministic(t *testing.T) {
	b, a, err := butterBandpass(2, 0.1, 1.0, 25)
	if err != nil {
		t.Fatalf("butterBandpass: %v", err)
	}

	x := make([]float64, 400)
	for i := range x {
		x[i] = 100 + 50*math.Sin(float64(i)/7) + float64(i%13)
	}

	y1, err := FiltFilt(b, a, x)
	if err != nil {
		t.Fatalf("first FiltFilt: %v", err)
	}
	y2, err := FiltFilt(b, a, x)
	if err != nil {
		t.Fatalf("second FiltFilt: %v", err)
	}
	if diff := cmp.Diff(y1, y2); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
}

func TestFiltFiltTooShort(t *testing.T) {
	b, a, err := butterBandpass(2, 0.1, 1.0, 25)
	if err != nil {
		t.Fatalf("butterBandpass: %v", err)
	}

	if _, err := FiltFilt(b, a, make([]float64, 15)); err == nil {
		t.Error("FiltFilt accepted a signal shorter than its padding")
	}
}
