package detect

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
)

func defaultParams() Params {
	return ParamsFromConfig(config.Default())
}

func secondsSeries(values []float64) *Processed {
	base := time.Date(2022, 1, 16, 1, 0, 0, 0, time.UTC)
	p := &Processed{
		Datetimes: make([]time.Time, len(values)),
		Detrended: values,
		Sigma:     make([]float64, len(values)),
	}
	for i := range values {
		p.Datetimes[i] = base.Add(time.Duration(i) * time.Second)
		p.Sigma[i] = 1
	}
	return p
}

func TestIdentifyHysteresis(t *testing.T) {
	p := secondsSeries([]float64{0, 5, 5, 0, 0, 4, 0})

	spans := Identify(p, 3)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if !spans[0].Start.Equal(p.Datetimes[1]) || !spans[0].End.Equal(p.Datetimes[3]) {
		t.Errorf("first span %v-%v, want samples 1-3", spans[0].Start, spans[0].End)
	}
	if !spans[1].Start.Equal(p.Datetimes[5]) || !spans[1].End.Equal(p.Datetimes[6]) {
		t.Errorf("second span %v-%v, want samples 5-6", spans[1].Start, spans[1].End)
	}
}

func TestIdentifyBoundaryEqualsThreshold(t *testing.T) {
	// A sample exactly at C*sigma both triggers and releases.
	p := secondsSeries([]float64{0, 3, 5, 3, 0})

	spans := Identify(p, 3)
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if !spans[0].Start.Equal(p.Datetimes[1]) || !spans[0].End.Equal(p.Datetimes[3]) {
		t.Errorf("span %v-%v, want samples 1-3", spans[0].Start, spans[0].End)
	}
}

func TestIdentifyDiscardsOpenEventAtEOF(t *testing.T) {
	p := secondsSeries([]float64{0, 5, 6, 7})
	if spans := Identify(p, 3); len(spans) != 0 {
		t.Errorf("got %d spans, want 0 for an event still open at end of data", len(spans))
	}
}

func TestIdentifyIgnoresUndefinedSigma(t *testing.T) {
	p := secondsSeries([]float64{9, 9, 0, 0})
	p.Sigma[0] = math.NaN()
	p.Sigma[1] = math.NaN()

	if spans := Identify(p, 3); len(spans) != 0 {
		t.Errorf("got %d spans, want 0 when sigma is undefined", len(spans))
	}
}

func TestConfirmSidecar(t *testing.T) {
	base := time.Date(2022, 1, 16, 1, 0, 0, 0, time.UTC)
	span := func(offset time.Duration) Span {
		return Span{Start: base.Add(offset), End: base.Add(offset + time.Second)}
	}

	tests := []struct {
		name     string
		spans    []Span
		frTimes  []time.Duration
		maxDelta time.Duration
		want     []bool
	}{
		{
			"event before start confirms",
			[]Span{span(100 * time.Second)},
			[]time.Duration{95 * time.Second},
			10 * time.Second,
			[]bool{true},
		},
		{
			"event after start confirms",
			[]Span{span(100 * time.Second)},
			[]time.Duration{104 * time.Second},
			10 * time.Second,
			[]bool{true},
		},
		{
			"exactly max delta confirms",
			[]Span{span(100 * time.Second)},
			[]time.Duration{90 * time.Second},
			10 * time.Second,
			[]bool{true},
		},
		{
			"just past max delta rejects",
			[]Span{span(100 * time.Second)},
			[]time.Duration{100*time.Second + 10*time.Second + time.Millisecond},
			10 * time.Second,
			[]bool{false},
		},
		{
			"both neighbors out of range",
			[]Span{span(100 * time.Second)},
			[]time.Duration{80 * time.Second, 111 * time.Second},
			10 * time.Second,
			[]bool{false},
		},
		{
			"empty sidecar rejects everything",
			[]Span{span(100 * time.Second), span(200 * time.Second)},
			nil,
			10 * time.Second,
			[]bool{false, false},
		},
		{
			"unsorted input is handled",
			[]Span{span(100 * time.Second)},
			[]time.Duration{500 * time.Second, 98 * time.Second, 300 * time.Second},
			10 * time.Second,
			[]bool{true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frTimes := make([]time.Time, len(tt.frTimes))
			for i, offset := range tt.frTimes {
				frTimes[i] = base.Add(offset)
			}
			got := ConfirmSidecar(tt.spans, frTimes, tt.maxDelta)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("confirmation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// flatNight is 60 s of constant intensity at 25 fps.
func flatNight(frEvents []time.Time) *db.RawNight {
	base := time.Date(2022, 1, 16, 1, 0, 0, 0, time.UTC)
	night := &db.RawNight{FRTimestamps: frEvents}
	for i := 0; i < 1500; i++ {
		night.Datetimes = append(night.Datetimes, base.Add(time.Duration(i)*40*time.Millisecond))
		night.Intensities = append(night.Intensities, 100)
	}
	return night
}

// burstNight is 120 s of structured background (a steady level plus an
// in-band 0.5 Hz sway) with a strong 10 s oscillation at the passband center
// starting 60 s in. The sway keeps the adaptive threshold calibrated the way
// real sky background does.
func burstNight(frEvents []time.Time) (*db.RawNight, time.Time) {
	const fs = 25.0
	base := time.Date(2022, 1, 16, 1, 0, 0, 0, time.UTC)
	burstAt := base.Add(60 * time.Second)

	night := &db.RawNight{FRTimestamps: frEvents}
	for i := 0; i < 3000; i++ {
		sec := float64(i) / fs
		v := 200 + 8*math.Sin(2*math.Pi*0.5*sec)
		if sec >= 60 && sec < 70 {
			v += 80 * math.Sin(2*math.Pi*0.316*(sec-60))
		}
		night.Datetimes = append(night.Datetimes, base.Add(time.Duration(i*40)*time.Millisecond))
		night.Intensities = append(night.Intensities, uint32(v))
	}
	return night, burstAt
}

func openDetectDB(t *testing.T, key db.NightKey, night *db.RawNight) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "detect.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.IngestNight(key, night); err != nil {
		t.Fatalf("IngestNight: %v", err)
	}
	return store
}

func TestDetectNightFlatSignalNoCandidates(t *testing.T) {
	key := db.NightKey{StationID: "CA0001", Date: time.Date(2022, 1, 16, 0, 0, 0, 0, time.UTC)}
	store := openDetectDB(t, key, flatNight(nil))

	candidates, err := DetectNight(store, key, defaultParams())
	if err != nil {
		t.Fatalf("DetectNight: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0 for a flat signal with no sidecar events", len(candidates))
	}
}

func TestDetectNightBurstWithoutSidecarMatch(t *testing.T) {
	key := db.NightKey{StationID: "CA0001", Date: time.Date(2022, 1, 16, 0, 0, 0, 0, time.UTC)}
	// The only sidecar event predates the night entirely, so no detection
	// can sit within the proximity window.
	night, _ := burstNight(nil)
	night.FRTimestamps = []time.Time{night.Datetimes[0].Add(-60 * time.Second)}
	store := openDetectDB(t, key, night)

	processed, err := Condition(night, defaultParams())
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	spans := Identify(processed, defaultParams().Cutoff)
	if len(spans) == 0 {
		t.Fatal("burst produced no detections")
	}

	candidates, err := DetectNight(store, key, defaultParams())
	if err != nil {
		t.Fatalf("DetectNight: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("got %d candidates, want 0 with no sidecar event near any detection", len(candidates))
	}
}

func TestDetectNightBurstWithSidecarMatch(t *testing.T) {
	key := db.NightKey{StationID: "CA0001", Date: time.Date(2022, 1, 16, 0, 0, 0, 0, time.UTC)}
	night, burstAt := burstNight(nil)
	night.FRTimestamps = []time.Time{burstAt.Add(-2 * time.Second)}
	store := openDetectDB(t, key, night)

	candidates, err := DetectNight(store, key, defaultParams())
	if err != nil {
		t.Fatalf("DetectNight: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("got 0 candidates, want the burst confirmed by a nearby sidecar event")
	}

	persisted, err := store.CandidatesByNight(key)
	if err != nil {
		t.Fatalf("CandidatesByNight: %v", err)
	}
	if diff := cmp.Diff(candidates, persisted); diff != "" {
		t.Errorf("persisted candidates mismatch (-returned +stored):\n%s", diff)
	}
}

func TestConditionDeterministic(t *testing.T) {
	night, _ := burstNight(nil)

	p1, err := Condition(night, defaultParams())
	if err != nil {
		t.Fatalf("first Condition: %v", err)
	}
	p2, err := Condition(night, defaultParams())
	if err != nil {
		t.Fatalf("second Condition: %v", err)
	}
	if diff := cmp.Diff(p1.Detrended, p2.Detrended); diff != "" {
		t.Errorf("detrended differs between runs (-first +second):\n%s", diff)
	}

	s1 := Identify(p1, defaultParams().Cutoff)
	s2 := Identify(p2, defaultParams().Cutoff)
	if diff := cmp.Diff(s1, s2); diff != "" {
		t.Errorf("spans differ between runs (-first +second):\n%s", diff)
	}
}

func TestConditionRejectsShortNight(t *testing.T) {
	base := time.Date(2022, 1, 16, 1, 0, 0, 0, time.UTC)
	night := &db.RawNight{}
	for i := 0; i < 10; i++ {
		night.Datetimes = append(night.Datetimes, base.Add(time.Duration(i)*40*time.Millisecond))
		night.Intensities = append(night.Intensities, 100)
	}

	if _, err := Condition(night, defaultParams()); err == nil {
		t.Error("Condition accepted a night shorter than the filter padding")
	}
}
