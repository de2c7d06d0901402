// Package detect turns one station-night of summed field intensities into
// per-station fireball detections. The chain is signal conditioning (bandpass,
// detrend, rolling deviation), hysteresis thresholding, and confirmation
// against the camera's sidecar motion events.
package detect

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
)

// filterOrder is the lowpass prototype order; the bandpass it produces is
// fourth order.
const filterOrder = 2

// Params are the detection tuning knobs.
type Params struct {
	Cutoff        float64
	AvgWindow     time.Duration
	StdWindow     time.Duration
	FRProximity   time.Duration
	FPS           float64
	BandLowHz     float64
	BandHighHz    float64
}

// ParamsFromConfig resolves the detection parameters from a Config.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Cutoff:      cfg.GetCutoff(),
		AvgWindow:   cfg.GetAvgWindow(),
		StdWindow:   cfg.GetStdWindow(),
		FRProximity: cfg.GetFREventProximity(),
		FPS:         cfg.GetFPS(),
		BandLowHz:   cfg.GetBandpassLowHz(),
		BandHighHz:  cfg.GetBandpassHighHz(),
	}
}

// Processed is a conditioned night: the original instants, the detrended
// bandpass magnitude, and its rolling sample deviation.
type Processed struct {
	Datetimes []time.Time
	Detrended []float64
	Sigma     []float64
}

// Span is one detected event interval, inclusive of both endpoints.
type Span struct {
	Start time.Time
	End   time.Time
}

// Condition runs the signal chain on a raw night: zero-phase Butterworth
// bandpass of the intensity series, rectification, detrending against the
// rolling mean, then the rolling deviation that sets the trigger threshold.
func Condition(night *db.RawNight, p Params) (*Processed, error) {
	if len(night.Datetimes) != len(night.Intensities) {
		return nil, fmt.Errorf("night has %d instants but %d intensities", len(night.Datetimes), len(night.Intensities))
	}

	b, a, err := butterBandpass(filterOrder, p.BandLowHz, p.BandHighHz, p.FPS)
	if err != nil {
		return nil, err
	}

	x := make([]float64, len(night.Intensities))
	for i, v := range night.Intensities {
		x[i] = float64(v)
	}

	filtered, err := FiltFilt(b, a, x)
	if err != nil {
		return nil, err
	}
	for i := range filtered {
		filtered[i] = math.Abs(filtered[i])
	}

	mean := MovingMean(night.Datetimes, filtered, p.AvgWindow)
	detrended := make([]float64, len(filtered))
	for i := range filtered {
		detrended[i] = math.Abs(filtered[i] - mean[i])
	}

	return &Processed{
		Datetimes: night.Datetimes,
		Detrended: detrended,
		Sigma:     MovingStd(night.Datetimes, detrended, p.StdWindow),
	}, nil
}

// Identify walks the conditioned series with a hysteresis trigger: an event
// opens at the first sample whose detrended value reaches cutoff times the
// local deviation and closes at the first later sample at or below that
// threshold. An event still open at the end of the series is discarded.
// Samples whose deviation is undefined (NaN) never trigger or release.
func Identify(p *Processed, cutoff float64) []Span {
	var spans []Span
	open := false
	var start time.Time
	for i, v := range p.Detrended {
		threshold := cutoff * p.Sigma[i]
		if !open {
			if v >= threshold {
				open = true
				start = p.Datetimes[i]
			}
			continue
		}
		if v <= threshold {
			spans = append(spans, Span{Start: start, End: p.Datetimes[i]})
			open = false
		}
	}
	return spans
}

// ConfirmSidecar reports, for each span, whether its start lies within
// maxDelta of some sidecar motion event. Boundary distances exactly at
// maxDelta confirm. With no sidecar events nothing confirms.
func ConfirmSidecar(spans []Span, frTimes []time.Time, maxDelta time.Duration) []bool {
	sorted := make([]time.Time, len(frTimes))
	copy(sorted, frTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	confirmed := make([]bool, len(spans))
	if len(sorted) == 0 {
		return confirmed
	}

	for i, span := range spans {
		idx := sort.Search(len(sorted), func(j int) bool { return !sorted[j].Before(span.Start) })
		if idx < len(sorted) && sorted[idx].Sub(span.Start) <= maxDelta {
			confirmed[i] = true
			continue
		}
		if idx > 0 && span.Start.Sub(sorted[idx-1]) <= maxDelta {
			confirmed[i] = true
		}
	}
	return confirmed
}

// DetectNight loads a persisted night, runs the full detection chain, and
// stores the results: every hysteresis event as a fireball row, the
// sidecar-confirmed ones additionally as candidates. Returns the candidates.
func DetectNight(store *db.DB, key db.NightKey, p Params) ([]db.Fireball, error) {
	night, err := store.Night(key)
	if err != nil {
		return nil, err
	}
	if len(night.Datetimes) == 0 {
		monitoring.Logf("detect: %s has no samples, nothing to do", key)
		return nil, nil
	}

	processed, err := Condition(night, p)
	if err != nil {
		return nil, fmt.Errorf("failed to condition %s: %w", key, err)
	}

	spans := Identify(processed, p.Cutoff)
	confirmed := ConfirmSidecar(spans, night.FRTimestamps, p.FRProximity)

	detections := make([]db.Fireball, len(spans))
	for i, span := range spans {
		detections[i] = db.Fireball{StartTime: span.Start, EndTime: span.End}
	}

	candidates, err := store.InsertDetections(key, detections, confirmed)
	if err != nil {
		return nil, err
	}

	monitoring.Logf("detect: %s yielded %d detections, %d confirmed", key, len(spans), len(candidates))
	return candidates, nil
}
