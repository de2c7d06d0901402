package sched

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gmn-data/fireball-pipeline/internal/cluster"
	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/geo"
	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
	"github.com/gmn-data/fireball-pipeline/internal/testutil"
)

var nightDate = time.Date(2022, 1, 16, 0, 0, 0, 0, time.UTC)

func openSchedDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "sched.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ingestFlatNight(t *testing.T, store *db.DB, station string) db.NightKey {
	t.Helper()
	key := db.NightKey{StationID: station, Date: nightDate}
	base := nightDate.Add(time.Hour)
	night := &db.RawNight{}
	for i := 0; i < 500; i++ {
		night.Datetimes = append(night.Datetimes, base.Add(time.Duration(i)*40*time.Millisecond))
		night.Intensities = append(night.Intensities, 100)
	}
	testutil.AssertNoError(t, store.IngestNight(key, night))
	return key
}

func TestReadyUnitsThreshold(t *testing.T) {
	store := openSchedDB(t)
	members := []string{"AA0001", "AA0002", "AA0003", "AA0004", "AA0005", "AA0006"}
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{"AA0001": members}))

	// floor(6 * 1/3) = 2 ingested members required.
	key1 := ingestFlatNight(t, store, "AA0001")

	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 0 {
		t.Fatalf("got %d units with one ingested member, want 0", len(units))
	}

	key2 := ingestFlatNight(t, store, "AA0004")

	units, err = ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 1 {
		t.Fatalf("got %d units with two ingested members, want 1", len(units))
	}
	if diff := cmp.Diff([]db.NightKey{key1, key2}, units[0]); diff != "" {
		t.Errorf("unit mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyUnitsIgnoresNonMembers(t *testing.T) {
	store := openSchedDB(t)
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{
		"AA0001": {"AA0001", "AA0002", "AA0003", "AA0004", "AA0005", "AA0006"},
	}))

	// Ingested stations outside the neighborhood do not count toward its
	// threshold.
	ingestFlatNight(t, store, "AA0001")
	ingestFlatNight(t, store, "ZZ0001")

	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 0 {
		t.Fatalf("got %d units, want 0 when only one member is ingested", len(units))
	}
}

func TestReadyUnitsDedup(t *testing.T) {
	store := openSchedDB(t)
	// Two centers with the same member set produce the same unit; it is
	// dispatched once per tick.
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{
		"AA0001": {"AA0001", "AA0002"},
		"AA0002": {"AA0001", "AA0002"},
	}))
	ingestFlatNight(t, store, "AA0001")
	ingestFlatNight(t, store, "AA0002")

	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1 after deduplication", len(units))
	}
}

func TestReadyUnitsMultipleNightsPerStation(t *testing.T) {
	store := openSchedDB(t)
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{
		"AA0001": {"AA0001", "AA0002"},
	}))

	key1 := ingestFlatNight(t, store, "AA0001")
	key2 := db.NightKey{StationID: "AA0001", Date: nightDate.AddDate(0, 0, 1)}
	night, err := store.Night(key1)
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, store.IngestNight(key2, night))

	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if diff := cmp.Diff([]db.NightKey{key1, key2}, units[0]); diff != "" {
		t.Errorf("unit mismatch (-want +got):\n%s", diff)
	}
}

func TestReadyUnitsIncludeProcessingNights(t *testing.T) {
	store := openSchedDB(t)
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{
		"AA0001": {"AA0001", "AA0002"},
	}))
	key1 := ingestFlatNight(t, store, "AA0001")
	key2 := ingestFlatNight(t, store, "AA0002")

	// A night claimed by a dispatch that never finished stays on the
	// dispatch path.
	testutil.AssertNoError(t, store.Transition(key1, db.StatusIngested, db.StatusProcessing))

	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1 with the processing member still counted", len(units))
	}
	if diff := cmp.Diff([]db.NightKey{key1, key2}, units[0]); diff != "" {
		t.Errorf("unit mismatch (-want +got):\n%s", diff)
	}
}

func newTestScheduler(store *db.DB, minObservers int) *Scheduler {
	cfg := config.Default()
	s := New(store, cfg)
	s.ScanInterval = 10 * time.Millisecond
	s.Fusion = cluster.Params{TemporalEps: 10, SpatialRadiusKm: 1000, MinPts: 2, MinObservers: minObservers}
	return s
}

// seedProcessedCandidate persists one confirmed candidate for a station and
// marks its night processed, as a finished earlier dispatch would have.
func seedProcessedCandidate(t *testing.T, store *db.DB, station string, start time.Time) db.NightKey {
	t.Helper()
	key := ingestFlatNight(t, store, station)
	_, err := store.InsertDetections(key, []db.Fireball{
		{StartTime: start, EndTime: start.Add(5 * time.Second)},
	}, []bool{true})
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, store.Transition(key, db.StatusIngested, db.StatusProcessing))
	testutil.AssertNoError(t, store.Transition(key, db.StatusProcessing, db.StatusProcessed))
	return key
}

func seedStationPair(t *testing.T, store *db.DB) {
	t.Helper()
	_, lon := geo.DestinationPoint(45, 15, 100, 90)
	testutil.AssertNoError(t, store.InsertStations([]db.Station{
		{ID: "AA0001", Latitude: 45, Longitude: 15},
		{ID: "AA0002", Latitude: 45, Longitude: lon},
	}))
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{
		"AA0001": {"AA0001", "AA0002"},
		"AA0002": {"AA0001", "AA0002"},
	}))
}

func TestProcessUnitFusesProcessedCandidates(t *testing.T) {
	store := openSchedDB(t)
	seedStationPair(t, store)

	eventStart := nightDate.Add(2 * time.Hour)
	key1 := seedProcessedCandidate(t, store, "AA0001", eventStart)
	key2 := seedProcessedCandidate(t, store, "AA0002", eventStart.Add(2*time.Second))

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{key1, key2})

	clusters, err := store.Clusters()
	testutil.AssertNoError(t, err)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if diff := cmp.Diff([]string{"AA0001", "AA0002"}, clusters[0].StationIDs); diff != "" {
		t.Errorf("cluster stations mismatch (-want +got):\n%s", diff)
	}

	// Re-dispatch of the same unit re-derives the same cluster; the store
	// keeps a single copy.
	s.ProcessUnit([]db.NightKey{key1, key2})
	clusters, err = store.Clusters()
	testutil.AssertNoError(t, err)
	if len(clusters) != 1 {
		t.Errorf("got %d clusters after re-dispatch, want 1", len(clusters))
	}
}

func TestProcessUnitAdvancesIngestedNights(t *testing.T) {
	store := openSchedDB(t)
	seedStationPair(t, store)
	key := ingestFlatNight(t, store, "AA0001")

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{key})

	status, err := store.AnalysisStatus(key)
	testutil.AssertNoError(t, err)
	if status != db.StatusProcessed {
		t.Errorf("status = %s, want %s", status, db.StatusProcessed)
	}
}

func TestProcessUnitResumesProcessingNight(t *testing.T) {
	store := openSchedDB(t)
	key := ingestFlatNight(t, store, "AA0001")

	// Simulate a dispatch that died after claiming the night.
	testutil.AssertNoError(t, store.Transition(key, db.StatusIngested, db.StatusProcessing))

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{key})

	status, err := store.AnalysisStatus(key)
	testutil.AssertNoError(t, err)
	if status != db.StatusProcessed {
		t.Errorf("status = %s, want %s after the resumed dispatch", status, db.StatusProcessed)
	}
}

func ingestShortNight(t *testing.T, store *db.DB, station string) db.NightKey {
	t.Helper()
	key := db.NightKey{StationID: station, Date: nightDate}
	base := nightDate.Add(time.Hour)
	night := &db.RawNight{}
	for i := 0; i < 10; i++ {
		night.Datetimes = append(night.Datetimes, base.Add(time.Duration(i)*40*time.Millisecond))
		night.Intensities = append(night.Intensities, 100)
	}
	testutil.AssertNoError(t, store.IngestNight(key, night))
	return key
}

func TestProcessUnitFailedNightStaysDispatchable(t *testing.T) {
	store := openSchedDB(t)
	testutil.AssertNoError(t, store.InsertRadius(map[string][]string{"AA0001": {"AA0001"}}))

	// Too few samples to filter, so detection fails after the night is
	// claimed.
	key := ingestShortNight(t, store, "AA0001")

	lines, restore := monitoring.Capture()
	defer restore()

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{key})

	status, err := store.AnalysisStatus(key)
	testutil.AssertNoError(t, err)
	if status == db.StatusProcessed {
		t.Fatal("a night that failed detection advanced to processed")
	}
	if len(*lines) == 0 {
		t.Error("the failed night was not reported")
	}

	// The failure leaves the night visible to the next readiness tick.
	units, err := ReadyUnits(store, 1.0/3.0)
	testutil.AssertNoError(t, err)
	if len(units) != 1 {
		t.Fatalf("got %d units after the failure, want the night re-emitted", len(units))
	}
	if diff := cmp.Diff([]db.NightKey{key}, units[0]); diff != "" {
		t.Errorf("re-emitted unit mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessUnitRecordsFailedFusionRun(t *testing.T) {
	store := openSchedDB(t)

	// A candidate from a station missing from the catalog makes fusion fail;
	// the unit must still leave an audit row carrying the failure.
	eventStart := nightDate.Add(2 * time.Hour)
	key := seedProcessedCandidate(t, store, "AA0001", eventStart)

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{key})

	runs, err := store.AnalysisRuns()
	testutil.AssertNoError(t, err)
	if len(runs) != 1 {
		t.Fatalf("got %d audit rows, want 1 for the failed unit", len(runs))
	}
	if runs[0].Outcome == "ok" {
		t.Errorf("outcome = %q, want the fusion failure", runs[0].Outcome)
	}
	if runs[0].StationCount != 1 || runs[0].CandidateCount != 1 || runs[0].ClusterCount != 0 {
		t.Errorf("run counts = %d/%d/%d, want 1 station, 1 candidate, 0 clusters",
			runs[0].StationCount, runs[0].CandidateCount, runs[0].ClusterCount)
	}
}

func TestProcessUnitFailureDomain(t *testing.T) {
	store := openSchedDB(t)
	seedStationPair(t, store)

	eventStart := nightDate.Add(2 * time.Hour)
	key1 := seedProcessedCandidate(t, store, "AA0001", eventStart)
	key2 := seedProcessedCandidate(t, store, "AA0002", eventStart.Add(2*time.Second))
	missing := db.NightKey{StationID: "XX9999", Date: nightDate}

	s := newTestScheduler(store, 2)
	s.ProcessUnit([]db.NightKey{missing, key1, key2})

	// The broken key is logged and skipped; the rest of the unit completes.
	clusters, err := store.Clusters()
	testutil.AssertNoError(t, err)
	if len(clusters) != 1 {
		t.Errorf("got %d clusters, want 1 despite the failed member", len(clusters))
	}
}

func TestSchedulerLoopEndToEnd(t *testing.T) {
	store := openSchedDB(t)
	seedStationPair(t, store)

	eventStart := nightDate.Add(2 * time.Hour)
	seedProcessedCandidate(t, store, "AA0001", eventStart)
	key2 := ingestFlatNight(t, store, "AA0002")

	s := newTestScheduler(store, 3)
	s.Start()
	s.Start() // idempotent
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if status, err := store.AnalysisStatus(key2); err == nil && status == db.StatusProcessed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not process the ingested night before the deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.Stop()
	s.Stop() // idempotent
}
