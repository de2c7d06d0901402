// Package sched drives the analysis side of the pipeline: it watches analysis
// state for neighborhoods with enough ingested nights, runs detection on each
// night, and fuses the pooled candidates into confirmed clusters.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gmn-data/fireball-pipeline/internal/cluster"
	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/detect"
	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
)

// Scheduler is the analysis work loop. Configure the exported fields before
// Start; they must not change while the scheduler runs.
type Scheduler struct {
	Store        *db.DB
	ScanInterval time.Duration
	QueueDepth   int
	MinCameras   float64
	Detection    detect.Params
	Fusion       cluster.Params

	mu           sync.Mutex
	running      bool
	queue        chan []db.NightKey
	stopProducer chan struct{}
	producerDone chan struct{}
	consumerDone chan struct{}
}

// New builds a Scheduler wired to the store with the configured tick period
// and analysis parameters.
func New(store *db.DB, cfg *config.Config) *Scheduler {
	return &Scheduler{
		Store:        store,
		ScanInterval: cfg.GetScanInterval(),
		QueueDepth:   cfg.GetQueueDepth(),
		MinCameras:   cfg.GetMinCameras(),
		Detection:    detect.ParamsFromConfig(cfg),
		Fusion:       cluster.ParamsFromConfig(cfg),
	}
}

// Start launches the readiness producer and the single analysis consumer.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.queue = make(chan []db.NightKey, s.QueueDepth)
	s.stopProducer = make(chan struct{})
	s.producerDone = make(chan struct{})
	s.consumerDone = make(chan struct{})

	go s.produce()
	go s.consume()
	monitoring.Logf("sched: scanning for ready neighborhoods every %v", s.ScanInterval)
}

// Stop halts the producer, drains queued work, and waits for the in-flight
// unit to finish. Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	close(s.stopProducer)
	<-s.producerDone
	close(s.queue)
	<-s.consumerDone
	monitoring.Logf("sched: stopped")
}

func (s *Scheduler) produce() {
	defer close(s.producerDone)

	ticker := time.NewTicker(s.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopProducer:
			return
		case <-ticker.C:
			if !s.ScanOnce() {
				return
			}
		}
	}
}

// ScanOnce runs one readiness tick and enqueues the ready units. Readiness is
// recomputed from scratch every tick; a neighborhood still growing can be
// re-emitted, which the consumer absorbs through the processed-reuse branch.
// Reports false when a stop arrived mid-tick.
func (s *Scheduler) ScanOnce() bool {
	units, err := ReadyUnits(s.Store, s.MinCameras)
	if err != nil {
		monitoring.Logf("sched: readiness scan failed: %v", err)
		return true
	}

	for _, unit := range units {
		select {
		case s.queue <- unit:
		case <-s.stopProducer:
			return false
		}
	}
	return true
}

func (s *Scheduler) consume() {
	defer close(s.consumerDone)
	for unit := range s.queue {
		s.ProcessUnit(unit)
	}
}

// ProcessUnit runs one dispatched work unit: detect on every night in the
// unit, pool the confirmed candidates, fuse them into clusters, and record an
// audit row. Each (station, night) is its own failure domain; an error there
// is logged and the remaining nights still run. A night that fails before
// reaching processed stays in its current state and is retried on a later
// tick.
func (s *Scheduler) ProcessUnit(unit []db.NightKey) {
	startedAt := time.Now().UTC()

	var pooled []db.Fireball
	stations := make(map[string]struct{})
	for _, key := range unit {
		stations[key.StationID] = struct{}{}

		candidates, err := s.processNight(key)
		if err != nil {
			monitoring.Logf("sched: %s: %v", key, err)
			continue
		}
		pooled = append(pooled, candidates...)
	}

	outcome := "ok"
	inserted := 0
	if len(pooled) > 0 {
		n, err := s.fuse(pooled)
		inserted = n
		if err != nil {
			monitoring.Logf("sched: %v", err)
			outcome = err.Error()
		}
	}

	run := db.AnalysisRun{
		RunID:          uuid.NewString(),
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
		StationCount:   len(stations),
		CandidateCount: len(pooled),
		ClusterCount:   inserted,
		Outcome:        outcome,
	}
	if err := s.Store.RecordAnalysisRun(run); err != nil {
		monitoring.Logf("sched: %v", err)
	}
}

// fuse clusters the pooled candidates and persists the fresh ones, returning
// how many were new.
func (s *Scheduler) fuse(pooled []db.Fireball) (int, error) {
	coords, err := s.Store.StationCoords()
	if err != nil {
		return 0, fmt.Errorf("failed to load station coordinates: %w", err)
	}

	clusters, err := cluster.Cluster(pooled, coords, s.Fusion)
	if err != nil {
		return 0, fmt.Errorf("clustering failed: %w", err)
	}

	inserted := 0
	for _, c := range clusters {
		_, fresh, err := s.Store.InsertCluster(c)
		if err != nil {
			monitoring.Logf("sched: failed to persist cluster %v: %v", c.StationIDs, err)
			continue
		}
		if fresh {
			inserted++
			monitoring.Logf("sched: confirmed cluster %v spanning %s to %s",
				c.StationIDs, c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
		}
	}
	return inserted, nil
}

// processNight advances one key through detection, or reuses its persisted
// candidates when an earlier dispatch already processed it. A key found at
// processing was abandoned by a dispatch that failed mid-flight; it resumes
// here without a state write, and rerunning detection replaces whatever that
// dispatch half-persisted.
func (s *Scheduler) processNight(key db.NightKey) ([]db.Fireball, error) {
	status, err := s.Store.AnalysisStatus(key)
	if err != nil {
		return nil, err
	}
	if status == db.StatusProcessed {
		return s.Store.CandidatesByNight(key)
	}

	if status == db.StatusIngested {
		if err := s.Store.Transition(key, db.StatusIngested, db.StatusProcessing); err != nil {
			return nil, err
		}
	}

	candidates, err := detect.DetectNight(s.Store, key, s.Detection)
	if err != nil {
		return nil, err
	}

	if err := s.Store.Transition(key, db.StatusProcessing, db.StatusProcessed); err != nil {
		return nil, err
	}
	return candidates, nil
}
