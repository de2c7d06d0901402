// Package ingest watches the upload root and makes new archives durable in
// the store exactly once. A producer polls the filesystem behind an mtime
// watermark; a single consumer decodes archives so at most one night's data
// is in memory at a time.
package ingest

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/gmn-data/fireball-pipeline/internal/archive"
	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
)

// Engine is the upload ingestion loop. Configure the exported fields before
// Start; they must not change while the engine runs.
type Engine struct {
	Store        *db.DB
	Root         string
	PollInterval time.Duration
	QueueDepth   int
	Reader       archive.Reader

	// StartFrom overrides the initial watermark. Zero means the moment
	// Start is called, so only uploads arriving after startup are ingested.
	StartFrom time.Time

	mu           sync.Mutex
	running      bool
	watermark    time.Time
	queue        chan string
	stopProducer chan struct{}
	producerDone chan struct{}
	consumerDone chan struct{}
}

// New builds an Engine wired to the store with the configured poll interval,
// queue depth and decoder settings.
func New(store *db.DB, cfg *config.Config) *Engine {
	return &Engine{
		Store:        store,
		Root:         cfg.GetUploadRoot(),
		PollInterval: cfg.GetPollInterval(),
		QueueDepth:   cfg.GetQueueDepth(),
		Reader:       archive.Reader{FPS: cfg.GetFPS(), Deinterlace: cfg.GetDeinterlace()},
	}
}

// Start launches the producer and consumer. Calling Start on a running engine
// is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.watermark = e.StartFrom
	if e.watermark.IsZero() {
		e.watermark = time.Now()
	}

	e.queue = make(chan string, e.QueueDepth)
	e.stopProducer = make(chan struct{})
	e.producerDone = make(chan struct{})
	e.consumerDone = make(chan struct{})

	go e.produce()
	go e.consume()
	monitoring.Logf("ingest: watching %s every %v", e.Root, e.PollInterval)
}

// Stop halts the producer, drains the queue, and waits for the in-flight
// ingestion to finish. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false

	close(e.stopProducer)
	<-e.producerDone
	close(e.queue)
	<-e.consumerDone
	monitoring.Logf("ingest: stopped")
}

func (e *Engine) produce() {
	defer close(e.producerDone)

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopProducer:
			return
		case <-ticker.C:
			if !e.ScanOnce() {
				return
			}
		}
	}
}

// ScanOnce runs a single producer pass: walk the upload root, enqueue every
// archive newer than the watermark, then advance the watermark to the newest
// mtime seen. The watermark never rolls back, so a file that fails later in
// the consumer is not retried until its mtime is refreshed. Reports false
// when a stop arrived mid-pass.
func (e *Engine) ScanOnce() bool {
	paths, maxMtime, err := Scan(e.Root, e.watermark)
	if err != nil {
		monitoring.Logf("ingest: scan of %s failed: %v", e.Root, err)
		return true
	}

	for _, path := range paths {
		select {
		case e.queue <- path:
		case <-e.stopProducer:
			return false
		}
	}

	if maxMtime.After(e.watermark) {
		e.watermark = maxMtime
	}
	return true
}

func (e *Engine) consume() {
	defer close(e.consumerDone)
	for path := range e.queue {
		e.IngestArchive(path)
	}
}

// IngestArchive decodes one archive and persists it as a RawNight, advancing
// the night to the ingested state in the same transaction. Every failure mode
// is logged with the offending path and the file is dropped; nothing partial
// is persisted.
func (e *Engine) IngestArchive(path string) {
	station, date, err := archive.ParseNightKey(filepath.Base(path))
	if err != nil {
		monitoring.Logf("ingest: %s: %v", path, err)
		return
	}
	key := db.NightKey{StationID: station, Date: date}

	night, err := e.Reader.Read(path)
	if err != nil {
		monitoring.Logf("ingest: %s: %v", path, err)
		return
	}

	if err := e.Store.IngestNight(key, &db.RawNight{
		Datetimes:    night.Datetimes,
		Intensities:  night.Intensities,
		FRTimestamps: night.FRTimestamps,
	}); err != nil {
		monitoring.Logf("ingest: %s: %v", path, err)
		return
	}

	monitoring.Logf("ingest: %s ingested from %s (%d samples, %d sidecar events)",
		key, path, len(night.Datetimes), len(night.FRTimestamps))
}
