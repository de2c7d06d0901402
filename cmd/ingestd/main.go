// Command ingestd watches the upload root for new station archives and makes
// them durable in the pipeline database.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmn-data/fireball-pipeline/internal/catalog"
	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/ingest"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to JSON config file (optional)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	store, err := db.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	if err := seedIfNeeded(store, cfg); err != nil {
		log.Fatalf("failed to seed station catalog: %v", err)
	}

	engine := ingest.New(store, cfg)
	engine.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Print("shutting down")
	engine.Stop()
}

// seedIfNeeded populates the station catalog and neighborhoods on a fresh
// database and leaves an already-seeded one alone.
func seedIfNeeded(store *db.DB, cfg *config.Config) error {
	n, err := store.StationCount()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return catalog.Seed(store, cfg.GetCatalogURL(), cfg.GetRadiusKm())
}
