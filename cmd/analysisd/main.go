// Command analysisd runs the analysis half of the pipeline: it scans for
// neighborhoods with enough ingested nights, detects fireballs on each night,
// and fuses the candidates into confirmed clusters.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/sched"
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

	scheduler := sched.New(store, cfg)
	scheduler.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Print("shutting down")
	scheduler.Stop()
}
