// Command fireballctl is the operator tool for the pipeline database: schema
// migration, catalog seeding, one-off ingestion, and one-off detection runs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"

	"github.com/gmn-data/fireball-pipeline/internal/catalog"
	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/detect"
	"github.com/gmn-data/fireball-pipeline/internal/ingest"
)

const usage = `usage: fireballctl [-config file] [-db file] <command> [args]

commands:
  initdb                    create the schema and seed the station catalog
  migrate up|down|status    manage the schema version
  ingest <archive>          decode one archive and persist its night
  detect <station> <date>   run detection on one ingested night (date YYYY-MM-DD)
  clusters                  list confirmed clusters
  runs                      list scheduler work-unit audit rows
`

func main() {
	var configPath, dbPath string
	flag.StringVar(&configPath, "config", "", "path to JSON config file (optional)")
	flag.StringVar(&dbPath, "db", "", "database path (overrides config)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if dbPath == "" {
		dbPath = cfg.GetDBPath()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	store, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	switch args[0] {
	case "initdb":
		err = runInitDB(store, cfg)
	case "migrate":
		err = runMigrate(store, args[1:])
	case "ingest":
		err = runIngest(store, cfg, args[1:])
	case "detect":
		err = runDetect(store, cfg, args[1:])
	case "clusters":
		err = runClusters(store)
	case "runs":
		err = runRuns(store)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func runInitDB(store *db.DB, cfg *config.Config) error {
	n, err := store.StationCount()
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("database already has %d stations", n)
	}
	return catalog.Seed(store, cfg.GetCatalogURL(), cfg.GetRadiusKm())
}

func runMigrate(store *db.DB, args []string) error {
	if len(args) != 1 {
		return errors.New("migrate needs exactly one of up, down, status")
	}
	switch args[0] {
	case "up":
		return store.MigrateUp()
	case "down":
		return store.MigrateDown()
	case "status":
		version, dirty, err := store.MigrateVersion()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("version %d (dirty: %v)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate subcommand %q", args[0])
	}
}

func runIngest(store *db.DB, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("ingest needs an archive path")
	}
	engine := ingest.New(store, cfg)
	engine.IngestArchive(args[0])
	return nil
}

func runDetect(store *db.DB, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("detect needs a station id and a YYYY-MM-DD date")
	}
	date, err := db.ParseNightDate(args[1])
	if err != nil {
		return err
	}
	key := db.NightKey{StationID: args[0], Date: date}

	candidates, err := detect.DetectNight(store, key, detect.ParamsFromConfig(cfg))
	if err != nil {
		return err
	}
	for _, c := range candidates {
		fmt.Printf("%d\t%s\t%s\n", c.ID,
			c.StartTime.UTC().Format(time.RFC3339Nano), c.EndTime.UTC().Format(time.RFC3339Nano))
	}
	fmt.Printf("%d confirmed candidates\n", len(candidates))
	return nil
}

func runClusters(store *db.DB) error {
	clusters, err := store.Clusters()
	if err != nil {
		return err
	}
	for _, c := range clusters {
		fmt.Printf("%d\t%v\t%s\t%s\n", c.ID, c.StationIDs,
			c.Start.UTC().Format(time.RFC3339Nano), c.End.UTC().Format(time.RFC3339Nano))
	}
	fmt.Printf("%d clusters\n", len(clusters))
	return nil
}

func runRuns(store *db.DB) error {
	runs, err := store.AnalysisRuns()
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s\t%s\t%d stations\t%d candidates\t%d clusters\t%s\n",
			r.RunID, r.StartedAt.UTC().Format(time.RFC3339), r.StationCount,
			r.CandidateCount, r.ClusterCount, r.Outcome)
	}
	fmt.Printf("%d runs\n", len(runs))
	return nil
}
