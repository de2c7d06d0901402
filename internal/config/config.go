// Package config loads the pipeline tuning parameters from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents the recognized pipeline parameters. Fields are pointers so
// that a partial JSON file only overrides what it names; the Get* accessors
// supply the defaults for everything else.
type Config struct {
	// Detection params
	Cutoff             *float64 `json:"cutoff,omitempty"`               // sigma multiplier for trigger
	AvgWindowSeconds   *float64 `json:"avg_window_seconds,omitempty"`   // moving-mean window
	StdWindowSeconds   *float64 `json:"std_window_seconds,omitempty"`   // moving-std window
	FREventProximity   *float64 `json:"fr_event_proximity,omitempty"`   // max |dt| to sidecar event, seconds
	FPS                *float64 `json:"fps,omitempty"`                  // camera sampling rate
	BandpassLowHz      *float64 `json:"bandpass_low_hz,omitempty"`      // bandpass lower cutoff
	BandpassHighHz     *float64 `json:"bandpass_high_hz,omitempty"`     // bandpass upper cutoff
	Deinterlace        *bool    `json:"deinterlace,omitempty"`          // halve half-frame indices for interlaced cameras

	// Clustering params
	MinCameras   *float64 `json:"min_cameras,omitempty"`   // fraction of neighbors that must be ingested
	MinObservers *int     `json:"min_observers,omitempty"` // distinct stations per confirmed cluster
	RadiusKm     *float64 `json:"radius_km,omitempty"`     // neighborhood radius

	// Process params
	UploadRoot   *string `json:"upload_root,omitempty"`   // directory watched for archives
	DBPath       *string `json:"db_path,omitempty"`       // sqlite database file
	CatalogURL   *string `json:"catalog_url,omitempty"`   // station catalog endpoint
	PollInterval *string `json:"poll_interval,omitempty"` // upload scan period, duration string like "5s"
	ScanInterval *string `json:"scan_interval,omitempty"` // analysis readiness scan period
	QueueDepth   *int    `json:"queue_depth,omitempty"`   // bounded work queue capacity
}

// DefaultCatalogURL is the public station catalog endpoint, keyed by station
// id with per-timestamp coordinate entries.
const DefaultCatalogURL = "https://globalmeteornetwork.org/data/kml_fov/GMN_station_coordinates_public.json"

// Default returns a Config with all fields unset, so every accessor reports
// its built-in default.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Cutoff != nil && *c.Cutoff <= 0 {
		return fmt.Errorf("cutoff must be positive, got %f", *c.Cutoff)
	}
	if c.AvgWindowSeconds != nil && *c.AvgWindowSeconds <= 0 {
		return fmt.Errorf("avg_window_seconds must be positive, got %f", *c.AvgWindowSeconds)
	}
	if c.StdWindowSeconds != nil && *c.StdWindowSeconds <= 0 {
		return fmt.Errorf("std_window_seconds must be positive, got %f", *c.StdWindowSeconds)
	}
	if c.FPS != nil && *c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %f", *c.FPS)
	}
	if c.MinCameras != nil && (*c.MinCameras <= 0 || *c.MinCameras > 1) {
		return fmt.Errorf("min_cameras must be in (0, 1], got %f", *c.MinCameras)
	}
	if c.MinObservers != nil && *c.MinObservers < 1 {
		return fmt.Errorf("min_observers must be at least 1, got %d", *c.MinObservers)
	}
	if c.RadiusKm != nil && *c.RadiusKm <= 0 {
		return fmt.Errorf("radius_km must be positive, got %f", *c.RadiusKm)
	}
	if c.QueueDepth != nil && *c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", *c.QueueDepth)
	}
	if c.PollInterval != nil && *c.PollInterval != "" {
		if _, err := time.ParseDuration(*c.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval %q: %w", *c.PollInterval, err)
		}
	}
	if c.ScanInterval != nil && *c.ScanInterval != "" {
		if _, err := time.ParseDuration(*c.ScanInterval); err != nil {
			return fmt.Errorf("invalid scan_interval %q: %w", *c.ScanInterval, err)
		}
	}
	if c.BandpassLowHz != nil && c.BandpassHighHz != nil && *c.BandpassLowHz >= *c.BandpassHighHz {
		return fmt.Errorf("bandpass_low_hz (%f) must be below bandpass_high_hz (%f)",
			*c.BandpassLowHz, *c.BandpassHighHz)
	}
	return nil
}

// GetCutoff returns the sigma multiplier for the trigger threshold.
func (c *Config) GetCutoff() float64 {
	if c.Cutoff == nil {
		return 3
	}
	return *c.Cutoff
}

// GetAvgWindow returns the moving-mean window.
func (c *Config) GetAvgWindow() time.Duration {
	if c.AvgWindowSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*c.AvgWindowSeconds * float64(time.Second))
}

// GetStdWindow returns the moving-std window.
func (c *Config) GetStdWindow() time.Duration {
	if c.StdWindowSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*c.StdWindowSeconds * float64(time.Second))
}

// GetFREventProximity returns the maximum distance to a sidecar event.
func (c *Config) GetFREventProximity() time.Duration {
	if c.FREventProximity == nil {
		return 10 * time.Second
	}
	return time.Duration(*c.FREventProximity * float64(time.Second))
}

// GetFPS returns the camera sampling rate.
func (c *Config) GetFPS() float64 {
	if c.FPS == nil {
		return 25
	}
	return *c.FPS
}

// GetBandpassLowHz returns the bandpass lower cutoff frequency.
func (c *Config) GetBandpassLowHz() float64 {
	if c.BandpassLowHz == nil {
		return 0.1
	}
	return *c.BandpassLowHz
}

// GetBandpassHighHz returns the bandpass upper cutoff frequency.
func (c *Config) GetBandpassHighHz() float64 {
	if c.BandpassHighHz == nil {
		return 1.0
	}
	return *c.BandpassHighHz
}

// GetDeinterlace reports whether archives come from interlaced cameras whose
// half-frame indices count fields rather than frames.
func (c *Config) GetDeinterlace() bool {
	if c.Deinterlace == nil {
		return false
	}
	return *c.Deinterlace
}

// GetMinCameras returns the fraction of a neighborhood that must be ingested
// before the neighborhood is dispatched.
func (c *Config) GetMinCameras() float64 {
	if c.MinCameras == nil {
		return 1.0 / 3.0
	}
	return *c.MinCameras
}

// GetMinObservers returns the number of distinct stations a confirmed cluster
// must contain.
func (c *Config) GetMinObservers() int {
	if c.MinObservers == nil {
		return 3
	}
	return *c.MinObservers
}

// GetRadiusKm returns the neighborhood radius.
func (c *Config) GetRadiusKm() float64 {
	if c.RadiusKm == nil {
		return 1000
	}
	return *c.RadiusKm
}

// GetUploadRoot returns the watched upload directory.
func (c *Config) GetUploadRoot() string {
	if c.UploadRoot == nil {
		return "uploads"
	}
	return *c.UploadRoot
}

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "fireball_clustering.db"
	}
	return *c.DBPath
}

// GetCatalogURL returns the station catalog endpoint.
func (c *Config) GetCatalogURL() string {
	if c.CatalogURL == nil {
		return DefaultCatalogURL
	}
	return *c.CatalogURL
}

// GetPollInterval returns the upload scan period.
func (c *Config) GetPollInterval() time.Duration {
	if c.PollInterval == nil || *c.PollInterval == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*c.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetScanInterval returns the analysis readiness scan period.
func (c *Config) GetScanInterval() time.Duration {
	if c.ScanInterval == nil || *c.ScanInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.ScanInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetQueueDepth returns the bounded work queue capacity.
func (c *Config) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return 64
	}
	return *c.QueueDepth
}
