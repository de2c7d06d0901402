// Package catalog seeds the station table from the network's public catalog
// endpoint and computes the fixed-radius neighborhood of every station.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/geo"
	"github.com/gmn-data/fireball-pipeline/internal/monitoring"
)

// coordEntry is one timestamped coordinate record in the catalog payload.
type coordEntry struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FetchStations downloads the catalog and keeps, for each station, the
// coordinates under the most recent ISO-8601 timestamp key. Stations whose
// entries all carry unparseable timestamps are skipped with a log line.
func FetchStations(url string) ([]db.Station, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch station catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("station catalog endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read station catalog: %w", err)
	}

	return ParseStations(body)
}

// ParseStations decodes the catalog payload: station id -> ISO timestamp ->
// {lat, lon}.
func ParseStations(payload []byte) ([]db.Station, error) {
	var raw map[string]map[string]coordEntry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse station catalog: %w", err)
	}

	var stations []db.Station
	for id, entries := range raw {
		var best time.Time
		var bestEntry coordEntry
		found := false
		for iso, entry := range entries {
			ts, err := parseCatalogTime(iso)
			if err != nil {
				monitoring.Logf("catalog: station %s: skipping entry with bad timestamp %q", id, iso)
				continue
			}
			if !found || ts.After(best) {
				best = ts
				bestEntry = entry
				found = true
			}
		}
		if !found {
			monitoring.Logf("catalog: station %s has no usable coordinate entry, skipping", id)
			continue
		}
		stations = append(stations, db.Station{ID: id, Latitude: bestEntry.Lat, Longitude: bestEntry.Lon})
	}

	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })
	return stations, nil
}

// parseCatalogTime accepts the timestamp spellings the catalog has used over
// time: RFC 3339 and the bare "2006-01-02T15:04:05" form.
func parseCatalogTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Neighborhoods computes, for every station, the ordered set of stations
// inside the bounding rectangle spanned by radiusKm in the four cardinal
// directions. A station is always a member of its own neighborhood.
func Neighborhoods(stations []db.Station, radiusKm float64) map[string][]string {
	radii := make(map[string][]string, len(stations))
	for _, center := range stations {
		box := geo.NewBoundingBox(center.Latitude, center.Longitude, radiusKm)

		var members []string
		for _, other := range stations {
			if box.Contains(other.Latitude, other.Longitude) {
				members = append(members, other.ID)
			}
		}
		sort.Strings(members)
		radii[center.ID] = members
	}
	return radii
}

// Seed fetches the catalog, stores the stations, and persists the computed
// neighborhoods. Intended to run once at database initialization; it is an
// error to call it on a database that already has stations.
func Seed(store *db.DB, url string, radiusKm float64) error {
	stations, err := FetchStations(url)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		return fmt.Errorf("station catalog at %s is empty", url)
	}

	if err := store.InsertStations(stations); err != nil {
		return err
	}
	if err := store.InsertRadius(Neighborhoods(stations, radiusKm)); err != nil {
		return err
	}

	monitoring.Logf("catalog: seeded %d stations with %g km neighborhoods", len(stations), radiusKm)
	return nil
}
