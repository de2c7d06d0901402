package db

import (
	"encoding/json"
	"fmt"
)

// Station is one camera site from the catalog. Coordinates are decimal
// degrees; the id is the opaque 6-character station identifier.
type Station struct {
	ID        string
	Latitude  float64
	Longitude float64
}

// InsertStations seeds the station catalog. Stations are immutable once
// seeded; re-seeding an existing id is an error.
func (db *DB) InsertStations(stations []Station) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin station insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO stations (station_id, latitude, longitude) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare station insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range stations {
		if _, err := stmt.Exec(s.ID, s.Latitude, s.Longitude); err != nil {
			return fmt.Errorf("failed to insert station %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// Stations returns the full station catalog.
func (db *DB) Stations() ([]Station, error) {
	rows, err := db.Query(`SELECT station_id, latitude, longitude FROM stations ORDER BY station_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	var stations []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.Latitude, &s.Longitude); err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

// StationCount returns the number of seeded stations. Used to decide whether
// catalog seeding is still needed at startup.
func (db *DB) StationCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM stations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stations: %w", err)
	}
	return n, nil
}

// StationCoords returns the catalog as an id-keyed lookup map.
func (db *DB) StationCoords() (map[string]Station, error) {
	stations, err := db.Stations()
	if err != nil {
		return nil, err
	}

	coords := make(map[string]Station, len(stations))
	for _, s := range stations {
		coords[s.ID] = s
	}
	return coords, nil
}

// InsertRadius stores the precomputed neighborhood of every station. Member
// lists are serialized as JSON arrays of station ids.
func (db *DB) InsertRadius(radii map[string][]string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin radius insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO radius (station_id, stations_within_radius) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare radius insert: %w", err)
	}
	defer stmt.Close()

	for stationID, members := range radii {
		blob, err := json.Marshal(members)
		if err != nil {
			return fmt.Errorf("failed to serialize neighborhood for %s: %w", stationID, err)
		}
		if _, err := stmt.Exec(stationID, string(blob)); err != nil {
			return fmt.Errorf("failed to insert neighborhood for %s: %w", stationID, err)
		}
	}

	return tx.Commit()
}

// Neighborhoods returns every station's neighborhood member list.
func (db *DB) Neighborhoods() (map[string][]string, error) {
	rows, err := db.Query(`SELECT station_id, stations_within_radius FROM radius`)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighborhoods: %w", err)
	}
	defer rows.Close()

	radii := make(map[string][]string)
	for rows.Next() {
		var stationID, blob string
		if err := rows.Scan(&stationID, &blob); err != nil {
			return nil, err
		}
		var members []string
		if err := json.Unmarshal([]byte(blob), &members); err != nil {
			return nil, fmt.Errorf("bad neighborhood column for %s: %w", stationID, err)
		}
		radii[stationID] = members
	}
	return radii, rows.Err()
}
