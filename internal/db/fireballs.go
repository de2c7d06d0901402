package db

import (
	"fmt"
	"time"
)

// Fireball is one per-station transient event. ID is assigned by the store on
// first insert; candidate rows reuse the same id after sidecar confirmation.
type Fireball struct {
	ID        int64
	StationID string
	NightDate time.Time
	StartTime time.Time
	EndTime   time.Time
}

// InsertDetections persists a night's detection output in one transaction:
// every raw detection goes into fireballs (receiving a monotonic id) and the
// sidecar-confirmed survivors additionally into candidate_fireballs, carrying
// the same ids. Rows left behind by a dispatch that failed after persisting
// but before the night reached processed are replaced, so a retried night
// never duplicates its output. The returned slice is the survivors with ids
// filled in.
func (db *DB) InsertDetections(key NightKey, detections []Fireball, confirmed []bool) ([]Fireball, error) {
	if len(detections) != len(confirmed) {
		return nil, fmt.Errorf("detections/confirmed length mismatch: %d vs %d", len(detections), len(confirmed))
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin detection insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM candidate_fireballs WHERE station_id = ? AND night_date = ?`,
		key.StationID, nightDate(key.Date),
	); err != nil {
		return nil, fmt.Errorf("failed to clear stale candidates for %s: %w", key, err)
	}
	if _, err := tx.Exec(
		`DELETE FROM fireballs WHERE station_id = ? AND night_date = ?`,
		key.StationID, nightDate(key.Date),
	); err != nil {
		return nil, fmt.Errorf("failed to clear stale fireballs for %s: %w", key, err)
	}

	insertFireball, err := tx.Prepare(
		`INSERT INTO fireballs (station_id, night_date, start_time, end_time) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare fireball insert: %w", err)
	}
	defer insertFireball.Close()

	insertCandidate, err := tx.Prepare(
		`INSERT INTO candidate_fireballs (fireball_id, station_id, night_date, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare candidate insert: %w", err)
	}
	defer insertCandidate.Close()

	date := nightDate(key.Date)
	var survivors []Fireball
	for i, fb := range detections {
		res, err := insertFireball.Exec(key.StationID, date, isoTime(fb.StartTime), isoTime(fb.EndTime))
		if err != nil {
			return nil, fmt.Errorf("failed to insert fireball for %s: %w", key, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}

		if !confirmed[i] {
			continue
		}

		if _, err := insertCandidate.Exec(id, key.StationID, date, isoTime(fb.StartTime), isoTime(fb.EndTime)); err != nil {
			return nil, fmt.Errorf("failed to insert candidate for %s: %w", key, err)
		}

		fb.ID = id
		fb.StationID = key.StationID
		fb.NightDate = key.Date
		survivors = append(survivors, fb)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return survivors, nil
}

// CandidatesByNight returns the confirmed candidates previously persisted for
// a key, in id order.
func (db *DB) CandidatesByNight(key NightKey) ([]Fireball, error) {
	rows, err := db.Query(
		`SELECT fireball_id, station_id, start_time, end_time
		 FROM candidate_fireballs WHERE station_id = ? AND night_date = ? ORDER BY fireball_id`,
		key.StationID, nightDate(key.Date),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates for %s: %w", key, err)
	}
	defer rows.Close()

	var candidates []Fireball
	for rows.Next() {
		var fb Fireball
		var start, end string
		if err := rows.Scan(&fb.ID, &fb.StationID, &start, &end); err != nil {
			return nil, err
		}
		if fb.StartTime, err = parseISOTime(start); err != nil {
			return nil, err
		}
		if fb.EndTime, err = parseISOTime(end); err != nil {
			return nil, err
		}
		fb.NightDate = key.Date
		candidates = append(candidates, fb)
	}
	return candidates, rows.Err()
}
