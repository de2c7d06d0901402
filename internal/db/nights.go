package db

import (
	"fmt"
	"strings"
	"time"
)

// RawNight is one station's decoded night of data: the ordered intensity time
// series plus the sidecar motion-event instants.
type RawNight struct {
	Datetimes    []time.Time
	Intensities  []uint32
	FRTimestamps []time.Time
}

// NightKey identifies one (station, night-date) unit of work.
type NightKey struct {
	StationID string
	Date      time.Time
}

func (k NightKey) String() string {
	return fmt.Sprintf("%s/%s", k.StationID, nightDate(k.Date))
}

// IngestNight persists a freshly decoded night and marks it ingested, all as
// one transaction. The analysis row's primary key makes duplicate ingestion
// of the same (station, date) fail without touching the stored night.
func (db *DB) IngestNight(key NightKey, night *RawNight) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer tx.Rollback()

	date := nightDate(key.Date)

	if _, err := tx.Exec(
		`INSERT INTO analysis (station_id, date, status) VALUES (?, ?, ?)`,
		key.StationID, date, string(StatusIngested),
	); err != nil {
		return fmt.Errorf("failed to create analysis state for %s: %w", key, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO fieldsums (station_id, date, datetimes, intensities) VALUES (?, ?, ?, ?)`,
		key.StationID, date, encodeTimes(night.Datetimes), encodeIntensities(night.Intensities),
	); err != nil {
		return fmt.Errorf("failed to insert fieldsums for %s: %w", key, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO fr_files (station_id, date, fr_timestamps) VALUES (?, ?, ?)`,
		key.StationID, date, encodeTimes(night.FRTimestamps),
	); err != nil {
		return fmt.Errorf("failed to insert sidecar timestamps for %s: %w", key, err)
	}

	return tx.Commit()
}

// Night loads the persisted raw night for a key.
func (db *DB) Night(key NightKey) (*RawNight, error) {
	date := nightDate(key.Date)

	var dtBlob, intBlob []byte
	err := db.QueryRow(
		`SELECT datetimes, intensities FROM fieldsums WHERE station_id = ? AND date = ?`,
		key.StationID, date,
	).Scan(&dtBlob, &intBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to load fieldsums for %s: %w", key, scanErr(err))
	}

	var frBlob []byte
	err = db.QueryRow(
		`SELECT fr_timestamps FROM fr_files WHERE station_id = ? AND date = ?`,
		key.StationID, date,
	).Scan(&frBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to load sidecar timestamps for %s: %w", key, scanErr(err))
	}

	night := &RawNight{}
	if night.Datetimes, err = decodeTimes(dtBlob); err != nil {
		return nil, fmt.Errorf("fieldsums for %s: %w", key, err)
	}
	if night.Intensities, err = decodeIntensities(intBlob); err != nil {
		return nil, fmt.Errorf("fieldsums for %s: %w", key, err)
	}
	if night.FRTimestamps, err = decodeTimes(frBlob); err != nil {
		return nil, fmt.Errorf("sidecar timestamps for %s: %w", key, err)
	}

	return night, nil
}

// AnalysisStatus returns the state of a key, or ErrNoState.
func (db *DB) AnalysisStatus(key NightKey) (Status, error) {
	var status string
	err := db.QueryRow(
		`SELECT status FROM analysis WHERE station_id = ? AND date = ?`,
		key.StationID, nightDate(key.Date),
	).Scan(&status)
	if err != nil {
		return "", scanErr(err)
	}
	return Status(status), nil
}

// Transition advances a key's analysis state. The update is guarded on the
// expected current state so the order ingested -> processing -> processed can
// never run backwards; a guard miss reports ErrBadTransition (or ErrNoState
// when the row does not exist).
func (db *DB) Transition(key NightKey, from, to Status) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.Exec(
		`UPDATE analysis SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE station_id = ? AND date = ? AND status = ?`,
		string(to), key.StationID, nightDate(key.Date), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition %s to %s: %w", key, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := db.QueryRow(
			`SELECT status FROM analysis WHERE station_id = ? AND date = ?`,
			key.StationID, nightDate(key.Date),
		).Scan(&current)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNoState, key)
		}
		return fmt.Errorf("%w: %s is %s, wanted %s -> %s", ErrBadTransition, key, current, from, to)
	}

	return nil
}

// IngestedNights returns every key currently in the ingested state.
func (db *DB) IngestedNights() ([]NightKey, error) {
	return db.nightsInStatus(StatusIngested)
}

// PendingNights returns every key still awaiting a finished analysis pass:
// ingested nights plus nights stranded at processing by a dispatch that
// failed partway. Both must stay visible to the scheduler or a single failure
// would bench the night forever.
func (db *DB) PendingNights() ([]NightKey, error) {
	return db.nightsInStatus(StatusIngested, StatusProcessing)
}

func (db *DB) nightsInStatus(statuses ...Status) ([]NightKey, error) {
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	rows, err := db.Query(
		`SELECT station_id, date FROM analysis WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY station_id, date`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nights by status: %w", err)
	}
	defer rows.Close()

	var keys []NightKey
	for rows.Next() {
		var stationID, date string
		if err := rows.Scan(&stationID, &date); err != nil {
			return nil, err
		}
		d, err := ParseNightDate(date)
		if err != nil {
			return nil, err
		}
		keys = append(keys, NightKey{StationID: stationID, Date: d})
	}
	return keys, rows.Err()
}
