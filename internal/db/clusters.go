package db

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfirmedCluster is a multi-station agreement on one transient event.
// StationIDs are the distinct participating stations, sorted; Start and End
// span the member candidates.
type ConfirmedCluster struct {
	ID          int64
	StationIDs  []string
	Start       time.Time
	End         time.Time
	FireballIDs []int64
}

// InsertCluster persists a confirmed cluster and its membership links. A
// cluster with the same station set and identical span already in the store
// is not duplicated (repeat dispatches of a growing neighborhood re-derive
// the same clusters); the stored id is returned either way, with inserted
// reporting whether a new row was written.
func (db *DB) InsertCluster(cluster ConfirmedCluster) (id int64, inserted bool, err error) {
	stationsJSON, err := json.Marshal(cluster.StationIDs)
	if err != nil {
		return 0, false, fmt.Errorf("failed to serialize cluster station ids: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin cluster insert: %w", err)
	}
	defer tx.Rollback()

	start := isoTime(cluster.Start)
	end := isoTime(cluster.End)

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO clusters (station_ids, start_time, end_time) VALUES (?, ?, ?)`,
		string(stationsJSON), start, end,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert cluster: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	inserted = n > 0

	if inserted {
		if id, err = res.LastInsertId(); err != nil {
			return 0, false, err
		}
		for _, fireballID := range cluster.FireballIDs {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO cluster_fireballs (cluster_id, fireball_id) VALUES (?, ?)`,
				id, fireballID,
			); err != nil {
				return 0, false, fmt.Errorf("failed to link fireball %d to cluster: %w", fireballID, err)
			}
		}
	} else {
		err = tx.QueryRow(
			`SELECT cluster_id FROM clusters WHERE station_ids = ? AND start_time = ? AND end_time = ?`,
			string(stationsJSON), start, end,
		).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to look up existing cluster: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return id, inserted, nil
}

// Clusters returns all confirmed clusters in id order.
func (db *DB) Clusters() ([]ConfirmedCluster, error) {
	rows, err := db.Query(`SELECT cluster_id, station_ids, start_time, end_time FROM clusters ORDER BY cluster_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []ConfirmedCluster
	for rows.Next() {
		var c ConfirmedCluster
		var stationsJSON, start, end string
		if err := rows.Scan(&c.ID, &stationsJSON, &start, &end); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stationsJSON), &c.StationIDs); err != nil {
			return nil, fmt.Errorf("bad station_ids column on cluster %d: %w", c.ID, err)
		}
		if c.Start, err = parseISOTime(start); err != nil {
			return nil, err
		}
		if c.End, err = parseISOTime(end); err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// AnalysisRun is one dispatched unit of scheduler work, kept for audit.
// Outcome is "ok" for a clean run, otherwise the error that cut it short.
type AnalysisRun struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	StationCount   int
	CandidateCount int
	ClusterCount   int
	Outcome        string
}

// RecordAnalysisRun stores the audit row for a dispatched work unit. Failed
// units are recorded too, with their outcome, so the audit trail has no gaps.
func (db *DB) RecordAnalysisRun(run AnalysisRun) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.Exec(
		`INSERT INTO analysis_runs (run_id, started_at, finished_at, station_count, candidate_count, cluster_count, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, isoTime(run.StartedAt), isoTime(run.FinishedAt),
		run.StationCount, run.CandidateCount, run.ClusterCount, run.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis run %s: %w", run.RunID, err)
	}
	return nil
}

// AnalysisRuns returns the audit rows in dispatch order.
func (db *DB) AnalysisRuns() ([]AnalysisRun, error) {
	rows, err := db.Query(
		`SELECT run_id, started_at, finished_at, station_count, candidate_count, cluster_count, outcome
		 FROM analysis_runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis runs: %w", err)
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var started, finished string
		if err := rows.Scan(&run.RunID, &started, &finished,
			&run.StationCount, &run.CandidateCount, &run.ClusterCount, &run.Outcome); err != nil {
			return nil, err
		}
		if run.StartedAt, err = parseISOTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseISOTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
