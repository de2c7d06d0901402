package sched

import (
	"math"
	"sort"
	"strings"

	"github.com/gmn-data/fireball-pipeline/internal/db"
)

// ReadyUnits scans analysis state and returns the work units ready for
// dispatch this tick. A station's neighborhood is ready when the number of
// its members with a pending night reaches floor(|N| * minCameras); the unit
// is then every pending key belonging to those members. Pending covers both
// ingested nights and nights left at processing by a failed dispatch, which
// keeps a night that errored mid-detection on the retry path. Distinct
// stations often share a neighborhood, so identical units are emitted once.
// Units are ordered by their first key for a stable dispatch order.
func ReadyUnits(store *db.DB, minCameras float64) ([][]db.NightKey, error) {
	neighborhoods, err := store.Neighborhoods()
	if err != nil {
		return nil, err
	}

	pending, err := store.PendingNights()
	if err != nil {
		return nil, err
	}
	byStation := make(map[string][]db.NightKey)
	for _, key := range pending {
		byStation[key.StationID] = append(byStation[key.StationID], key)
	}

	centers := make([]string, 0, len(neighborhoods))
	for center := range neighborhoods {
		centers = append(centers, center)
	}
	sort.Strings(centers)

	var units [][]db.NightKey
	seen := make(map[string]bool)
	for _, center := range centers {
		members := neighborhoods[center]

		ready := 0
		var unit []db.NightKey
		for _, member := range members {
			keys := byStation[member]
			if len(keys) == 0 {
				continue
			}
			ready++
			unit = append(unit, keys...)
		}

		threshold := int(math.Floor(float64(len(members)) * minCameras))
		if len(unit) == 0 || ready < threshold {
			continue
		}

		sort.Slice(unit, func(i, j int) bool {
			if unit[i].StationID != unit[j].StationID {
				return unit[i].StationID < unit[j].StationID
			}
			return unit[i].Date.Before(unit[j].Date)
		})

		sig := unitSignature(unit)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		units = append(units, unit)
	}

	return units, nil
}

func unitSignature(unit []db.NightKey) string {
	parts := make([]string, len(unit))
	for i, key := range unit {
		parts[i] = key.String()
	}
	return strings.Join(parts, "|")
}
