// Package cluster fuses per-station fireball candidates into confirmed
// multi-station events with two chained DBSCAN passes: first in time, then in
// space within each temporal group.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gmn-data/fireball-pipeline/internal/config"
	"github.com/gmn-data/fireball-pipeline/internal/db"
	"github.com/gmn-data/fireball-pipeline/internal/geo"
)

// Params are the fusion tuning knobs. TemporalEps is in seconds over the
// (start, end) plane; SpatialRadiusKm bounds the great-circle gap between
// co-clustered stations.
type Params struct {
	TemporalEps     float64
	SpatialRadiusKm float64
	MinPts          int
	MinObservers    int
}

// ParamsFromConfig resolves the fusion parameters from a Config.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		TemporalEps:     10,
		SpatialRadiusKm: cfg.GetRadiusKm(),
		MinPts:          2,
		MinObservers:    cfg.GetMinObservers(),
	}
}

// Cluster runs the two-stage fusion over a neighborhood's candidates and
// returns the confirmed clusters, ordered by start time. A cluster is
// confirmed when its members span at least MinObservers distinct stations.
// Candidates from stations missing from coords are an error.
func Cluster(candidates []db.Fireball, coords map[string]db.Station, p Params) ([]db.ConfirmedCluster, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	for _, c := range candidates {
		if _, ok := coords[c.StationID]; !ok {
			return nil, fmt.Errorf("candidate %d references unknown station %s", c.ID, c.StationID)
		}
	}

	var confirmed []db.ConfirmedCluster
	for _, group := range temporalGroups(candidates, p) {
		for _, members := range spatialGroups(group, coords, p) {
			if countStations(members) < p.MinObservers {
				continue
			}
			confirmed = append(confirmed, summarize(members))
		}
	}

	sort.Slice(confirmed, func(i, j int) bool {
		if !confirmed[i].Start.Equal(confirmed[j].Start) {
			return confirmed[i].Start.Before(confirmed[j].Start)
		}
		return strings.Join(confirmed[i].StationIDs, ",") < strings.Join(confirmed[j].StationIDs, ",")
	})
	return confirmed, nil
}

// temporalGroups clusters candidates by euclidean distance in the
// (start, end) plane, measured in seconds from the first of January of the
// earliest candidate's year. The fixed epoch keeps coordinates small without
// changing pairwise distances.
func temporalGroups(candidates []db.Fireball, p Params) [][]db.Fireball {
	epochYear := candidates[0].StartTime.Year()
	for _, c := range candidates[1:] {
		if y := c.StartTime.Year(); y < epochYear {
			epochYear = y
		}
	}
	epoch := time.Date(epochYear, time.January, 1, 0, 0, 0, 0, time.UTC)

	starts := make([]float64, len(candidates))
	ends := make([]float64, len(candidates))
	for i, c := range candidates {
		starts[i] = c.StartTime.Sub(epoch).Seconds()
		ends[i] = c.EndTime.Sub(epoch).Seconds()
	}

	labels := DBSCAN(len(candidates), func(i, j int) float64 {
		ds := starts[i] - starts[j]
		de := ends[i] - ends[j]
		return math.Sqrt(ds*ds + de*de)
	}, p.TemporalEps, p.MinPts)

	return collect(candidates, labels)
}

// spatialGroups clusters one temporal group by great-circle distance between
// the observing stations.
func spatialGroups(group []db.Fireball, coords map[string]db.Station, p Params) [][]db.Fireball {
	eps := p.SpatialRadiusKm / geo.EarthRadiusKm

	const degToRad = math.Pi / 180
	lats := make([]float64, len(group))
	lons := make([]float64, len(group))
	for i, c := range group {
		lats[i] = coords[c.StationID].Latitude * degToRad
		lons[i] = coords[c.StationID].Longitude * degToRad
	}

	labels := DBSCAN(len(group), func(i, j int) float64 {
		return geo.HaversineRad(lats[i], lons[i], lats[j], lons[j])
	}, eps, p.MinPts)

	return collect(group, labels)
}

// collect buckets candidates by positive cluster label, dropping noise. Bucket
// order follows label order, which DBSCAN assigns deterministically.
func collect(candidates []db.Fireball, labels []int) [][]db.Fireball {
	maxLabel := 0
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	groups := make([][]db.Fireball, 0, maxLabel)
	for l := 1; l <= maxLabel; l++ {
		var members []db.Fireball
		for i, c := range candidates {
			if labels[i] == l {
				members = append(members, c)
			}
		}
		groups = append(groups, members)
	}
	return groups
}

func countStations(members []db.Fireball) int {
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		seen[m.StationID] = struct{}{}
	}
	return len(seen)
}

// summarize folds a confirmed member set into its stored form: the sorted
// distinct station set and the envelope of the member spans.
func summarize(members []db.Fireball) db.ConfirmedCluster {
	c := db.ConfirmedCluster{Start: members[0].StartTime, End: members[0].EndTime}

	seen := make(map[string]struct{})
	for _, m := range members {
		if m.StartTime.Before(c.Start) {
			c.Start = m.StartTime
		}
		if m.EndTime.After(c.End) {
			c.End = m.EndTime
		}
		if _, ok := seen[m.StationID]; !ok {
			seen[m.StationID] = struct{}{}
			c.StationIDs = append(c.StationIDs, m.StationID)
		}
		c.FireballIDs = append(c.FireballIDs, m.ID)
	}

	sort.Strings(c.StationIDs)
	sort.Slice(c.FireballIDs, func(i, j int) bool { return c.FireballIDs[i] < c.FireballIDs[j] })
	return c
}
