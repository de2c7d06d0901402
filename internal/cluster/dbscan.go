package cluster

// Label values for DBSCAN: 0 is unvisited, -1 is noise, positive values are
// cluster ids assigned in discovery order.
const (
	labelUnvisited = 0
	labelNoise     = -1
)

// DBSCAN clusters n points under an arbitrary metric. It returns one label per
// point: a positive cluster id, or -1 for noise. Scanning order is the point
// index order, so identical inputs always label identically.
func DBSCAN(n int, dist func(i, j int) float64, eps float64, minPts int) []int {
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != labelUnvisited {
			continue
		}

		neighbors := regionQuery(n, dist, eps, i)
		if len(neighbors) < minPts {
			labels[i] = labelNoise
			continue
		}

		clusterID++
		labels[i] = clusterID
		expandCluster(labels, neighbors, n, dist, eps, minPts, clusterID)
	}

	return labels
}

// expandCluster grows a cluster from a core point's neighborhood, promoting
// reachable noise points and recursing through new core points via a work
// queue.
func expandCluster(labels, seeds []int, n int, dist func(i, j int) float64, eps float64, minPts, clusterID int) {
	for k := 0; k < len(seeds); k++ {
		j := seeds[k]
		if labels[j] == labelNoise {
			labels[j] = clusterID
			continue
		}
		if labels[j] != labelUnvisited {
			continue
		}
		labels[j] = clusterID

		neighbors := regionQuery(n, dist, eps, j)
		if len(neighbors) >= minPts {
			seeds = append(seeds, neighbors...)
		}
	}
}

// regionQuery returns every point within eps of point i, including i itself.
func regionQuery(n int, dist func(i, j int) float64, eps float64, i int) []int {
	var neighbors []int
	for j := 0; j < n; j++ {
		if dist(i, j) <= eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}
