// Package geo provides great-circle math for station neighborhood computation.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all great-circle math.
// The spatial clustering epsilon divides by the same constant so that a
// 1000 km separation sits exactly on the cluster boundary.
const EarthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// HaversineRad returns the great-circle distance between two points given in
// radians, on a unit-radius sphere. Multiply by a sphere radius to scale.
func HaversineRad(lat1, lon1, lat2, lon2 float64) float64 {
	a := math.Sin((lat2-lat1)/2)*math.Sin((lat2-lat1)/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin((lon2-lon1)/2)*math.Sin((lon2-lon1)/2)
	return 2 * math.Asin(math.Sqrt(a))
}

// DestinationPoint returns the point reached by travelling distanceKm from
// (lat, lon) along the given compass bearing. Inputs and outputs are decimal
// degrees.
func DestinationPoint(lat, lon, distanceKm, bearingDeg float64) (float64, float64) {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	bearingRad := bearingDeg * math.Pi / 180
	ratio := distanceKm / EarthRadiusKm

	newLat := math.Asin(math.Sin(latRad)*math.Cos(ratio) +
		math.Cos(latRad)*math.Sin(ratio)*math.Cos(bearingRad))
	newLon := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(ratio)*math.Cos(latRad),
		math.Cos(ratio)-math.Sin(latRad)*math.Sin(newLat))

	return newLat * 180 / math.Pi, newLon * 180 / math.Pi
}

// BoundingBox is a latitude/longitude rectangle derived from haversine
// destination points at the four cardinal bearings. Its corners exceed the
// generating radius; neighborhood membership deliberately uses the box rather
// than true great-circle containment.
type BoundingBox struct {
	North, South float64
	East, West   float64
}

// NewBoundingBox builds the rectangle reaching radiusKm from (lat, lon) at
// bearings 0, 180, 90 and 270 degrees.
func NewBoundingBox(lat, lon, radiusKm float64) BoundingBox {
	north, _ := DestinationPoint(lat, lon, radiusKm, 0)
	south, _ := DestinationPoint(lat, lon, radiusKm, 180)
	_, east := DestinationPoint(lat, lon, radiusKm, 90)
	_, west := DestinationPoint(lat, lon, radiusKm, 270)
	return BoundingBox{North: north, South: south, East: east, West: west}
}

// Contains reports whether (lat, lon) lies inside the rectangle, edges
// inclusive.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return b.South <= lat && lat <= b.North && b.West <= lon && lon <= b.East
}
