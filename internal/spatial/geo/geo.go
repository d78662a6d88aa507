// Package geo provides the distance primitives shared by the spatial
// statistics packages.
package geo

import "math"

// Haversine returns the great-circle central angle, in radians, between two
// lon/lat points given in degrees. Multiplying by the Earth's radius gives a
// surface distance; the spatial packages compare angles directly, so the
// unit-sphere value is kept.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	la1 := DegToRad(lat1)
	la2 := DegToRad(lat2)
	dLat := la2 - la1
	dLon := DegToRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Euclidean returns the planar distance between two lon/lat points in
// degrees. Appropriate only where the analysis treats coordinates as a flat
// plane (distance-band weights, IDW grids).
func Euclidean(lon1, lat1, lon2, lat2 float64) float64 {
	dx := lon2 - lon1
	dy := lat2 - lat1
	return math.Sqrt(dx*dx + dy*dy)
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}
