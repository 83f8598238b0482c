package geo

import "math"

const earthRadiusKm = 6371.0

// Proximity bounds in kilometers. Below the floor a vehicle is effectively
// at the point ("arrived", handled elsewhere), above the ceiling it is not
// approaching yet.
const (
	NearFloorKm   = 0.1
	NearCeilingKm = 2.0
)

// DistanceKm returns the haversine great-circle distance in kilometers.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Near reports whether a vehicle at the given distance should raise an
// approaching alert: inside the ceiling but beyond the arrival floor.
func Near(distanceKm float64) bool {
	return distanceKm > NearFloorKm && distanceKm <= NearCeilingKm
}
