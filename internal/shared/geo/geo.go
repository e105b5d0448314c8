package geo

import (
	"math"
	"math/rand/v2"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the point lies inside latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Equal reports whether both coordinates are identical.
func (p Point) Equal(o Point) bool {
	return p.Lat == o.Lat && p.Lng == o.Lng
}

// HaversineKm returns the great-circle distance between two coordinates in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceKm is HaversineKm for two points.
func DistanceKm(a, b Point) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Jitter returns a point uniformly distributed in a square of side span
// degrees centered on base.
func Jitter(base Point, span float64, rnd *rand.Rand) Point {
	return Point{
		Lat: base.Lat + (rnd.Float64()*span - span/2),
		Lng: base.Lng + (rnd.Float64()*span - span/2),
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
