// Package geo holds the great-circle distance used by the local channel.
package geo

import (
	"math"

	"github.com/d60-Lab/townhall/internal/model"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance between a and b in kilometres.
func DistanceKm(a, b model.Location) float64 {
	dLat := deg2rad(b.Lat - a.Lat)
	dLng := deg2rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(a.Lat))*math.Cos(deg2rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether b lies within radiusKm of a.
func Within(a, b model.Location, radiusKm float64) bool {
	return DistanceKm(a, b) <= radiusKm
}

func deg2rad(deg float64) float64 { return deg * math.Pi / 180 }
