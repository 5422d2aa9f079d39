package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/d60-Lab/townhall/internal/model"
)

// 1 degree of latitude is 6371*pi/180 km on this sphere.
const kmPerDegLat = earthRadiusKm * math.Pi / 180

func TestDistanceKm(t *testing.T) {
	lagos := model.Location{Lat: 6.5244, Lng: 3.3792}
	assert.Zero(t, DistanceKm(lagos, lagos))

	north40 := model.Location{Lat: lagos.Lat + 40/kmPerDegLat, Lng: lagos.Lng}
	assert.InDelta(t, 40.0, DistanceKm(lagos, north40), 1e-6)

	// London -> Paris is roughly 344 km.
	london := model.Location{Lat: 51.5074, Lng: -0.1278}
	paris := model.Location{Lat: 48.8566, Lng: 2.3522}
	assert.InDelta(t, 343.5, DistanceKm(london, paris), 1.0)
	assert.InDelta(t, DistanceKm(london, paris), DistanceKm(paris, london), 1e-9)
}

func TestWithin(t *testing.T) {
	origin := model.Location{Lat: 0, Lng: 0}
	assert.True(t, Within(origin, origin, model.LocalRadiusKm))
	assert.True(t, Within(origin, model.Location{Lat: 31.9 / kmPerDegLat}, model.LocalRadiusKm))
	assert.False(t, Within(origin, model.Location{Lat: 40 / kmPerDegLat}, model.LocalRadiusKm))
}
