// Package geo evaluates geofences on a spherical earth.
package geo

import (
	"math"

	"github.com/playperu/questhunt/internal/hunt"
)

const earthRadiusMeters = 6371008.8

func validate(points ...hunt.LatLng) error {
	for _, p := range points {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
			return hunt.ErrInvalidCoordinates
		}
		if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
			return hunt.ErrInvalidCoordinates
		}
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the haversine great-circle distance in meters.
func Distance(a, b hunt.LatLng) (float64, error) {
	if err := validate(a, b); err != nil {
		return 0, err
	}
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h))), nil
}

// Inside reports whether pos lies within radius meters of target, boundary included.
func Inside(pos, target hunt.LatLng, radius float64) (bool, error) {
	if math.IsNaN(radius) {
		return false, hunt.ErrInvalidCoordinates
	}
	d, err := Distance(pos, target)
	if err != nil {
		return false, err
	}
	return d <= radius, nil
}

// Bearing returns the initial great-circle bearing from a to b in degrees
// clockwise from north, in [0, 360).
func Bearing(a, b hunt.LatLng) (float64, error) {
	if err := validate(a, b); err != nil {
		return 0, err
	}
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLng := radians(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360), nil
}
