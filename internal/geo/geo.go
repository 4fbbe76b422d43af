// Package geo holds great-circle helpers for station lookup and weighting.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// ErrInvalidCoordinates is returned when a latitude or longitude is not a finite number.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// DistanceKm returns the haversine distance between two points in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Validate checks that lat and lon are finite.
func Validate(lat, lon float64) error {
	if !finite(lat) || !finite(lon) {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}
	return nil
}

// ValidateRange checks that lat and lon are finite and within [-90, 90] and [-180, 180].
func ValidateRange(lat, lon float64) error {
	if err := Validate(lat, lon); err != nil {
		return err
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v out of range", ErrInvalidCoordinates, lat, lon)
	}
	return nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
