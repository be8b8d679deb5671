/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package geo implements the distance math and the in-memory radius index
// used by presence and live sessions.
package geo

import (
	"fmt"
	"math"

	"github.com/gravitational/trace"

	"github.com/imrandevop/VISIBLE-sub000/lib/defaults"
)

// Haversine returns the great circle distance in kilometers between two
// points given in degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lng2 - lng1) * rad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * defaults.EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// HaversineMeters is Haversine scaled to meters.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	return Haversine(lat1, lng1, lat2, lng2) * 1000
}

// RoundKm rounds a kilometer figure to two decimal places for API
// responses.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// FormatDistance renders a human readable distance, "{n} meters away"
// under a kilometer and "{x.x} km away" from there on.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d meters away", int(math.Round(meters)))
	}
	return fmt.Sprintf("%.1f km away", meters/1000)
}

// ValidateCoords rejects non-finite or out of range coordinates.
func ValidateCoords(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return trace.BadParameter("latitude %v is out of range", lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return trace.BadParameter("longitude %v is out of range", lng)
	}
	return nil
}

// ValidateRadius rejects a search radius outside the allowed band. Both
// ends are inclusive.
func ValidateRadius(radiusKm float64) error {
	if math.IsNaN(radiusKm) || radiusKm < defaults.MinSearchRadiusKm || radiusKm > defaults.MaxSearchRadiusKm {
		return trace.BadParameter("radius %v km is outside the allowed range [%v, %v]",
			radiusKm, defaults.MinSearchRadiusKm, defaults.MaxSearchRadiusKm)
	}
	return nil
}
