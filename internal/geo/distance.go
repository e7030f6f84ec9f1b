package geo

import (
	"math"

	"FuelSOS/internal/models"
	"FuelSOS/pkg/errors"
)

// EarthRadiusKm is the mean radius used for every great-circle distance.
const EarthRadiusKm = 6371.0

// DistanceKm is the haversine distance between a and b.
func DistanceKm(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ValidateLocation rejects coordinates outside [-90,90] x [-180,180] and NaN.
func ValidateLocation(loc models.Location) error {
	if math.IsNaN(loc.Latitude) || loc.Latitude < -90 || loc.Latitude > 90 {
		return errors.Validationf("latitude %v out of range", loc.Latitude)
	}
	if math.IsNaN(loc.Longitude) || loc.Longitude < -180 || loc.Longitude > 180 {
		return errors.Validationf("longitude %v out of range", loc.Longitude)
	}
	return nil
}

// BoundingBox returns a rectangle that contains every point within radiusKm
// of center. Near the poles it widens to all longitudes.
func BoundingBox(center models.Location, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	minLat = math.Max(-90, center.Latitude-dLat)
	maxLat = math.Min(90, center.Latitude+dLat)

	if minLat <= -90 || maxLat >= 90 {
		return minLat, maxLat, -180, 180
	}
	maxAbsLat := math.Max(math.Abs(minLat), math.Abs(maxLat))
	dLon := dLat / math.Cos(maxAbsLat*math.Pi/180)
	if dLon >= 180 {
		return minLat, maxLat, -180, 180
	}

	minLon = center.Longitude - dLon
	maxLon = center.Longitude + dLon
	if minLon < -180 {
		minLon += 360
	}
	if maxLon > 180 {
		maxLon -= 360
	}
	return minLat, maxLat, minLon, maxLon
}
