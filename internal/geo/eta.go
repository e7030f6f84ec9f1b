package geo

import (
	"math"
	"time"

	"FuelSOS/pkg/errors"
)

// DefaultAverageSpeedKmh is the assumed urban travel speed.
const DefaultAverageSpeedKmh = 30.0

const minuteEpsilon = 1e-9

// ETAEstimator turns a distance into an arrival time at a constant speed.
type ETAEstimator struct {
	SpeedKmh float64
	Now      func() time.Time
}

func NewETAEstimator(speedKmh float64) *ETAEstimator {
	if speedKmh <= 0 {
		speedKmh = DefaultAverageSpeedKmh
	}
	return &ETAEstimator{SpeedKmh: speedKmh, Now: func() time.Time { return time.Now().UTC() }}
}

// Minutes is ceil(distance / speed * 60); zero distance is zero minutes.
// Values within 1e-9 of a whole minute are not rounded up.
func (e *ETAEstimator) Minutes(distanceKm float64) (int, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return 0, errors.Wrapf(errors.ErrInvalidDistance, "distance %v", distanceKm)
	}
	return int(math.Ceil(distanceKm*60/e.SpeedKmh - minuteEpsilon)), nil
}

// Estimate returns now + Minutes(distanceKm).
func (e *ETAEstimator) Estimate(distanceKm float64) (time.Time, error) {
	m, err := e.Minutes(distanceKm)
	if err != nil {
		return time.Time{}, err
	}
	return e.Now().Add(time.Duration(m) * time.Minute), nil
}
