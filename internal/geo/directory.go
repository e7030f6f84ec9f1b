package geo

import (
	"context"

	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
)

// Directory yields attendants that may lie within radiusKm of center. It may
// over-return; callers filter by exact distance.
type Directory interface {
	Nearby(ctx context.Context, center models.Location, radiusKm float64) ([]models.Attendant, error)
}

// StoreDirectory answers from the attendants table with a bounding-box query.
type StoreDirectory struct {
	store *store.Store
}

func NewStoreDirectory(st *store.Store) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) Nearby(ctx context.Context, center models.Location, radiusKm float64) ([]models.Attendant, error) {
	minLat, maxLat, minLon, maxLon := BoundingBox(center, radiusKm)
	return d.store.ListAttendantsInBox(ctx, store.Box{
		MinLat: minLat, MaxLat: maxLat,
		MinLon: minLon, MaxLon: maxLon,
	})
}
