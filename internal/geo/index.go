package geo

import (
	"context"
	"strconv"
	"sync"

	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/errors"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
)

const locationField = "location"

// IndexDirectory keeps attendant positions in an in-memory bleve geo index and
// reads availability from the store, which stays the source of truth.
type IndexDirectory struct {
	mu       sync.RWMutex
	index    bleve.Index
	store    *store.Store
	pageSize int
}

func NewIndexDirectory(st *store.Store) (*IndexDirectory, error) {
	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt(locationField, mapping.NewGeoPointFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc

	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, err
	}
	return &IndexDirectory{index: idx, store: st, pageSize: 1000}, nil
}

// Rebuild loads every attendant from the store.
func (d *IndexDirectory) Rebuild(ctx context.Context) error {
	all, err := d.store.ListAttendants(ctx)
	if err != nil {
		return err
	}
	batch := d.index.NewBatch()
	for _, a := range all {
		if err := batch.Index(a.ID, pointDoc(a.Location)); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Batch(batch)
}

// Put records an attendant's latest position.
func (d *IndexDirectory) Put(id string, loc models.Location) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Index(id, pointDoc(loc))
}

func (d *IndexDirectory) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index.Delete(id)
}

func pointDoc(loc models.Location) map[string]interface{} {
	return map[string]interface{}{
		locationField: map[string]interface{}{"lat": loc.Latitude, "lon": loc.Longitude},
	}
}

// Nearby pages through every hit inside the padded radius, nearest first.
func (d *IndexDirectory) Nearby(ctx context.Context, center models.Location, radiusKm float64) ([]models.Attendant, error) {
	// pad the query; the index uses approximate trigonometry
	padded := radiusKm*1.01 + 0.05
	q := bleve.NewGeoDistanceQuery(center.Longitude, center.Latitude, strconv.FormatFloat(padded, 'f', -1, 64)+"km")
	q.SetField(locationField)
	byDistance, err := search.NewSortGeoDistance(locationField, "km", center.Longitude, center.Latitude, false)
	if err != nil {
		return nil, errors.Wrap(err, "geo index sort")
	}

	var ids []string
	for {
		req := bleve.NewSearchRequestOptions(q, d.pageSize, len(ids), false)
		req.SortByCustom(search.SortOrder{byDistance})

		d.mu.RLock()
		res, err := d.index.SearchInContext(ctx, req)
		d.mu.RUnlock()
		if err != nil {
			return nil, errors.Wrap(err, "geo index search")
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) == 0 || uint64(len(ids)) >= res.Total {
			break
		}
	}
	return d.store.GetAttendants(ctx, ids)
}

func (d *IndexDirectory) Close() error {
	return d.index.Close()
}
