package geo

import (
	"context"
	"math"
	"sort"

	"FuelSOS/internal/models"
	"FuelSOS/pkg/errors"
)

// Candidate is one attendant with its distance from the pickup point.
type Candidate struct {
	AttendantID string          `json:"attendantId"`
	Name        string          `json:"name"`
	Location    models.Location `json:"location"`
	DistanceKm  float64         `json:"distance"`
	IsAvailable bool            `json:"isAvailable"`
	IsVerified  bool            `json:"isVerified"`
	Rating      float64         `json:"rating"`
}

// Eligible reports whether the candidate may receive an assignment.
func (c Candidate) Eligible() bool { return c.IsAvailable && c.IsVerified }

// Finder turns directory hits into candidates within an exact radius.
type Finder struct {
	dir Directory
}

func NewFinder(dir Directory) *Finder {
	return &Finder{dir: dir}
}

// FindNearby returns every attendant within radiusKm of loc (inclusive),
// eligible or not, ordered by distance then id.
func (f *Finder) FindNearby(ctx context.Context, loc models.Location, radiusKm float64) ([]Candidate, error) {
	if err := ValidateLocation(loc); err != nil {
		return nil, err
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm <= 0 {
		return nil, errors.Validationf("radius %v must be positive", radiusKm)
	}

	hits, err := f.dir.Nearby(ctx, loc, radiusKm)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDirectoryUnavailable, "nearby query: %v", err)
	}

	out := make([]Candidate, 0, len(hits))
	for _, a := range hits {
		d := DistanceKm(loc, a.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{
			AttendantID: a.ID,
			Name:        a.Name,
			Location:    a.Location,
			DistanceKm:  d,
			IsAvailable: a.IsAvailable,
			IsVerified:  a.IsVerified,
			Rating:      a.Rating,
		})
	}
	SortByDistance(out)
	return out, nil
}

// SortByDistance orders ascending by distance; ties break on attendant id.
func SortByDistance(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].DistanceKm != cs[j].DistanceKm {
			return cs[i].DistanceKm < cs[j].DistanceKm
		}
		return cs[i].AttendantID < cs[j].AttendantID
	})
}

// Rank keeps eligible candidates, nearest first, at most limit when limit > 0.
func Rank(cs []Candidate, limit int) []Candidate {
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	SortByDistance(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
