package dispatch

import (
	"context"
	"strings"
	"time"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/geo"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"

	"go.uber.org/zap"
)

// Tracker keeps the attendant directory current. index is optional.
type Tracker struct {
	store    *store.Store
	index    *geo.IndexDirectory
	notifier *fanout.Notifier
}

func NewTracker(st *store.Store, index *geo.IndexDirectory, n *fanout.Notifier) *Tracker {
	return &Tracker{store: st, index: index, notifier: n}
}

// Upsert registers or refreshes an attendant. New attendants start
// available. Only a trusted directory sync may set verification and rating;
// availability of an existing row is never touched.
func (t *Tracker) Upsert(ctx context.Context, a *models.Attendant, trusted bool) (*models.Attendant, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return nil, errors.Validationf("attendant id is required")
	}
	if err := geo.ValidateLocation(a.Location); err != nil {
		return nil, err
	}
	a.IsAvailable = true
	a.CurrentSOSRequest = nil

	var err error
	if trusted {
		err = t.store.UpsertAttendant(ctx, a)
	} else {
		a.IsVerified = false
		a.Rating = 0
		a.ReviewCount = 0
		err = t.store.UpsertAttendantProfile(ctx, a)
	}
	if err != nil {
		return nil, err
	}
	t.reindex(a.ID, a.Location)
	return t.store.GetAttendant(ctx, a.ID)
}

// Move records a new position and relays it to the attendant's active request.
func (t *Tracker) Move(ctx context.Context, attendantID string, loc models.Location) (*models.Attendant, error) {
	if err := geo.ValidateLocation(loc); err != nil {
		return nil, err
	}
	ok, err := t.store.UpdateAttendantLocation(ctx, attendantID, loc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "attendant %s", attendantID)
	}
	t.reindex(attendantID, loc)

	a, err := t.store.GetAttendant(ctx, attendantID)
	if err != nil {
		return nil, err
	}
	if a.CurrentSOSRequest != nil {
		t.notifier.Broadcast(constant.SOSGroup(*a.CurrentSOSRequest), fanout.EventLocationUpdated, map[string]interface{}{
			"attendantId":  attendantID,
			"sosRequestId": *a.CurrentSOSRequest,
			"location":     loc,
			"timestamp":    time.Now().UTC(),
		})
	}
	return a, nil
}

func (t *Tracker) reindex(id string, loc models.Location) {
	if t.index == nil {
		return
	}
	if err := t.index.Put(id, loc); err != nil {
		logger.Warn("attendant index update failed", zap.String("attendant_id", id), zap.Error(err))
	}
}
