// Package ledger owns attendant availability and request binding. Every
// mutation runs under the per-entity locks and is committed with conditional
// updates, so a lost race surfaces as a typed conflict.
package ledger

import (
	"context"
	"time"

	"FuelSOS/internal/geo"
	"FuelSOS/internal/lifecycle"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"go.uber.org/zap"
)

// DefaultMaxOffers caps an emergency fan-out.
const DefaultMaxOffers = 3

type Ledger struct {
	store    *store.Store
	locks    *util.KeyedMutex
	eta      *geo.ETAEstimator
	announce *lifecycle.Announcer
	metrics  *metrics.Metrics
	window   time.Duration
	now      func() time.Time
}

// New builds a ledger. acceptWindow bounds how long an emergency offer stays open.
func New(st *store.Store, locks *util.KeyedMutex, eta *geo.ETAEstimator, announce *lifecycle.Announcer, m *metrics.Metrics, acceptWindow time.Duration) *Ledger {
	if acceptWindow <= 0 {
		acceptWindow = 2 * time.Minute
	}
	return &Ledger{
		store:    st,
		locks:    locks,
		eta:      eta,
		announce: announce,
		metrics:  m,
		window:   acceptWindow,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
	l.eta.Now = now
}

// CommitSingle binds cand to a pending request. Exactly one of any set of
// concurrent commits naming the same request or the same attendant succeeds.
func (l *Ledger) CommitSingle(ctx context.Context, requestID string, cand geo.Candidate) (*models.SOSRequest, error) {
	req, err := l.commit(ctx, requestID, cand, false)
	if err != nil {
		l.conflict(err)
		return nil, err
	}
	return req, nil
}

// BindManual assigns a named attendant, as an operator would. Open emergency
// offers on the request expire in the same commit.
func (l *Ledger) BindManual(ctx context.Context, requestID, attendantID string) (*models.SOSRequest, error) {
	att, err := l.store.GetAttendant(ctx, attendantID)
	if err != nil {
		return nil, err
	}
	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	cand := geo.Candidate{
		AttendantID: att.ID,
		Name:        att.Name,
		Location:    att.Location,
		DistanceKm:  geo.DistanceKm(req.Location, att.Location),
		IsAvailable: att.IsAvailable,
		IsVerified:  att.IsVerified,
		Rating:      att.Rating,
	}
	req, err = l.commit(ctx, requestID, cand, true)
	if err != nil {
		l.conflict(err)
		return nil, err
	}
	return req, nil
}

func (l *Ledger) commit(ctx context.Context, requestID string, cand geo.Candidate, expireOpen bool) (*models.SOSRequest, error) {
	if !cand.Eligible() {
		return nil, errors.Wrapf(errors.ErrNoCandidate, "attendant %s is not available and verified", cand.AttendantID)
	}
	eta, err := l.eta.Estimate(cand.DistanceKm)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(lifecycle.RequestLock(requestID))
	defer unlock()
	unlockAtt := l.locks.Lock(lifecycle.AttendantLock(cand.AttendantID))
	defer unlockAtt()

	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := pendingOnly(req); err != nil {
		return nil, err
	}

	now := l.now()
	err = l.store.Transaction(ctx, func(tx *store.Store) error {
		if err := bindTx(ctx, tx, cand.AttendantID, requestID, now); err != nil {
			return err
		}
		ok, err := tx.UpdateRequestIf(ctx, requestID, store.Expect{"status": models.StatusPending}, store.Fields{
			"status":                models.StatusAssigned,
			"assigned_attendant_id": cand.AttendantID,
			"estimated_arrival":     eta,
			"assigned_at":           now,
			"updated_at":            now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(errors.ErrAlreadyAssigned, "request %s", requestID)
		}
		if expireOpen {
			_, err = tx.CloseOpenAssignments(ctx, requestID, "", models.AssignmentExpired, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	fresh, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	l.announce.Announce(ctx, fresh)
	logger.Info("attendant assigned",
		zap.String("request_id", requestID),
		zap.String("attendant_id", cand.AttendantID),
		zap.Float64("distance_km", cand.DistanceKm),
		zap.Time("eta", eta))
	return fresh, nil
}

// pendingOnly admits binding only from pending. A request already assigned
// lost a race and may be retried elsewhere; any later status can never be
// assigned again.
func pendingOnly(req *models.SOSRequest) error {
	switch req.Status {
	case models.StatusPending:
		return nil
	case models.StatusAssigned:
		return errors.Wrapf(errors.ErrAlreadyAssigned, "request %s is %s", req.ID, req.Status)
	}
	return lifecycle.InvalidTransition(req.ID, req.Status, models.StatusAssigned)
}

// bindTx books an attendant for a request; it fails when the attendant is
// busy, unverified or unknown.
func bindTx(ctx context.Context, tx *store.Store, attendantID, requestID string, now time.Time) error {
	ok, err := tx.UpdateAttendantIf(ctx, attendantID, store.Expect{
		"is_available":        true,
		"is_verified":         true,
		"current_sos_request": nil,
	}, store.Fields{
		"is_available":        false,
		"current_sos_request": requestID,
		"updated_at":          now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrAttendantBusy, "attendant %s", attendantID)
	}
	return nil
}

// ReleaseTx frees the attendant bound to req inside tx.
func (l *Ledger) ReleaseTx(ctx context.Context, tx *store.Store, req *models.SOSRequest, at time.Time) error {
	if req.AssignedAttendantID == nil {
		return nil
	}
	attID := *req.AssignedAttendantID
	ok, err := tx.UpdateAttendantIf(ctx, attID, store.Expect{"current_sos_request": req.ID}, store.Fields{
		"is_available":        true,
		"current_sos_request": nil,
		"updated_at":          at,
	})
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("attendant was not bound to request",
			zap.String("attendant_id", attID),
			zap.String("request_id", req.ID))
	}
	return nil
}

// Release frees the attendant bound to a request without changing its status.
func (l *Ledger) Release(ctx context.Context, requestID string) error {
	unlock := l.locks.Lock(lifecycle.RequestLock(requestID))
	defer unlock()

	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.AssignedAttendantID == nil {
		return nil
	}
	unlockAtt := l.locks.Lock(lifecycle.AttendantLock(*req.AssignedAttendantID))
	defer unlockAtt()

	return l.store.Transaction(ctx, func(tx *store.Store) error {
		return l.ReleaseTx(ctx, tx, req, l.now())
	})
}

// ExpireOpenTx expires every pending offer of a request inside tx.
func (l *Ledger) ExpireOpenTx(ctx context.Context, tx *store.Store, requestID string, at time.Time) ([]models.Assignment, error) {
	return tx.CloseOpenAssignments(ctx, requestID, "", models.AssignmentExpired, at)
}

func (l *Ledger) conflict(err error) {
	switch {
	case errors.Is(err, errors.ErrAlreadyAssigned):
		l.metrics.RecordConflict("already_assigned")
	case errors.Is(err, errors.ErrAlreadyClaimed):
		l.metrics.RecordConflict("already_claimed")
	case errors.Is(err, errors.ErrAttendantBusy):
		l.metrics.RecordConflict("attendant_busy")
	case errors.Is(err, errors.ErrAssignmentExpired):
		l.metrics.RecordConflict("expired")
	}
}
