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
	"FuelSOS/pkg/util"

	"go.uber.org/zap"
)

// CommitMultiple opens up to maxOffers pending offers for an emergency request,
// nearest eligible candidates first. No attendant is booked until one accepts.
// An empty candidate list yields an empty, non-nil slice.
func (l *Ledger) CommitMultiple(ctx context.Context, requestID string, cands []geo.Candidate, maxOffers int) ([]models.Assignment, error) {
	if maxOffers <= 0 {
		maxOffers = DefaultMaxOffers
	}
	ranked := geo.Rank(cands, maxOffers)

	unlock := l.locks.Lock(lifecycle.RequestLock(requestID))
	defer unlock()

	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := pendingOnly(req); err != nil {
		l.conflict(err)
		return nil, err
	}
	open, err := l.store.ListAssignments(ctx, requestID, models.AssignmentPending)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		err := errors.Wrapf(errors.ErrAlreadyAssigned, "request %s already has %d open offers", requestID, len(open))
		l.conflict(err)
		return nil, err
	}

	out := make([]models.Assignment, 0, len(ranked))
	if len(ranked) == 0 {
		return out, nil
	}

	now := l.now()
	for i, c := range ranked {
		eta, err := l.eta.Estimate(c.DistanceKm)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Assignment{
			ID:               util.NewID("asg"),
			SOSRequestID:     requestID,
			AttendantID:      c.AttendantID,
			Rank:             i + 1,
			Status:           models.AssignmentPending,
			DistanceKm:       c.DistanceKm,
			EstimatedArrival: eta,
			ExpiresAt:        now.Add(l.window),
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	err = l.store.Transaction(ctx, func(tx *store.Store) error {
		return tx.CreateAssignments(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	logger.Info("emergency offers opened",
		zap.String("request_id", requestID),
		zap.Int("offers", len(out)),
		zap.Time("expires_at", now.Add(l.window)))
	return out, nil
}

// AcceptResult is the outcome of a winning accept.
type AcceptResult struct {
	Request    *models.SOSRequest
	Assignment *models.Assignment
	// Declined are the sibling offers closed by this accept.
	Declined []models.Assignment
}

// Accept resolves an emergency offer. The first accept to set the request's
// winner wins; later ones fail with ErrAlreadyClaimed and bind nothing.
func (l *Ledger) Accept(ctx context.Context, assignmentID, attendantID string) (*AcceptResult, error) {
	res, err := l.accept(ctx, assignmentID, attendantID)
	if err != nil {
		l.conflict(err)
		return nil, err
	}
	return res, nil
}

func (l *Ledger) accept(ctx context.Context, assignmentID, attendantID string) (*AcceptResult, error) {
	a, err := l.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.AttendantID != attendantID {
		return nil, errors.Wrapf(errors.ErrForbidden, "assignment %s belongs to another attendant", assignmentID)
	}

	unlock := l.locks.Lock(lifecycle.RequestLock(a.SOSRequestID))
	defer unlock()
	unlockAtt := l.locks.Lock(lifecycle.AttendantLock(attendantID))
	defer unlockAtt()

	now := l.now()
	if a, err = l.store.GetAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	switch a.Status {
	case models.AssignmentPending:
		if !now.Before(a.ExpiresAt) {
			if _, err := l.expire(ctx, a, now); err != nil {
				return nil, err
			}
			return nil, errors.Wrapf(errors.ErrAssignmentExpired, "assignment %s", assignmentID)
		}
	case models.AssignmentExpired:
		return nil, errors.Wrapf(errors.ErrAssignmentExpired, "assignment %s", assignmentID)
	default:
		return nil, errors.Wrapf(errors.ErrAlreadyClaimed, "assignment %s is %s", assignmentID, a.Status)
	}

	req, err := l.store.GetRequest(ctx, a.SOSRequestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, lifecycle.InvalidTransition(req.ID, req.Status, models.StatusAssigned)
	}
	offers, err := l.store.ListAssignments(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	ids := make(models.StringList, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ID)
	}
	eta, err := l.eta.Estimate(a.DistanceKm)
	if err != nil {
		return nil, err
	}

	var declined []models.Assignment
	err = l.store.Transaction(ctx, func(tx *store.Store) error {
		ok, err := tx.UpdateAssignmentIf(ctx, a.ID, store.Expect{"status": models.AssignmentPending}, store.Fields{
			"status":       models.AssignmentAccepted,
			"responded_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(errors.ErrAlreadyClaimed, "assignment %s", a.ID)
		}
		ok, err = tx.UpdateRequestIf(ctx, req.ID, store.Expect{
			"status":                models.StatusPending,
			"winning_assignment_id": nil,
		}, store.Fields{
			"status":                   models.StatusAssigned,
			"winning_assignment_id":    a.ID,
			"assigned_attendant_id":    attendantID,
			"emergency_assignment_ids": ids,
			"estimated_arrival":        eta,
			"assigned_at":              now,
			"updated_at":               now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(errors.ErrAlreadyClaimed, "request %s already has a winner", req.ID)
		}
		if err := bindTx(ctx, tx, attendantID, req.ID, now); err != nil {
			return err
		}
		declined, err = tx.CloseOpenAssignments(ctx, req.ID, a.ID, models.AssignmentDeclined, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	fresh, err := l.store.GetRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	l.announce.Announce(ctx, fresh)

	a.Status = models.AssignmentAccepted
	a.RespondedAt = &now
	a.UpdatedAt = now
	logger.Info("emergency offer accepted",
		zap.String("request_id", req.ID),
		zap.String("assignment_id", a.ID),
		zap.String("attendant_id", attendantID),
		zap.Int("declined", len(declined)))
	return &AcceptResult{Request: fresh, Assignment: a, Declined: declined}, nil
}

// Decline closes an attendant's own pending offer.
func (l *Ledger) Decline(ctx context.Context, assignmentID, attendantID string) (*models.Assignment, error) {
	a, err := l.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.AttendantID != attendantID {
		return nil, errors.Wrapf(errors.ErrForbidden, "assignment %s belongs to another attendant", assignmentID)
	}

	unlock := l.locks.Lock(lifecycle.RequestLock(a.SOSRequestID))
	defer unlock()

	now := l.now()
	ok, err := l.store.UpdateAssignmentIf(ctx, assignmentID, store.Expect{"status": models.AssignmentPending}, store.Fields{
		"status":       models.AssignmentDeclined,
		"responded_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := l.store.GetAssignment(ctx, assignmentID)
		if err != nil {
			return nil, err
		}
		if cur.Status == models.AssignmentExpired {
			return nil, errors.Wrapf(errors.ErrAssignmentExpired, "assignment %s", assignmentID)
		}
		return nil, errors.Wrapf(errors.ErrAlreadyClaimed, "assignment %s is %s", assignmentID, cur.Status)
	}
	a.Status = models.AssignmentDeclined
	a.RespondedAt = &now

	l.warnIfExhausted(ctx, a.SOSRequestID)
	return a, nil
}

// ExpireDue expires every pending offer whose window closed at or before now
// and returns the offers it moved. An offer accepted in the meantime is left alone.
func (l *Ledger) ExpireDue(ctx context.Context, now time.Time) ([]models.Assignment, error) {
	due, err := l.store.ListExpiredAssignments(ctx, now, 500)
	if err != nil {
		return nil, err
	}
	var out []models.Assignment
	touched := map[string]bool{}
	for _, a := range due {
		ok, err := l.expireLocked(ctx, a, now)
		if err != nil {
			return out, err
		}
		if ok {
			a.Status = models.AssignmentExpired
			out = append(out, a)
			touched[a.SOSRequestID] = true
		}
	}
	for id := range touched {
		l.warnIfExhausted(ctx, id)
	}
	l.metrics.RecordExpired(len(out))
	return out, nil
}

func (l *Ledger) expireLocked(ctx context.Context, a models.Assignment, now time.Time) (bool, error) {
	unlock := l.locks.Lock(lifecycle.RequestLock(a.SOSRequestID))
	defer unlock()
	return l.expire(ctx, &a, now)
}

func (l *Ledger) expire(ctx context.Context, a *models.Assignment, now time.Time) (bool, error) {
	return l.store.UpdateAssignmentIf(ctx, a.ID, store.Expect{"status": models.AssignmentPending}, store.Fields{
		"status":     models.AssignmentExpired,
		"updated_at": now,
	})
}

// warnIfExhausted raises an emergency log when a still-pending request has no
// open offer left.
func (l *Ledger) warnIfExhausted(ctx context.Context, requestID string) {
	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil || req.Status != models.StatusPending {
		return
	}
	open, err := l.store.ListAssignments(ctx, requestID, models.AssignmentPending)
	if err != nil || len(open) > 0 {
		return
	}
	logger.Emergency("no attendant accepted emergency request",
		zap.String("request_id", requestID),
		zap.String("requester_id", req.RequesterID))
}
