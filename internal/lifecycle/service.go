package lifecycle

import (
	"context"
	"strings"
	"time"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"go.uber.org/zap"
)

// Binder is the part of the assignment ledger the state machine drives.
// The Tx methods run inside the caller's transaction and take no locks.
type Binder interface {
	BindManual(ctx context.Context, requestID, attendantID string) (*models.SOSRequest, error)
	ReleaseTx(ctx context.Context, tx *store.Store, req *models.SOSRequest, at time.Time) error
	ExpireOpenTx(ctx context.Context, tx *store.Store, requestID string, at time.Time) ([]models.Assignment, error)
}

// Notifier delivers per-recipient pushes.
type Notifier interface {
	Notify(ctx context.Context, msg fanout.Message) bool
}

type Service struct {
	store    *store.Store
	locks    *util.KeyedMutex
	binder   Binder
	announce *Announcer
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(st *store.Store, locks *util.KeyedMutex, binder Binder, announce *Announcer, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		store:    st,
		locks:    locks,
		binder:   binder,
		announce: announce,
		notifier: notifier,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the committed state, from the snapshot cache when present.
func (s *Service) Get(ctx context.Context, id string) (*models.SOSRequest, error) {
	if req, ok := s.announce.Snapshots.Load(ctx, id); ok {
		return req, nil
	}
	unlock := s.locks.Lock(RequestLock(id))
	defer unlock()

	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce.Snapshots.Store(ctx, req)
	return req, nil
}

// CanWatch reports whether userID may follow a request's live updates: its
// requester, the bound attendant, or an attendant holding an open offer.
func (s *Service) CanWatch(ctx context.Context, requestID, userID string) (*models.SOSRequest, bool, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if userID == "" {
		return req, false, nil
	}
	if req.RequesterID == userID || (req.AssignedAttendantID != nil && *req.AssignedAttendantID == userID) {
		return req, true, nil
	}
	offers, err := s.store.ListAssignments(ctx, requestID, models.AssignmentPending)
	if err != nil {
		return req, false, err
	}
	for _, o := range offers {
		if o.AttendantID == userID {
			return req, true, nil
		}
	}
	return req, false, nil
}

// History lists a requester's requests, newest first.
func (s *Service) History(ctx context.Context, requesterID string, page store.Page) ([]models.SOSRequest, int64, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, 0, errors.Validationf("userId is required")
	}
	return s.store.ListRequestsByRequester(ctx, requesterID, page)
}

// Transition moves a request one step along its lifecycle. Assigning needs
// attendantID and goes through the ledger; completing releases the attendant.
func (s *Service) Transition(ctx context.Context, id string, to models.RequestStatus, attendantID string) (*models.SOSRequest, error) {
	if !to.Valid() {
		return nil, errors.Validationf("unknown status %q", to)
	}
	switch to {
	case models.StatusAssigned:
		if strings.TrimSpace(attendantID) == "" {
			return nil, errors.Validationf("attendantId is required to assign")
		}
		req, err := s.binder.BindManual(ctx, id, attendantID)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordTransition(string(to))
		return req, nil
	case models.StatusCancelled:
		return s.cancel(ctx, id, "", "", false)
	}

	req, err := s.advance(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(to))
	logger.Info("request transitioned",
		zap.String("request_id", id),
		zap.String("status", string(to)),
		zap.Int64("version", req.Version))
	return req, nil
}

func (s *Service) advance(ctx context.Context, id string, to models.RequestStatus) (*models.SOSRequest, error) {
	unlock := s.locks.Lock(RequestLock(id))
	defer unlock()

	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(req.Status, to) {
		return nil, InvalidTransition(id, req.Status, to)
	}
	release := to == models.StatusCompleted && req.AssignedAttendantID != nil
	if release {
		unlockAtt := s.locks.Lock(AttendantLock(*req.AssignedAttendantID))
		defer unlockAtt()
	}

	now := s.now()
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		fields := store.Fields{
			"status":             to,
			TimestampColumn(to): now,
			"updated_at":         now,
		}
		if to.Terminal() {
			unbind(fields, req)
		}
		ok, err := tx.UpdateRequestIf(ctx, id, store.Expect{"status": req.Status}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf(errors.KindConflict, "request %s changed concurrently", id)
		}
		if release {
			return s.binder.ReleaseTx(ctx, tx, req, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	s.announce.Announce(ctx, fresh)
	return fresh, nil
}

// Cancel lets the requester withdraw a request. A bound attendant is freed
// and open emergency offers expire in the same commit.
func (s *Service) Cancel(ctx context.Context, id, userID, reason string) (*models.SOSRequest, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Validationf("userId is required")
	}
	return s.cancel(ctx, id, userID, reason, true)
}

func (s *Service) cancel(ctx context.Context, id, userID, reason string, checkOwner bool) (*models.SOSRequest, error) {
	req, expired, err := s.cancelLocked(ctx, id, userID, reason, checkOwner)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(models.StatusCancelled))
	s.metrics.RecordExpired(len(expired))
	logger.Info("request cancelled",
		zap.String("request_id", id),
		zap.String("by", userID),
		zap.Int("expired_offers", len(expired)))

	for _, a := range expired {
		s.notifier.Notify(ctx, fanout.Message{
			RecipientID:   a.AttendantID,
			RecipientType: constant.UserTypeAttendant,
			RequestID:     id,
			Event:         fanout.EventAssignmentExpired,
			Priority:      string(req.Priority),
			Text:          "request cancelled",
			Payload: map[string]interface{}{
				"assignmentId": a.ID,
				"sosRequestId": id,
				"reason":       "cancelled",
			},
		})
	}
	return req, nil
}

func (s *Service) cancelLocked(ctx context.Context, id, userID, reason string, checkOwner bool) (*models.SOSRequest, []models.Assignment, error) {
	unlock := s.locks.Lock(RequestLock(id))
	defer unlock()

	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if checkOwner && req.RequesterID != userID {
		return nil, nil, errors.Wrapf(errors.ErrForbidden, "only the requester may cancel %s", id)
	}
	if !CanTransition(req.Status, models.StatusCancelled) {
		return nil, nil, InvalidTransition(id, req.Status, models.StatusCancelled)
	}
	release := req.Status.Bound() && req.AssignedAttendantID != nil
	if release {
		unlockAtt := s.locks.Lock(AttendantLock(*req.AssignedAttendantID))
		defer unlockAtt()
	}

	now := s.now()
	var expired []models.Assignment
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		fields := store.Fields{
			"status":       models.StatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		}
		unbind(fields, req)
		ok, err := tx.UpdateRequestIf(ctx, id, store.Expect{"status": req.Status}, fields)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf(errors.KindConflict, "request %s changed concurrently", id)
		}
		if release {
			if err := s.binder.ReleaseTx(ctx, tx, req, now); err != nil {
				return err
			}
		}
		if expired, err = s.binder.ExpireOpenTx(ctx, tx, id, now); err != nil {
			return err
		}
		return tx.RecordCancellation(ctx, &models.Cancellation{
			SOSRequestID: id,
			UserID:       userID,
			Reason:       reason,
			CancelledAt:  now,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	fresh, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.announce.Announce(ctx, fresh)
	return fresh, expired, nil
}

// unbind clears the live attendant column on a terminal update and moves the
// id to last_attendant_id.
func unbind(fields store.Fields, req *models.SOSRequest) {
	if req.AssignedAttendantID == nil {
		return
	}
	fields["assigned_attendant_id"] = nil
	fields["last_attendant_id"] = *req.AssignedAttendantID
}
