package dispatch

import (
	"context"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/ledger"
	"FuelSOS/internal/models"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/scheduler"

	"go.uber.org/zap"
)

// Accept resolves an emergency offer and tells the losing siblings.
func (e *Engine) Accept(ctx context.Context, assignmentID, attendantID string) (*ledger.AcceptResult, error) {
	res, err := e.ledger.Accept(ctx, assignmentID, attendantID)
	if err != nil {
		return nil, err
	}
	if len(res.Declined) > 0 {
		msgs := make([]fanout.Message, len(res.Declined))
		for i, a := range res.Declined {
			msgs[i] = fanout.Message{
				RecipientID:   a.AttendantID,
				RecipientType: constant.UserTypeAttendant,
				RequestID:     res.Request.ID,
				Event:         fanout.EventAssignmentClaimed,
				Priority:      string(res.Request.Priority),
				Text:          "request taken by another attendant",
				Payload: map[string]interface{}{
					"assignmentId": a.ID,
					"sosRequestId": res.Request.ID,
				},
			}
		}
		e.notifier.NotifyAll(ctx, msgs, nil)
	}
	return res, nil
}

// Decline closes an attendant's pending offer.
func (e *Engine) Decline(ctx context.Context, assignmentID, attendantID string) (*models.Assignment, error) {
	return e.ledger.Decline(ctx, assignmentID, attendantID)
}

// ExpireOffers closes every offer whose accept window has passed and tells
// the attendants. It returns how many offers expired.
func (e *Engine) ExpireOffers(ctx context.Context) (int, error) {
	expired, err := e.ledger.ExpireDue(ctx, e.now())
	for _, a := range expired {
		e.notifier.Notify(ctx, fanout.Message{
			RecipientID:   a.AttendantID,
			RecipientType: constant.UserTypeAttendant,
			RequestID:     a.SOSRequestID,
			Event:         fanout.EventAssignmentExpired,
			Priority:      string(models.PriorityEmergency),
			Text:          "offer expired",
			Payload: map[string]interface{}{
				"assignmentId": a.ID,
				"sosRequestId": a.SOSRequestID,
				"reason":       "timeout",
			},
		})
	}
	return len(expired), err
}

// ExpiryJob adapts ExpireOffers to the cron scheduler.
func (e *Engine) ExpiryJob() scheduler.Job {
	return scheduler.FuncJob(func(ctx context.Context) {
		n, err := e.ExpireOffers(ctx)
		if err != nil {
			logger.Error("offer expiry sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("offers expired", zap.Int("count", n))
		}
	})
}

// PendingOffers lists an attendant's open emergency offers still inside the
// accept window. Offline attendants use it to catch up after reconnecting.
func (e *Engine) PendingOffers(ctx context.Context, attendantID string) ([]models.Assignment, error) {
	all, err := e.store.ListPendingForAttendant(ctx, attendantID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	open := all[:0]
	for _, a := range all {
		if a.ExpiresAt.After(now) {
			open = append(open, a)
		}
	}
	return open, nil
}
