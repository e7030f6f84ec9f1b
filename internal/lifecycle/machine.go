// Package lifecycle governs SOS request status transitions.
package lifecycle

import (
	"FuelSOS/internal/models"
	"FuelSOS/pkg/errors"
)

var forward = map[models.RequestStatus]models.RequestStatus{
	models.StatusPending:   models.StatusAssigned,
	models.StatusAssigned:  models.StatusConfirmed,
	models.StatusConfirmed: models.StatusEnroute,
	models.StatusEnroute:   models.StatusArrived,
	models.StatusArrived:   models.StatusCompleted,
}

// CanTransition reports whether to directly follows from. Every non-terminal
// status may be cancelled; nothing leaves a terminal status.
func CanTransition(from, to models.RequestStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == models.StatusCancelled {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// TimestampColumn is the audit column stamped when a request enters to.
func TimestampColumn(to models.RequestStatus) string {
	switch to {
	case models.StatusAssigned:
		return "assigned_at"
	case models.StatusConfirmed:
		return "confirmed_at"
	case models.StatusEnroute:
		return "enroute_at"
	case models.StatusArrived:
		return "arrived_at"
	case models.StatusCompleted:
		return "completed_at"
	case models.StatusCancelled:
		return "cancelled_at"
	}
	return ""
}

// InvalidTransition builds the error returned for an illegal move.
func InvalidTransition(id string, from, to models.RequestStatus) error {
	return errors.Wrapf(errors.ErrInvalidTransition, "request %s: %s -> %s", id, from, to).
		WithContext("from", string(from)).
		WithContext("to", string(to))
}

// RequestLock and AttendantLock name the per-entity locks. When both are
// needed the request lock is taken first.
func RequestLock(id string) string   { return "sos:" + id }
func AttendantLock(id string) string { return "att:" + id }
