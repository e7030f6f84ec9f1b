package lifecycle

import (
	"testing"

	"FuelSOS/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []models.RequestStatus{
		models.StatusPending, models.StatusAssigned, models.StatusConfirmed,
		models.StatusEnroute, models.StatusArrived, models.StatusCompleted, models.StatusCancelled,
	}
	legal := map[[2]models.RequestStatus]bool{
		{models.StatusPending, models.StatusAssigned}:    true,
		{models.StatusAssigned, models.StatusConfirmed}:  true,
		{models.StatusConfirmed, models.StatusEnroute}:   true,
		{models.StatusEnroute, models.StatusArrived}:     true,
		{models.StatusArrived, models.StatusCompleted}:   true,
		{models.StatusPending, models.StatusCancelled}:   true,
		{models.StatusAssigned, models.StatusCancelled}:  true,
		{models.StatusConfirmed, models.StatusCancelled}: true,
		{models.StatusEnroute, models.StatusCancelled}:   true,
		{models.StatusArrived, models.StatusCancelled}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]models.RequestStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTimestampColumn(t *testing.T) {
	assert.Equal(t, "assigned_at", TimestampColumn(models.StatusAssigned))
	assert.Equal(t, "cancelled_at", TimestampColumn(models.StatusCancelled))
	assert.Empty(t, TimestampColumn(models.StatusPending))
}
