// Package testutil builds isolated in-memory stores for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/util"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewStore returns a migrated store backed by a private in-memory sqlite database.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := util.InitDatabase("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return store.New(db)
}

// Johannesburg is the reference pickup point used across tests.
var Johannesburg = models.Location{Latitude: -26.2041, Longitude: 28.0473}

// North returns loc moved km kilometres due north.
func North(loc models.Location, km float64) models.Location {
	return models.Location{Latitude: loc.Latitude + km/111.195, Longitude: loc.Longitude}
}

// SeedAttendant stores an available, verified attendant km north of Johannesburg.
func SeedAttendant(t testing.TB, st *store.Store, id string, km float64, opts ...func(*models.Attendant)) *models.Attendant {
	t.Helper()
	a := &models.Attendant{
		ID:          id,
		Name:        "Attendant " + id,
		Location:    North(Johannesburg, km),
		IsVerified:  true,
		IsAvailable: true,
		Rating:      4.5,
	}
	for _, o := range opts {
		o(a)
	}
	require.NoError(t, st.UpsertAttendant(context.Background(), a))
	return a
}

// SeedRequest stores a pending request at loc.
func SeedRequest(t testing.TB, st *store.Store, requesterID string, priority models.Priority) *models.SOSRequest {
	t.Helper()
	typ := models.TypeFuelEmergency
	if priority == models.PriorityEmergency {
		typ = models.TypeEmergency
	}
	now := time.Now().UTC()
	req := &models.SOSRequest{
		ID:          util.NewID("sos"),
		RequesterID: requesterID,
		Location:    Johannesburg,
		Type:        typ,
		Priority:    priority,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateRequest(context.Background(), req))
	return req
}

func Unavailable(a *models.Attendant) { a.IsAvailable = false }
func Unverified(a *models.Attendant)  { a.IsVerified = false }
