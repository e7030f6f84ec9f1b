package store_test

import (
	"context"
	"testing"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/internal/testutil"
	"FuelSOS/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRequestIfHonoursExpectation(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	req := testutil.SeedRequest(t, st, "driver_1", models.PriorityNormal)

	ok, err := st.UpdateRequestIf(ctx, req.ID, store.Expect{"status": models.StatusPending}, store.Fields{"status": models.StatusCancelled})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.UpdateRequestIf(ctx, req.ID, store.Expect{"status": models.StatusPending}, store.Fields{"status": models.StatusAssigned})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestUpdateRequestIfNullExpectation(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	req := testutil.SeedRequest(t, st, "driver_1", models.PriorityEmergency)

	ok, err := st.UpdateRequestIf(ctx, req.ID, store.Expect{"winning_assignment_id": nil}, store.Fields{"winning_assignment_id": "asg_1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.UpdateRequestIf(ctx, req.ID, store.Expect{"winning_assignment_id": nil}, store.Fields{"winning_assignment_id": "asg_2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetRequestNotFound(t *testing.T) {
	st := testutil.NewStore(t)
	_, err := st.GetRequest(context.Background(), "sos_missing")
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestTransactionRollsBack(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	testutil.SeedAttendant(t, st, "att_001", 1.2)

	err := st.Transaction(ctx, func(tx *store.Store) error {
		ok, err := tx.UpdateAttendantIf(ctx, "att_001", store.Expect{"is_available": true}, store.Fields{"is_available": false})
		require.NoError(t, err)
		require.True(t, ok)
		return errors.ErrAlreadyAssigned
	})
	assert.ErrorIs(t, err, errors.ErrAlreadyAssigned)

	a, err := st.GetAttendant(ctx, "att_001")
	require.NoError(t, err)
	assert.True(t, a.IsAvailable)
}

func TestUpsertAttendantKeepsAvailability(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	testutil.SeedAttendant(t, st, "att_001", 1.2)

	_, err := st.UpdateAttendantIf(ctx, "att_001", nil, store.Fields{"is_available": false, "current_sos_request": "sos_1"})
	require.NoError(t, err)

	require.NoError(t, st.UpsertAttendant(ctx, &models.Attendant{
		ID:          "att_001",
		Name:        "Renamed",
		Location:    testutil.Johannesburg,
		IsVerified:  true,
		IsAvailable: true,
	}))

	a, err := st.GetAttendant(ctx, "att_001")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", a.Name)
	assert.False(t, a.IsAvailable)
	require.NotNil(t, a.CurrentSOSRequest)
	assert.Equal(t, "sos_1", *a.CurrentSOSRequest)
}

func TestUpsertAttendantProfileKeepsVerification(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	testutil.SeedAttendant(t, st, "att_001", 1.2, testutil.Unverified)

	require.NoError(t, st.UpsertAttendantProfile(ctx, &models.Attendant{
		ID:         "att_001",
		Name:       "Self Service",
		Location:   testutil.Johannesburg,
		IsVerified: true,
		Rating:     5,
	}))

	a, err := st.GetAttendant(ctx, "att_001")
	require.NoError(t, err)
	assert.Equal(t, "Self Service", a.Name)
	assert.False(t, a.IsVerified)
	assert.Equal(t, 4.5, a.Rating)
}

func TestListAttendantsInBox(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	testutil.SeedAttendant(t, st, "near", 1)
	testutil.SeedAttendant(t, st, "far", 50)
	require.NoError(t, st.UpsertAttendant(ctx, &models.Attendant{ID: "east", Location: models.Location{Latitude: 0, Longitude: 179.9}}))
	require.NoError(t, st.UpsertAttendant(ctx, &models.Attendant{ID: "west", Location: models.Location{Latitude: 0, Longitude: -179.9}}))

	got, err := st.ListAttendantsInBox(ctx, store.Box{MinLat: -26.3, MaxLat: -26.1, MinLon: 27.9, MaxLon: 28.2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)

	got, err = st.ListAttendantsInBox(ctx, store.Box{MinLat: -1, MaxLat: 1, MinLon: 179.5, MaxLon: -179.5})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListRequestsByRequesterPaging(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		req := testutil.SeedRequest(t, st, "driver_1", models.PriorityNormal)
		_, err := st.UpdateRequestIf(ctx, req.ID, nil, store.Fields{"created_at": time.Now().UTC().Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	testutil.SeedRequest(t, st, "driver_2", models.PriorityNormal)

	page, total, err := st.ListRequestsByRequester(ctx, "driver_1", store.Page{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)
	assert.Equal(t, ids[3], page[1].ID)

	page, _, err = st.ListRequestsByRequester(ctx, "driver_1", store.Page{Page: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestCloseOpenAssignments(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	req := testutil.SeedRequest(t, st, "driver_1", models.PriorityEmergency)
	now := time.Now().UTC()
	require.NoError(t, st.CreateAssignments(ctx, []models.Assignment{
		{ID: "a1", SOSRequestID: req.ID, AttendantID: "x", Rank: 0, Status: models.AssignmentPending, ExpiresAt: now.Add(time.Minute)},
		{ID: "a2", SOSRequestID: req.ID, AttendantID: "y", Rank: 1, Status: models.AssignmentPending, ExpiresAt: now.Add(time.Minute)},
		{ID: "a3", SOSRequestID: req.ID, AttendantID: "z", Rank: 2, Status: models.AssignmentDeclined, ExpiresAt: now.Add(time.Minute)},
	}))

	closed, err := st.CloseOpenAssignments(ctx, req.ID, "a1", models.AssignmentDeclined, now)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "a2", closed[0].ID)

	open, err := st.ListAssignments(ctx, req.ID, models.AssignmentPending)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a1", open[0].ID)
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, store.Page{Page: 1, Limit: 10}, store.Page{}.Normalize())
	assert.Equal(t, store.Page{Page: 2, Limit: 100}, store.Page{Page: 2, Limit: 500}.Normalize())
	assert.Equal(t, 20, store.Page{Page: 3, Limit: 10}.Offset())
}
