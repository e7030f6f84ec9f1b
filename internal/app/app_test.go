package app

import (
	"context"
	"testing"

	"FuelSOS/internal/models"
	"FuelSOS/internal/testutil"
	"FuelSOS/pkg/config"
	"FuelSOS/pkg/constant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, geoIndex string) *App {
	t.Helper()
	st := testutil.NewStore(t)
	cfg := config.Default()
	cfg.Mode = "test"
	cfg.GeoIndex = geoIndex
	a, err := Build(cfg, st.DB())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestCanJoinRequest(t *testing.T) {
	a := build(t, "store")
	ctx := context.Background()
	for i, id := range []string{"att_a", "att_b", "att_c", "att_d"} {
		testutil.SeedAttendant(t, a.Store, id, float64(i+1))
	}
	req := testutil.SeedRequest(t, a.Store, "driver_1", models.PriorityEmergency)
	_, err := a.Engine.Dispatch(ctx, req)
	require.NoError(t, err)

	assert.True(t, a.canJoinRequest("driver_1", req.ID))
	assert.True(t, a.canJoinRequest("att_b", req.ID), "open offer")
	assert.False(t, a.canJoinRequest("att_d", req.ID), "not offered")
	assert.False(t, a.canJoinRequest("driver_2", req.ID))
	assert.False(t, a.canJoinRequest("driver_1", "sos_missing"))
}

func TestOnLocationMovesAttendantsOnly(t *testing.T) {
	a := build(t, "bleve")
	ctx := context.Background()
	testutil.SeedAttendant(t, a.Store, "att_1", 5)
	require.NoError(t, a.index.Rebuild(ctx))

	a.onLocation("att_1", constant.UserTypeDriver, -26.2041, 28.0473)
	near, err := a.Engine.Nearby(ctx, testutil.Johannesburg, 1)
	require.NoError(t, err)
	assert.Empty(t, near)

	a.onLocation("att_1", constant.UserTypeAttendant, -26.2041, 28.0473)
	near, err = a.Engine.Nearby(ctx, testutil.Johannesburg, 1)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "att_1", near[0].AttendantID)
}

func TestBackupScheduleRegistersJob(t *testing.T) {
	st := testutil.NewStore(t)
	cfg := config.Default()
	cfg.Mode = "test"
	cfg.BackupSchedule = "@daily"
	cfg.BackupPath = t.TempDir()
	a, err := Build(cfg, st.DB())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Len(t, a.cron.Entries(), 2)

	bad := config.Default()
	bad.BackupSchedule = "whenever"
	_, err = Build(bad, testutil.NewStore(t).DB())
	assert.Error(t, err)
}
