package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "unit")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.Dispatch.RadiusKm)
	assert.Equal(t, 15.0, cfg.Dispatch.EmergencyRadiusKm)
	assert.Equal(t, 3, cfg.Dispatch.EmergencyMaxCandidates)
	assert.Equal(t, 30.0, cfg.Dispatch.AverageSpeedKmh)
	assert.Equal(t, int64(100), cfg.RateLimit)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitPeriod)
	assert.Equal(t, "store", cfg.GeoIndex)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "unit")
	t.Setenv("DISPATCH_RADIUS_KM", "12.5")
	t.Setenv("ACCEPT_WINDOW", "45s")
	t.Setenv("ICE_SERVERS", "stun:a:3478, turn:b:3478")
	t.Setenv("GEO_INDEX", "bleve")
	t.Setenv("ALLOW_HEADER_IDENTITY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.Dispatch.RadiusKm)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.AcceptWindow)
	assert.Equal(t, []string{"stun:a:3478", "turn:b:3478"}, cfg.Calls.ICEServers)
	assert.Equal(t, "bleve", cfg.GeoIndex)
	assert.True(t, cfg.AllowHeaderIdentity)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.AverageSpeedKmh = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.GeoIndex = "rtree"
	assert.Error(t, cfg.Validate())
}
