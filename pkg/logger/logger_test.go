package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWritesRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fuelsos.log")
	require.NoError(t, Init(LogConfig{Level: "debug", Filename: file, MaxSize: 1}, "production"))
	t.Cleanup(func() { Set(nil) })

	Info("dispatch committed", zap.String("request_id", "sos_1"))
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dispatch committed")
	assert.Contains(t, string(data), `"request_id":"sos_1"`)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(LogConfig{Level: "loud"}, "production"))
}

func TestEmergencyMarker(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	t.Cleanup(func() { Set(nil) })

	Emergency("no attendants in range", zap.String("request_id", "sos_2"))

	entries := logs.FilterField(zap.Bool("emergency", true)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "no attendants in range", entries[0].Message)
}
