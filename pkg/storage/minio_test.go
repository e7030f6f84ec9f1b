package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{Endpoint: "s3.local:9000"}.Enabled())
	assert.True(t, Config{Endpoint: "s3.local:9000", Bucket: "backups"}.Enabled())

	_, err := NewMinioStore(Config{})
	assert.Error(t, err)
}

func TestKeyUsesPrefix(t *testing.T) {
	m, err := NewMinioStore(Config{Endpoint: "s3.local:9000", Bucket: "backups", Prefix: "/fuelsos/"})
	require.NoError(t, err)
	assert.Equal(t, "fuelsos/a.db", m.Key("/var/backups/a.db"))

	m, err = NewMinioStore(Config{Endpoint: "s3.local:9000", Bucket: "backups"})
	require.NoError(t, err)
	assert.Equal(t, "a.db", m.Key("a.db"))
}

// fakeS3 answers bucket existence checks and records object PUTs.
type fakeS3 struct {
	mu   sync.Mutex
	puts []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	if r.Method == http.MethodPut && strings.Count(strings.Trim(r.URL.Path, "/"), "/") > 0 {
		f.mu.Lock()
		f.puts = append(f.puts, r.URL.Path)
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	}
	w.WriteHeader(http.StatusOK)
}

func TestUploadFile(t *testing.T) {
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "fuelsos_backup_20240309_140507.db")
	require.NoError(t, os.WriteFile(file, []byte("snapshot"), 0o600))

	m, err := NewMinioStore(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "backups",
		Prefix:    "nightly",
	})
	require.NoError(t, err)

	key, err := m.UploadFile(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "nightly/fuelsos_backup_20240309_140507.db", key)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"/backups/nightly/fuelsos_backup_20240309_140507.db"}, fake.puts)
}
