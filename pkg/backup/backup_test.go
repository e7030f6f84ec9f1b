package backup

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"FuelSOS/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := util.InitDatabase("sqlite", path)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestFileName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "fuelsos_backup_20240309_140507.db", FileName("sqlite", at))
	assert.Equal(t, "fuelsos_backup_20240309_140507.sql", FileName("mysql", at))
}

func TestRunCopiesSQLite(t *testing.T) {
	dir := t.TempDir()
	src := openSQLite(t, filepath.Join(dir, "src.db"))
	require.NoError(t, src.Exec("CREATE TABLE attendants (id TEXT PRIMARY KEY)").Error)
	require.NoError(t, src.Exec("INSERT INTO attendants (id) VALUES ('att_1'), ('att_2')").Error)

	out := filepath.Join(dir, "backups")
	path, err := Run(context.Background(), src, "sqlite", "", out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, out))

	copied := openSQLite(t, path)
	var n int64
	require.NoError(t, copied.Raw("SELECT COUNT(*) FROM attendants").Scan(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestJobLogsFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	src := openSQLite(t, filepath.Join(dir, "src.db"))

	// the target directory cannot be created beneath a regular file
	Job(src, "sqlite", "", filepath.Join(blocker, "backups"), nil).Run(context.Background())
	_, err := os.Stat(filepath.Join(blocker, "backups"))
	assert.Error(t, err)
}

type uploader struct {
	files []string
	err   error
}

func (u *uploader) UploadFile(_ context.Context, file string) (string, error) {
	u.files = append(u.files, file)
	return filepath.Base(file), u.err
}

func TestShipUploads(t *testing.T) {
	dir := t.TempDir()
	src := openSQLite(t, filepath.Join(dir, "src.db"))
	require.NoError(t, src.Exec("CREATE TABLE calls (id TEXT)").Error)

	up := &uploader{}
	path, err := Ship(context.Background(), src, "sqlite", "", filepath.Join(dir, "out"), up)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, up.files)

	up.err = stderrors.New("bucket gone")
	path, err = Ship(context.Background(), src, "sqlite", "", filepath.Join(dir, "out2"), up)
	assert.ErrorContains(t, err, "bucket gone")
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "local copy survives a failed upload")
}
