// Package backup writes point-in-time copies of the dispatch database.
package backup

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/scheduler"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stampLayout = "20060102_150405"

// Uploader copies a finished backup off the host.
type Uploader interface {
	UploadFile(ctx context.Context, file string) (string, error)
}

// FileName returns the backup file name for driver at t.
func FileName(driver string, t time.Time) string {
	ext := "db"
	if driver == "mysql" || driver == "pg" {
		ext = "sql"
	}
	return fmt.Sprintf("fuelsos_backup_%s.%s", t.UTC().Format(stampLayout), ext)
}

// Run writes a backup of db into dir and returns the file path.
func Run(ctx context.Context, db *gorm.DB, driver, dsn, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	dst := filepath.Join(dir, FileName(driver, time.Now()))

	var err error
	switch driver {
	case "mysql":
		err = dumpMySQL(ctx, dsn, dst)
	case "pg":
		err = exec.CommandContext(ctx, "pg_dump", "--dbname="+dsn, "--file="+dst).Run()
	default:
		// VACUUM INTO copies a consistent snapshot, even of an in-memory database.
		err = db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error
	}
	if err != nil {
		return "", fmt.Errorf("backup %s database: %w", driver, err)
	}
	return dst, nil
}

func dumpMySQL(ctx context.Context, dsn, dst string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		host, port = cfg.Addr, "3306"
	}
	cmd := exec.CommandContext(ctx, "mysqldump",
		"--host="+host,
		"--port="+port,
		"--user="+cfg.User,
		"--single-transaction",
		"--result-file="+dst,
		cfg.DBName,
	)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+cfg.Passwd)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Ship runs a backup and, when up is set, uploads it. The local file is kept
// either way.
func Ship(ctx context.Context, db *gorm.DB, driver, dsn, dir string, up Uploader) (string, error) {
	path, err := Run(ctx, db, driver, dsn, dir)
	if err != nil || up == nil {
		return path, err
	}
	key, err := up.UploadFile(ctx, path)
	if err != nil {
		return path, fmt.Errorf("upload backup: %w", err)
	}
	logger.Info("backup uploaded", zap.String("key", key))
	return path, nil
}

// Job ships a backup on every tick and logs the outcome.
func Job(db *gorm.DB, driver, dsn, dir string, up Uploader) scheduler.Job {
	return scheduler.FuncJob(func(ctx context.Context) {
		path, err := Ship(ctx, db, driver, dsn, dir, up)
		if err != nil {
			logger.Warn("backup failed", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Info("backup completed", zap.String("path", path))
	})
}
