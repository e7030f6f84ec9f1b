package util

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func createDatabaseInstance(cfg *gorm.Config, driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "pg":
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	if dsn == "" {
		dsn = "file::memory:"
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}

// InitDatabase opens the configured database. sqlite is limited to a single
// open connection so writers never observe "database is locked".
func InitDatabase(driver, dsn string) (*gorm.DB, error) {
	db, err := createDatabaseInstance(&gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}, driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver != "mysql" && driver != "pg" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
