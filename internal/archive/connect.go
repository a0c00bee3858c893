// Package archive externalizes terminal runs into a SQL database so the
// in-memory store can be evicted without losing history. SQLite covers the
// local single-binary setup; MySQL covers a shared deployment.
package archive

import (
	"fmt"

	sqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the configured driver. The DSN is a
// file path for sqlite and a standard DSN for mysql.
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("archive: connect sqlite %s: %w", dsn, err)
		}
		return db, nil
	case "mysql":
		normalized, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("archive: mysql dsn: %w", err)
		}
		db, err := gorm.Open(mysql.Open(normalized), cfg)
		if err != nil {
			return nil, fmt.Errorf("archive: connect mysql: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
}

// normalizeMySQLDSN forces parseTime on so archived timestamps scan into
// time.Time instead of []byte.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := sqldriver.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
