// Package db provides a lightweight GORM-based SQLite wrapper for the
// session archive.
package db

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lazysuperheroes/hedera-multisig-sub001/store"
)

const (
	// InMemorySQLiteDSN creates an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"

	dbDirPermissions = 0o750
)

var (
	// gormConfig disables GORM's own logging; the node logs through zerolog.
	gormConfig = &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	// schemaModels lists the structs auto-migrated into the archive.
	schemaModels = []any{
		&store.ArchivedSession{},
		&store.ArchivedSignature{},
	}
)

// DB wraps a GORM client with lifecycle helpers.
type DB struct {
	client *gorm.DB
}

// OpenFileDB opens (or creates) a file-backed SQLite database in dir.
func OpenFileDB(dir, filename string) (*DB, error) {
	dsn, err := prepareFilePath(dir, filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare database path")
	}
	return openSQLite(dsn)
}

// OpenInMemoryDB opens a non-persistent SQLite database, useful for tests.
func OpenInMemoryDB() (*DB, error) {
	return openSQLite(InMemorySQLiteDSN)
}

func openSQLite(dsn string) (*DB, error) {
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		// WAL and a busy timeout for concurrent writers.
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"
	}

	client, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}
	if err := client.AutoMigrate(schemaModels...); err != nil {
		return nil, errors.Wrap(err, "failed to auto-migrate archive schema")
	}
	return &DB{client: client}, nil
}

func prepareFilePath(dir, filename string) (string, error) {
	if dir == "" {
		return "", errors.New("database directory is required")
	}
	if filename == "" {
		filename = "sessions.db"
	}
	if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
		return "", errors.Wrapf(err, "failed to create directory %s", dir)
	}
	return filepath.Join(dir, filename), nil
}

// Client exposes the underlying GORM handle.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Close releases the underlying sql.DB.
func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to access underlying sql.DB")
	}
	return sqlDB.Close()
}
