package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/logger"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return newValidationError("SQLite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." && !isMemoryDSN(path) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dbError(err, "create_database_dir", "")
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open_sqlite", "")
	}

	// SQLite allows one writer; a single connection serializes transactions
	// instead of failing them with "database is locked".
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open_sqlite", "")
	}
	sqlDB.SetMaxOpenConns(1)

	store.attach(db)
	GetLogger().Info("SQLite database opened", logger.String("path", path))
	return performAutoMigration(db, "SQLite")
}

// Close closes the underlying connection pool.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemoryDSN(path string) bool {
	return path == ":memory:" || (len(path) >= 5 && path[:5] == "file:")
}
