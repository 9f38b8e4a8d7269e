// internal/database/db.go
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"channel-relay/internal/config"
	"channel-relay/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DB struct {
	*gorm.DB
}

// NewDB opens the configured dialect and migrates the schema.
func NewDB(cfg config.Config) (*DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch cfg.DBDriver {
	case "postgres":
		gormDB, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		// Enable pgvector extension
		if err := gormDB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return nil, fmt.Errorf("enable pgvector: %w", err)
		}
		return migrate(gormDB)
	case "sqlite":
		return OpenSQLite(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// OpenSQLite opens (or creates) a SQLite database file and migrates it.
func OpenSQLite(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	gormDB, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return migrate(gormDB)
}

func migrate(gormDB *gorm.DB) (*DB, error) {
	// Auto migrate
	if err := gormDB.AutoMigrate(
		&models.Post{},
		&models.Media{},
		&models.Setting{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{gormDB}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
