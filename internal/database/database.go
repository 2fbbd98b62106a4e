// Package database bootstraps the gorm connection shared by the modules.
package database

import (
	"fmt"
	"sync"

	"github.com/lumira-media/lumira/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	globalDB *gorm.DB
	mu       sync.RWMutex
)

// SetDB installs the shared connection modules resolve during Init.
func SetDB(db *gorm.DB) {
	mu.Lock()
	globalDB = db
	mu.Unlock()
}

// GetDB returns the shared connection, or nil before Initialize.
func GetDB() *gorm.DB {
	mu.RLock()
	defer mu.RUnlock()
	return globalDB
}

// Initialize opens the configured database and installs it as the shared
// connection.
func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	SetDB(db)
	return db, nil
}

// Open connects using the configured driver. Sqlite is the default; postgres
// is for multi-user deployments.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// Single writer; avoids SQLITE_BUSY under concurrent session updates.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
