// Package database provides database connectivity and schema migration.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantaex/core/pkg/models"
)

// NewPostgresDB creates a new PostgreSQL database connection with pooling
func NewPostgresDB(dsn string, maxOpen, maxIdle, connMaxLife int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	if maxOpen == 0 {
		maxOpen = 100
	}
	if maxIdle == 0 {
		maxIdle = 10
	}
	if connMaxLife == 0 {
		connMaxLife = 3600
	}

	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(connMaxLife) * time.Second)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return db, nil
}

// Migrate creates or updates the schema for the core tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.TradingPair{},
		&models.Order{},
		&models.Trade{},
		&models.Wallet{},
	)
}
