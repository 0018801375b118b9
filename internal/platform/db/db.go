// Package db opens the GORM/Postgres handle shared by the core, grounded on
// the teacher's internal/database/db.go pool-settings pattern.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// Open establishes the GORM connection, tuning the pool the way the teacher
// tunes *sql.DB in internal/database/db.go.
func Open(dsn string) (*gorm.DB, error) {
	log := logx.With("db")
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(60 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	log.Info().Msg("✅ Database connected")
	return gdb, nil
}

// NewHandle opens an independent *gorm.DB session sharing the same
// underlying *sql.DB connection pool. Nothing in the core calls it: the
// follow-up engine's concurrent evaluations share the engine's
// *gorm.DB, each query starting its own session through WithContext.
func NewHandle(gdb *gorm.DB) *gorm.DB {
	return gdb.Session(&gorm.Session{NewDB: true})
}

// RawConn exposes the underlying *sql.DB, e.g. for golang-migrate.
func RawConn(gdb *gorm.DB) (*sql.DB, error) {
	return gdb.DB()
}
