// Copyright (c) 2025 Auricle Labs
//
// Licensed under GPL-2.0 with Auricle Additional Terms.
// See LICENSE.md for commercial usage.
package connectors

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SqliteConnector hands out gorm handles bound to the local store.
// The desktop deployment keeps all transcript data in a single SQLite file.
type SqliteConnector interface {
	DB(ctx context.Context) *gorm.DB
	Close() error
}

type sqliteConnector struct {
	db *gorm.DB
}

// NewSqliteConnector opens (creating if necessary) the SQLite database at path.
// Use "file::memory:?cache=shared" for ephemeral test stores.
func NewSqliteConnector(path string) (SqliteConnector, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
	}
	return &sqliteConnector{db: db}, nil
}

func (c *sqliteConnector) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *sqliteConnector) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
