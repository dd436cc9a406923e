// Package store persists studies, participants, images, OCR results and
// reviewer corrections through gorm on a SQLite database.
//
// The store exposes the read-only image queries the OCR pipeline selects work
// with, and the batch upsert that keeps at most one OCR result per image. The
// schema carries no unique constraint on ocr_results.image_id, so SaveBatch
// enforces that invariant itself.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"annotator/internal/logger"
	"annotator/pkg/models"
)

// Store wraps the gorm handle shared by the pipeline components.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	const op = "store.Open"

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%s: failed to create database directory: %w", op, err)
		}
	}

	log := logger.WithComponent("store")
	gormLog := log.With().Str("source", "gorm").Logger()

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.New(&gormLog, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database %s: %w", op, path, err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug().Str("path", path).Msg("Database opened")
	return s, nil
}

// New wraps an existing gorm handle. The schema is migrated.
func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db, log: logger.WithComponent("store")}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&models.Study{},
		&models.Participant{},
		&models.Image{},
		&models.OCRResult{},
		&models.Correction{},
	); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithContext returns a gorm session bound to ctx.
func (s *Store) WithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
