// Package jobstore is the durable record of every submission and the
// append-only query, feedback, pipeline job, and alert tables. It is the sole
// shared mutable resource: all other components communicate through it.
package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/models"
)

// Store wraps the embedded transactional database backing all durable state.
type Store struct {
	db    *gorm.DB
	cfg   *config.IngestConfig
	lease time.Duration
	now   func() time.Time
}

// SetClaimLease overrides the default claim lease duration.
func (s *Store) SetClaimLease(d time.Duration) {
	if d > 0 {
		s.lease = d
	}
}

// Open creates or opens the single-file store at path and migrates the schema.
func Open(path string, cfg *config.IngestConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// busy_timeout makes concurrent writers queue instead of failing fast.
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Submission{},
		&models.AudioArtifact{},
		&models.PipelineJob{},
		&models.QueryEvent{},
		&models.FeedbackEvent{},
		&models.Alert{},
		&models.LeaseExpiry{},
		&models.UserPref{},
		&ingressFile{},
	); err != nil {
		return nil, fmt.Errorf("migrating job store schema: %w", err)
	}

	slog.Info("Job store opened", "path", path)
	return &Store{db: db, cfg: cfg, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health verifies the store responds to queries.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("job store handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("job store ping: %w", err)
	}
	return nil
}

// ingressFile registers files seen by the audio-file sensor so re-scans of
// the watched directory are idempotent.
type ingressFile struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Path      string    `gorm:"uniqueIndex"`
	FileHash  string    `gorm:"index"`
	ByteSize  int64
	CreatedAt time.Time
}
