package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/audiorag/audiorag/pkg/models"
)

// RecordQueryEvent persists the record of one answered query.
func (s *Store) RecordQueryEvent(ctx context.Context, ev *models.QueryEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	return s.db.WithContext(ctx).Create(ev).Error
}

// QueryEvent returns one query record by id.
func (s *Store) QueryEvent(ctx context.Context, id int64) (*models.QueryEvent, error) {
	var ev models.QueryEvent
	err := s.db.WithContext(ctx).First(&ev, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// RecentQueryEvents lists the newest query records for a user, newest first.
func (s *Store) RecentQueryEvents(ctx context.Context, userID string, limit int) ([]models.QueryEvent, error) {
	var evs []models.QueryEvent
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}

// RecordFeedback attaches a rating to an existing query event.
func (s *Store) RecordFeedback(ctx context.Context, queryEventID int64, rating models.Rating, comment string) (*models.FeedbackEvent, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.QueryEvent{}).
		Where("id = ?", queryEventID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("query event %d: %w", queryEventID, ErrNotFound)
	}
	fb := &models.FeedbackEvent{
		QueryEventID: queryEventID,
		Rating:       rating,
		Comment:      comment,
		CreatedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(fb).Error; err != nil {
		return nil, err
	}
	return fb, nil
}

// FeedbackSummary aggregates feedback counts per rating since the cutoff.
func (s *Store) FeedbackSummary(ctx context.Context, since time.Time) (map[models.Rating]int64, error) {
	type row struct {
		Rating models.Rating
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.FeedbackEvent{}).
		Select("rating, COUNT(*) AS n").
		Where("created_at >= ?", since).
		Group("rating").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.Rating]int64, len(rows))
	for _, r := range rows {
		out[r.Rating] = r.N
	}
	return out, nil
}

// UserPref returns the stored preferences for a user, defaulting when unset.
func (s *Store) UserPref(ctx context.Context, userID string) (*models.UserPref, error) {
	var p models.UserPref
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserPref{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetVerbose upserts the per-user verbose flag.
func (s *Store) SetVerbose(ctx context.Context, userID string, verbose bool) error {
	p := &models.UserPref{UserID: userID, Verbose: verbose, UpdatedAt: s.now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"verbose", "updated_at"}),
		}).
		Create(p).Error
}

// RegisterIngressFile records a file discovered in the watched directory.
// Returns false when the same path and content hash were already seen, so
// directory re-scans do not resubmit unchanged files.
func (s *Store) RegisterIngressFile(ctx context.Context, path, fileHash string, byteSize int64) (bool, error) {
	var existing ingressFile
	err := s.db.WithContext(ctx).Where("path = ?", path).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rec := &ingressFile{Path: path, FileHash: fileHash, ByteSize: byteSize, CreatedAt: s.now()}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "path"}}, DoNothing: true}).
			Create(rec)
		if res.Error != nil {
			return false, res.Error
		}
		return res.RowsAffected > 0, nil
	case err != nil:
		return false, err
	case existing.FileHash == fileHash:
		return false, nil
	default:
		// Same path, new content: the file was replaced in place.
		err := s.db.WithContext(ctx).Model(&ingressFile{}).
			Where("path = ?", path).
			Updates(map[string]any{"file_hash": fileHash, "byte_size": byteSize}).Error
		if err != nil {
			return false, err
		}
		return true, nil
	}
}
