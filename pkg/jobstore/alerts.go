package jobstore

import (
	"context"
	"time"

	"github.com/audiorag/audiorag/pkg/models"
)

// RaiseAlert stores a new health alert unless an undispatched alert of the
// same kind already exists, so a flapping threshold raises once.
func (s *Store) RaiseAlert(ctx context.Context, severity models.Severity, kind, message string) (*models.Alert, error) {
	var open int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("kind = ? AND dispatched_at IS NULL", kind).
		Count(&open).Error
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, nil
	}
	a := &models.Alert{
		Severity:  severity,
		Kind:      kind,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// UndispatchedAlerts lists alerts awaiting delivery, oldest first.
func (s *Store) UndispatchedAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC").
		Find(&alerts).Error
	return alerts, err
}

// MarkAlertsDispatched stamps the given alerts as delivered.
func (s *Store) MarkAlertsDispatched(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id IN ?", ids).
		Update("dispatched_at", s.now()).Error
}

// AcknowledgeAlert records operator acknowledgement.
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", id).
		Update("acknowledged_at", s.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentAlerts lists alerts raised since the cutoff, newest first.
func (s *Store) RecentAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Find(&alerts).Error
	return alerts, err
}
