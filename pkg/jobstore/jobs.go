package jobstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/audiorag/audiorag/pkg/models"
)

// EnqueueJob inserts a pipeline job keyed by runKey. Re-enqueueing the same
// key is a no-op; the bool reports whether a new job was created.
func (s *Store) EnqueueJob(ctx context.Context, kind models.JobKind, runKey string, payload any, priority int) (bool, error) {
	body, err := models.EncodePayload(payload)
	if err != nil {
		return false, err
	}
	job := &models.PipelineJob{
		Kind:        kind,
		RunKey:      runKey,
		Payload:     body,
		Priority:    priority,
		Status:      models.JobPending,
		ScheduledAt: s.now(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_key"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, fmt.Errorf("enqueueing %s job: %w", kind, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClaimJob picks the oldest pending job of the given kinds and marks it
// running. Returns ErrNothingClaimable when the queue is empty.
func (s *Store) ClaimJob(ctx context.Context, kinds ...models.JobKind) (*models.PipelineJob, error) {
	now := s.now()
	var claimed models.PipelineJob
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.PipelineJob
		q := tx.Where("status = ? AND scheduled_at <= ?", models.JobPending, now)
		if len(kinds) > 0 {
			q = q.Where("kind IN ?", kinds)
		}
		err := q.Order("priority ASC, created_at ASC").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNothingClaimable
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.PipelineJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobPending).
			Updates(map[string]any{
				"status":     models.JobRunning,
				"attempts":   job.Attempts + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNothingClaimable
		}
		return tx.First(&claimed, job.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// FinishJob records a running job's outcome.
func (s *Store) FinishJob(ctx context.Context, id int64, runErr error) error {
	fields := map[string]any{
		"status":     models.JobDone,
		"updated_at": s.now(),
	}
	if runErr != nil {
		fields["status"] = models.JobError
		fields["last_error"] = runErr.Error()
	}
	res := s.db.WithContext(ctx).Model(&models.PipelineJob{}).
		Where("id = ? AND status = ?", id, models.JobRunning).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

// PruneJobs deletes finished jobs older than the cutoff and returns the count.
func (s *Store) PruneJobs(ctx context.Context, before int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -before)
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.JobStatus{models.JobDone, models.JobError}, cutoff).
		Delete(&models.PipelineJob{})
	return res.RowsAffected, res.Error
}
