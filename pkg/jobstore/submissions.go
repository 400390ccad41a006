package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/audiorag/audiorag/pkg/models"
)

// InsertInput describes a new submission from any interface.
type InsertInput struct {
	SourceKind   models.SourceKind
	Source       string
	UserID       string
	LanguageHint string
	UseFakeASR   bool
	Priority     int
}

// InsertSubmission registers a new submission at queued/pending.
// Fails with ErrDuplicateSource when the same (user, source) pair already has
// a non-terminal submission inside the dedup window, and with ErrBackpressure
// when the pending backlog is at the high-water mark.
func (s *Store) InsertSubmission(ctx context.Context, in InsertInput) (*models.Submission, error) {
	if strings.TrimSpace(in.Source) == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidInput)
	}
	if in.SourceKind != models.SourceRemoteURL && in.SourceKind != models.SourceLocalFile {
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidInput, in.SourceKind)
	}

	now := s.now()
	sub := &models.Submission{
		SourceKind:   in.SourceKind,
		Source:       in.Source,
		UserID:       in.UserID,
		LanguageHint: in.LanguageHint,
		UseFakeASR:   in.UseFakeASR,
		Priority:     in.Priority,
		Stage:        models.StageQueued,
		Status:       models.StatusPending,
		ScheduledAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&models.Submission{}).
			Where("stage NOT IN ?", terminalStages()).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("counting backlog: %w", err)
		}
		if s.cfg.HighWaterMark > 0 && pending >= int64(s.cfg.HighWaterMark) {
			return ErrBackpressure
		}

		var dup int64
		if err := tx.Model(&models.Submission{}).
			Where("user_id = ? AND source = ?", in.UserID, in.Source).
			Where("stage NOT IN ?", terminalStages()).
			Where("created_at > ?", now.Add(-s.cfg.DedupWindow)).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("checking duplicates: %w", err)
		}
		if dup > 0 {
			return ErrDuplicateSource
		}

		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns a submission by id.
func (s *Store) Get(ctx context.Context, id int64) (*models.Submission, error) {
	var sub models.Submission
	err := s.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("submission %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Claim atomically selects one submission ready for the given worker kind and
// takes a lease on it. Returns ErrNothingClaimable when no work is ready.
// At most one worker holds a given submission: the claim is a guarded update
// that only succeeds against the unclaimed resting state.
func (s *Store) Claim(ctx context.Context, workerID string, kind models.WorkKind) (*models.Submission, error) {
	claimStage, claimStatus := kind.ClaimFrom()
	now := s.now()
	var claimed models.Submission

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate models.Submission
		err := tx.
			Where("stage = ? AND status = ?", claimStage, claimStatus).
			Where("scheduled_at <= ?", now).
			Where("cancel_requested = ? AND archived = ?", false, false).
			Order("priority ASC, created_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNothingClaimable
		}
		if err != nil {
			return fmt.Errorf("selecting claimable submission: %w", err)
		}

		deadline := now.Add(s.leaseDuration())
		res := tx.Model(&models.Submission{}).
			Where("id = ? AND stage = ? AND status = ?", candidate.ID, claimStage, claimStatus).
			Updates(map[string]any{
				"stage":          kind.RunningStage(),
				"status":         models.StatusRunning,
				"claim_owner":    workerID,
				"claim_deadline": deadline,
				"stage_progress": 0,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("claiming submission %d: %w", candidate.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Another worker won the race inside this tick.
			return ErrNothingClaimable
		}

		return tx.First(&claimed, candidate.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

// Heartbeat extends the claim lease while a worker is still making progress.
func (s *Store) Heartbeat(ctx context.Context, id int64, workerID string) error {
	res := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_owner = ? AND status = ?", id, workerID, models.StatusRunning).
		Update("claim_deadline", s.now().Add(s.leaseDuration()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimOwner
	}
	return nil
}

// CompleteUpdate carries the artifact references written on stage completion.
type CompleteUpdate struct {
	AudioPath      string
	TranscriptPath string
	ChunksPath     string
	ChunkCount     *int
	IndexedCount   *int
	// Warning lands in the error field without failing the submission
	// (e.g. no-content on an empty transcript).
	Warning string
}

// Complete advances the submission to the kind's next resting stage and
// clears the claim. Succeeds only for the active claim owner.
func (s *Store) Complete(ctx context.Context, id int64, workerID string, kind models.WorkKind, upd CompleteUpdate) error {
	now := s.now()
	fields := map[string]any{
		"stage":          kind.CompletesTo(),
		"status":         models.StatusDone,
		"claim_owner":    "",
		"claim_deadline": nil,
		"updated_at":     now,
	}
	if upd.AudioPath != "" {
		fields["audio_path"] = upd.AudioPath
	}
	if upd.TranscriptPath != "" {
		fields["transcript_path"] = upd.TranscriptPath
	}
	if upd.ChunksPath != "" {
		fields["chunks_path"] = upd.ChunksPath
	}
	if upd.ChunkCount != nil {
		fields["chunk_count"] = *upd.ChunkCount
	}
	if upd.IndexedCount != nil {
		fields["indexed_count"] = *upd.IndexedCount
	}
	if upd.Warning != "" {
		fields["error_message"] = upd.Warning
	}
	if kind.CompletesTo() == models.StageIndexed {
		fields["completed_at"] = now
	}

	res := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_owner = ? AND status = ?", id, workerID, models.StatusRunning).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("completing submission %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimOwner
	}
	return nil
}

// Fail records a stage failure. Retriable failures below the attempt budget
// return the submission to its previous resting state with exponential
// backoff; everything else lands in the failed terminal stage. A failure
// tagged "cancelled" lands in the cancelled terminal stage instead.
func (s *Store) Fail(ctx context.Context, id int64, workerID string, kind models.WorkKind, errKind, message string, retriable bool) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Submission
		if err := tx.First(&sub, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("submission %d: %w", id, ErrNotFound)
			}
			return err
		}
		if sub.ClaimOwner != workerID || sub.Status != models.StatusRunning {
			return ErrNotClaimOwner
		}

		fields := map[string]any{
			"claim_owner":    "",
			"claim_deadline": nil,
			"error_kind":     errKind,
			"error_message":  message,
			"updated_at":     now,
		}

		switch {
		case errKind == "cancelled":
			fields["stage"] = models.StageCancelled
			fields["status"] = models.StatusDone
			fields["completed_at"] = now
		case retriable && sub.Attempts+1 < s.cfg.MaxAttempts:
			prevStage, prevStatus := kind.ClaimFrom()
			fields["stage"] = prevStage
			fields["status"] = prevStatus
			fields["attempts"] = sub.Attempts + 1
			fields["scheduled_at"] = now.Add(s.retryBackoff(sub.Attempts + 1))
		default:
			fields["stage"] = models.StageFailed
			fields["status"] = models.StatusError
			fields["attempts"] = sub.Attempts + 1
			fields["completed_at"] = now
		}

		return tx.Model(&models.Submission{}).Where("id = ?", id).Updates(fields).Error
	})
}

// GetProgress derives the user-facing progress view for a submission.
func (s *Store) GetProgress(ctx context.Context, id int64) (*models.Progress, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	percent := sub.Stage.Percent()
	// Chunking and embedding expose intra-stage progress via the counter.
	if sub.Status == models.StatusRunning && sub.ChunkCount > 0 &&
		(sub.Stage == models.StageChunking || sub.Stage == models.StageEmbedding) {
		frac := float64(sub.StageProgress) / float64(sub.ChunkCount)
		if frac > 1 {
			frac = 1
		}
		stageSpan := 100 / models.StageIndexed.Ordinal()
		percent = sub.Stage.Percent() + int(frac*float64(stageSpan))
	}
	return &models.Progress{
		SubmissionID: sub.ID,
		Stage:        sub.Stage,
		Status:       sub.Status,
		Percent:      percent,
		ErrorMessage: sub.ErrorMessage,
	}, nil
}

// SetStageProgress writes the intra-stage counter for chunking/embedding.
func (s *Store) SetStageProgress(ctx context.Context, id int64, workerID string, n int) error {
	return s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ? AND claim_owner = ?", id, workerID).
		Update("stage_progress", n).Error
}

// ListPending returns submissions resting before the given worker kind,
// ordered by (priority, creation time).
func (s *Store) ListPending(ctx context.Context, kind models.WorkKind, limit int) ([]models.Submission, error) {
	stage, status := kind.ClaimFrom()
	var subs []models.Submission
	q := s.db.WithContext(ctx).
		Where("stage = ? AND status = ? AND cancel_requested = ?", stage, status, false).
		Order("priority ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// SweepExpiredClaims returns submissions whose lease lapsed to their previous
// resting state for another attempt. Only this sweep, never a worker-side
// timeout, releases an expired claim.
func (s *Store) SweepExpiredClaims(ctx context.Context) (int, error) {
	now := s.now()
	var expired []models.Submission
	if err := s.db.WithContext(ctx).
		Where("status = ? AND claim_deadline IS NOT NULL AND claim_deadline < ?", models.StatusRunning, now).
		Find(&expired).Error; err != nil {
		return 0, fmt.Errorf("scanning expired claims: %w", err)
	}

	swept := 0
	for _, sub := range expired {
		kind, ok := models.WorkKindForRunning(sub.Stage)
		if !ok {
			continue
		}
		prevStage, prevStatus := kind.ClaimFrom()
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Submission{}).
				Where("id = ? AND status = ? AND claim_deadline < ?", sub.ID, models.StatusRunning, now).
				Updates(map[string]any{
					"stage":          prevStage,
					"status":         prevStatus,
					"claim_owner":    "",
					"claim_deadline": nil,
					"updated_at":     now,
				})
			if res.Error != nil || res.RowsAffected == 0 {
				return res.Error
			}
			swept++
			return tx.Create(&models.LeaseExpiry{
				SubmissionID: sub.ID,
				Stage:        sub.Stage,
				Owner:        sub.ClaimOwner,
				ExpiredAt:    now,
			}).Error
		})
		if err != nil {
			return swept, fmt.Errorf("sweeping claim on submission %d: %w", sub.ID, err)
		}
	}
	return swept, nil
}

// RequestCancel flags a submission for cancellation. Terminal submissions
// are not cancellable. The scheduler finalizes non-running submissions and
// signals in-flight workers at their next stage boundary.
func (s *Store) RequestCancel(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Submission
		if err := tx.First(&sub, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("submission %d: %w", id, ErrNotFound)
			}
			return err
		}
		if sub.Stage.Terminal() {
			return ErrNotCancellable
		}
		return tx.Model(&models.Submission{}).Where("id = ?", id).
			Update("cancel_requested", true).Error
	})
}

// ApplyCancellations finalizes cancel-requested submissions that are not
// currently held by a worker. Returns the ids transitioned to cancelled.
func (s *Store) ApplyCancellations(ctx context.Context) ([]int64, error) {
	var flagged []models.Submission
	if err := s.db.WithContext(ctx).
		Where("cancel_requested = ?", true).
		Where("status <> ?", models.StatusRunning).
		Where("stage NOT IN ?", terminalStages()).
		Find(&flagged).Error; err != nil {
		return nil, err
	}

	now := s.now()
	var done []int64
	for _, sub := range flagged {
		res := s.db.WithContext(ctx).Model(&models.Submission{}).
			Where("id = ? AND status <> ?", sub.ID, models.StatusRunning).
			Updates(map[string]any{
				"stage":        models.StageCancelled,
				"status":       models.StatusDone,
				"error_kind":   "cancelled",
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return done, res.Error
		}
		if res.RowsAffected > 0 {
			done = append(done, sub.ID)
		}
	}
	return done, nil
}

// ListIndexed returns indexed submissions that contributed chunks, for the
// lexical search pass.
func (s *Store) ListIndexed(ctx context.Context) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.db.WithContext(ctx).
		Where("stage = ? AND chunks_path <> ''", models.StageIndexed).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

// RunningCancelRequests lists ids of claimed submissions flagged for
// cancellation, so the scheduler can signal their workers.
func (s *Store) RunningCancelRequests(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("cancel_requested = ? AND status = ?", true, models.StatusRunning).
		Pluck("id", &ids).Error
	return ids, err
}

// ListArchived returns archived submissions that still hold artifacts, for
// the cleanup pass.
func (s *Store) ListArchived(ctx context.Context, limit int) ([]models.Submission, error) {
	var subs []models.Submission
	q := s.db.WithContext(ctx).
		Where("archived = ?", true).
		Where("audio_path <> '' OR transcript_path <> '' OR chunks_path <> ''").
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&subs).Error
	return subs, err
}

// ClearArtifactRefs empties a submission's artifact references after its
// files are deleted.
func (s *Store) ClearArtifactRefs(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"audio_path":      "",
			"transcript_path": "",
			"chunks_path":     "",
			"updated_at":      s.now(),
		}).Error
}

// Archive marks a terminal submission for cleanup.
func (s *Store) Archive(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).Update("archived", true).Error
}

// CreateAudioArtifact records a stored audio file's attributes.
func (s *Store) CreateAudioArtifact(ctx context.Context, a *models.AudioArtifact) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// AudioArtifact returns the stored audio attributes for a submission.
func (s *Store) AudioArtifact(ctx context.Context, submissionID int64) (*models.AudioArtifact, error) {
	var a models.AudioArtifact
	err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("id DESC").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("audio artifact for submission %d: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) leaseDuration() time.Duration {
	if s.lease > 0 {
		return s.lease
	}
	return 10 * time.Minute
}

// retryBackoff doubles per attempt from the configured base, capped.
func (s *Store) retryBackoff(attempt int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.RetryCap {
			return s.cfg.RetryCap
		}
	}
	if d > s.cfg.RetryCap {
		return s.cfg.RetryCap
	}
	return d
}

func terminalStages() []models.Stage {
	return []models.Stage{models.StageIndexed, models.StageFailed, models.StageCancelled}
}
