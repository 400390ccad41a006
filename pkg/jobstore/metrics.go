package jobstore

import (
	"context"
	"time"

	"github.com/audiorag/audiorag/pkg/models"
)

// StageCounts returns the number of submissions resting in each stage.
func (s *Store) StageCounts(ctx context.Context) (map[models.Stage]int64, error) {
	type row struct {
		Stage models.Stage
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Select("stage, COUNT(*) AS n").
		Group("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.Stage]int64, len(rows))
	for _, r := range rows {
		out[r.Stage] = r.N
	}
	return out, nil
}

// RunningCount counts submissions currently held by workers.
func (s *Store) RunningCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("status = ?", models.StatusRunning).
		Count(&n).Error
	return n, err
}

// BacklogSize counts submissions not yet in a terminal stage.
func (s *Store) BacklogSize(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("stage NOT IN ?", terminalStages()).
		Count(&n).Error
	return n, err
}

// FailureRate returns failed / (failed + indexed) over the window.
// Zero completions yield a zero rate.
func (s *Store) FailureRate(ctx context.Context, window time.Duration) (float64, error) {
	cutoff := s.now().Add(-window)
	var failed, indexed int64
	err := s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("stage = ? AND completed_at >= ?", models.StageFailed, cutoff).
		Count(&failed).Error
	if err != nil {
		return 0, err
	}
	err = s.db.WithContext(ctx).Model(&models.Submission{}).
		Where("stage = ? AND completed_at >= ?", models.StageIndexed, cutoff).
		Count(&indexed).Error
	if err != nil {
		return 0, err
	}
	total := failed + indexed
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}

// LeaseExpiryCount counts claims the sweeper reclaimed inside the window.
func (s *Store) LeaseExpiryCount(ctx context.Context, window time.Duration) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LeaseExpiry{}).
		Where("expired_at >= ?", s.now().Add(-window)).
		Count(&n).Error
	return n, err
}

// Analytics is the aggregate view behind the status endpoint and dashboard.
type Analytics struct {
	StageCounts      map[models.Stage]int64  `json:"stage_counts"`
	Backlog          int64                   `json:"backlog"`
	FailureRate24h   float64                 `json:"failure_rate_24h"`
	LeaseExpiries1h  int64                   `json:"lease_expiries_1h"`
	QueriesTotal     int64                   `json:"queries_total"`
	AvgResponseMs    float64                 `json:"avg_response_ms"`
	Feedback24h      map[models.Rating]int64 `json:"feedback_24h"`
	IndexedTotal     int64                   `json:"indexed_total"`
	ChunksTotal      int64                   `json:"chunks_total"`
	OldestPendingAge time.Duration           `json:"oldest_pending_age"`
}

// CollectAnalytics assembles the status snapshot in one pass.
func (s *Store) CollectAnalytics(ctx context.Context) (*Analytics, error) {
	out := &Analytics{}

	var err error
	if out.StageCounts, err = s.StageCounts(ctx); err != nil {
		return nil, err
	}
	if out.Backlog, err = s.BacklogSize(ctx); err != nil {
		return nil, err
	}
	if out.FailureRate24h, err = s.FailureRate(ctx, 24*time.Hour); err != nil {
		return nil, err
	}
	if out.LeaseExpiries1h, err = s.LeaseExpiryCount(ctx, time.Hour); err != nil {
		return nil, err
	}
	if out.Feedback24h, err = s.FeedbackSummary(ctx, s.now().Add(-24*time.Hour)); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.QueryEvent{}).Count(&out.QueriesTotal).Error; err != nil {
		return nil, err
	}
	if out.QueriesTotal > 0 {
		var avg struct{ Avg float64 }
		err := s.db.WithContext(ctx).Model(&models.QueryEvent{}).
			Select("AVG(response_time_ms) AS avg").
			Scan(&avg).Error
		if err != nil {
			return nil, err
		}
		out.AvgResponseMs = avg.Avg
	}

	out.IndexedTotal = out.StageCounts[models.StageIndexed]
	var chunks struct{ Total int64 }
	err = s.db.WithContext(ctx).Model(&models.Submission{}).
		Select("COALESCE(SUM(chunk_count), 0) AS total").
		Where("stage = ?", models.StageIndexed).
		Scan(&chunks).Error
	if err != nil {
		return nil, err
	}
	out.ChunksTotal = chunks.Total

	var oldest models.Submission
	err = s.db.WithContext(ctx).
		Where("stage NOT IN ?", terminalStages()).
		Order("created_at ASC").
		Limit(1).
		Find(&oldest).Error
	if err != nil {
		return nil, err
	}
	if oldest.ID != 0 {
		out.OldestPendingAge = s.now().Sub(oldest.CreatedAt)
	}
	return out, nil
}
