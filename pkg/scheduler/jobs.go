package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/vectorstore"
)

// Notifier delivers alerts to the admin channel.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// jobRetention is how long finished pipeline jobs are kept, in days.
const jobRetention = 7

// JobRunner drains the pipeline job queue: health checks, cleanup passes
// and alert dispatch. Process-submission jobs are acknowledgements of
// sensor output; the stage pools do the actual dispatch.
type JobRunner struct {
	store     *jobstore.Store
	artifacts *artifact.Store
	vectors   *vectorstore.Store
	alerting  *config.AlertingConfig
	notifier  Notifier
	cfg       *config.QueueConfig
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewJobRunner builds the job runner. notifier may be nil; alerts then stay
// queued until a notifier comes up.
func NewJobRunner(store *jobstore.Store, artifacts *artifact.Store, vectors *vectorstore.Store, alerting *config.AlertingConfig, cfg *config.QueueConfig, notifier Notifier) *JobRunner {
	return &JobRunner{
		store:     store,
		artifacts: artifacts,
		vectors:   vectors,
		alerting:  alerting,
		notifier:  notifier,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start begins draining jobs in a goroutine.
func (r *JobRunner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.drain(ctx)
			}
		}
	}()
	slog.Info("Job runner started")
}

// Stop halts the job runner after the current job.
func (r *JobRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *JobRunner) drain(ctx context.Context) {
	for {
		job, err := r.store.ClaimJob(ctx)
		if errors.Is(err, jobstore.ErrNothingClaimable) {
			return
		}
		if err != nil {
			slog.Error("Claiming pipeline job failed", "error", err)
			return
		}
		runErr := r.runJob(ctx, job)
		if err := r.store.FinishJob(ctx, job.ID, runErr); err != nil {
			slog.Error("Finishing pipeline job failed", "job_id", job.ID, "error", err)
		}
		if runErr != nil {
			slog.Error("Pipeline job failed", "job_id", job.ID, "kind", job.Kind, "error", runErr)
		}
	}
}

func (r *JobRunner) runJob(ctx context.Context, job *models.PipelineJob) error {
	switch job.Kind {
	case models.JobProcessSubmission:
		return r.runProcessSubmission(ctx, job)
	case models.JobHealthCheck:
		return r.RunHealthCheck(ctx)
	case models.JobCleanup:
		return r.RunCleanup(ctx)
	case models.JobAlertDispatch:
		return r.runAlertDispatch(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// runProcessSubmission acknowledges a sensor-enqueued submission. The stage
// pools claim work directly; this records that the sensor saw it.
func (r *JobRunner) runProcessSubmission(ctx context.Context, job *models.PipelineJob) error {
	payload, err := models.DecodePayload[models.ProcessSubmissionPayload](job)
	if err != nil {
		return err
	}
	sub, err := r.store.Get(ctx, payload.SubmissionID)
	if err != nil {
		return err
	}
	slog.Debug("Submission visible to scheduler",
		"submission_id", sub.ID, "stage", sub.Stage, "status", sub.Status)
	return nil
}

// RunHealthCheck computes pipeline metrics and raises alerts on breached
// thresholds.
func (r *JobRunner) RunHealthCheck(ctx context.Context) error {
	failureRate, err := r.store.FailureRate(ctx, r.alerting.FailureRateWindow)
	if err != nil {
		return err
	}
	backlog, err := r.store.BacklogSize(ctx)
	if err != nil {
		return err
	}
	expiries, err := r.store.LeaseExpiryCount(ctx, time.Hour)
	if err != nil {
		return err
	}

	slog.Info("Health check",
		"failure_rate", fmt.Sprintf("%.2f", failureRate),
		"backlog", backlog,
		"lease_expiries_1h", expiries)

	if r.alerting.FailureRateMax > 0 && failureRate > r.alerting.FailureRateMax {
		if _, err := r.store.RaiseAlert(ctx, models.SeverityError, "failure-rate",
			fmt.Sprintf("pipeline failure rate %.2f exceeds %.2f over %s",
				failureRate, r.alerting.FailureRateMax, r.alerting.FailureRateWindow)); err != nil {
			return err
		}
	}
	if r.alerting.BacklogMax > 0 && backlog > int64(r.alerting.BacklogMax) {
		if _, err := r.store.RaiseAlert(ctx, models.SeverityWarning, "backlog",
			fmt.Sprintf("pipeline backlog %d exceeds %d", backlog, r.alerting.BacklogMax)); err != nil {
			return err
		}
	}
	if r.alerting.LeaseExpiriesPerHour > 0 && expiries > int64(r.alerting.LeaseExpiriesPerHour) {
		if _, err := r.store.RaiseAlert(ctx, models.SeverityWarning, "lease-expiries",
			fmt.Sprintf("%d lease expiries in the last hour exceeds %d",
				expiries, r.alerting.LeaseExpiriesPerHour)); err != nil {
			return err
		}
	}
	return nil
}

// RunCleanup deletes artifacts and vectors of archived submissions and
// prunes old finished jobs.
func (r *JobRunner) RunCleanup(ctx context.Context) error {
	archived, err := r.store.ListArchived(ctx, 50)
	if err != nil {
		return err
	}
	for _, sub := range archived {
		for _, rel := range []string{sub.AudioPath, sub.TranscriptPath, sub.ChunksPath} {
			if err := r.artifacts.Delete(rel); err != nil {
				return err
			}
		}
		if r.vectors != nil && sub.ChunkCount > 0 {
			if err := r.vectors.DeleteSubmission(ctx, sub.ID); err != nil {
				return err
			}
		}
		if err := r.store.ClearArtifactRefs(ctx, sub.ID); err != nil {
			return err
		}
		slog.Info("Archived submission cleaned", "submission_id", sub.ID)
	}

	pruned, err := r.store.PruneJobs(ctx, jobRetention)
	if err != nil {
		return err
	}
	if pruned > 0 {
		slog.Info("Old pipeline jobs pruned", "count", pruned)
	}
	return nil
}

// runAlertDispatch forwards the payload's alerts to the notifier.
func (r *JobRunner) runAlertDispatch(ctx context.Context, job *models.PipelineJob) error {
	payload, err := models.DecodePayload[models.AlertDispatchPayload](job)
	if err != nil {
		return err
	}
	if r.notifier == nil {
		return errors.New("no notifier configured")
	}

	alerts, err := r.store.UndispatchedAlerts(ctx)
	if err != nil {
		return err
	}
	wanted := make(map[int64]bool, len(payload.AlertIDs))
	for _, id := range payload.AlertIDs {
		wanted[id] = true
	}

	var delivered []int64
	for _, alert := range alerts {
		if !wanted[alert.ID] {
			continue
		}
		if err := r.notifier.Notify(ctx, alert); err != nil {
			// Leave undelivered alerts queued for the next dispatch pass.
			slog.Error("Alert delivery failed", "alert_id", alert.ID, "error", err)
			continue
		}
		delivered = append(delivered, alert.ID)
	}
	return r.store.MarkAlertsDispatched(ctx, delivered)
}
