package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/pipeline"
)

// WorkerStatus represents the current state of a stage worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                  string       `json:"id"`
	Kind                string       `json:"kind"`
	Status              WorkerStatus `json:"status"`
	CurrentSubmissionID int64        `json:"current_submission_id,omitempty"`
	Processed           int          `json:"processed"`
	LastActivity        time.Time    `json:"last_activity"`
}

// submissionRegistry is the subset of Pool used by workers for cancellation
// registration.
type submissionRegistry interface {
	RegisterSubmission(id int64, cancel context.CancelFunc)
	UnregisterSubmission(id int64)
}

// Worker polls for claimable submissions of one stage kind and runs the
// stage executor against each claim.
type Worker struct {
	id       string
	store    *jobstore.Store
	cfg      *config.QueueConfig
	executor pipeline.StageExecutor
	pool     submissionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	status       WorkerStatus
	currentSubID int64
	processed    int
	lastActivity time.Time
}

// NewWorker creates a stage worker.
func NewWorker(id string, store *jobstore.Store, cfg *config.QueueConfig, executor pipeline.StageExecutor, pool submissionRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		cfg:          cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current claim to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                  w.id,
		Kind:                string(w.executor.Kind()),
		Status:              w.status,
		CurrentSubmissionID: w.currentSubID,
		Processed:           w.processed,
		LastActivity:        w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "kind", w.executor.Kind())
	log.Info("Stage worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Stage worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, stage worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, jobstore.ErrNothingClaimable) || errors.Is(err, errAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing submission", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

var errAtCapacity = errors.New("global task ceiling reached")

// pollAndProcess checks the global ceiling, claims one submission for this
// worker's stage kind, and runs the stage.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	if w.cfg.GlobalTaskCeiling > 0 {
		// Best-effort check; bounded by worker counts and mitigated by jitter.
		running, err := w.store.RunningCount(ctx)
		if err != nil {
			return fmt.Errorf("checking running count: %w", err)
		}
		if running >= int64(w.cfg.GlobalTaskCeiling) {
			return errAtCapacity
		}
	}

	sub, err := w.store.Claim(ctx, w.id, w.executor.Kind())
	if err != nil {
		return err
	}

	log := slog.With("submission_id", sub.ID, "worker_id", w.id, "kind", w.executor.Kind())
	log.Info("Submission claimed", "stage", sub.Stage, "attempts", sub.Attempts)

	w.setStatus(WorkerStatusWorking, sub.ID)
	defer w.setStatus(WorkerStatusIdle, 0)

	stageCtx, cancelStage := context.WithCancel(ctx)
	defer cancelStage()

	w.pool.RegisterSubmission(sub.ID, cancelStage)
	defer w.pool.UnregisterSubmission(sub.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(stageCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, sub.ID)

	start := time.Now()
	upd, execErr := w.executor.Execute(stageCtx, w.id, sub)
	cancelHeartbeat()

	// Terminal writes use a fresh context: the stage context may be cancelled.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFinish()

	if execErr != nil {
		// A cancelled stage context means the cancel request won the race.
		if stageCtx.Err() != nil && ctx.Err() == nil {
			execErr = pipeline.NewStageError(pipeline.ErrKindCancelled, false, stageCtx.Err())
		}
		se := pipeline.AsStageError(execErr, string(w.executor.Kind()))
		log.Warn("Stage failed",
			"error_kind", se.Kind,
			"retriable", se.Retriable,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", se.Err)
		if err := w.store.Fail(finishCtx, sub.ID, w.id, w.executor.Kind(), se.Kind, se.Err.Error(), se.Retriable); err != nil {
			return fmt.Errorf("recording stage failure: %w", err)
		}
		w.bumpProcessed()
		return nil
	}

	if err := w.store.Complete(finishCtx, sub.ID, w.id, w.executor.Kind(), upd); err != nil {
		return fmt.Errorf("recording stage completion: %w", err)
	}
	w.bumpProcessed()

	log.Info("Stage complete",
		"next_stage", w.executor.Kind().CompletesTo(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// runHeartbeat extends the claim lease while the stage runs.
func (w *Worker) runHeartbeat(ctx context.Context, submissionID int64) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, submissionID, w.id); err != nil {
				slog.Warn("Heartbeat failed", "submission_id", submissionID, "error", err)
			}
		}
	}
}

// sleep waits for the duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the tick interval with jitter so workers do not poll
// in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.TickInterval
	jitter := w.cfg.TickJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, subID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSubID = subID
	w.lastActivity = time.Now()
}

func (w *Worker) bumpProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed++
	w.lastActivity = time.Now()
}
