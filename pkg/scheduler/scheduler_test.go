package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorag/audiorag/pkg/artifact"
	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
	"github.com/audiorag/audiorag/pkg/pipeline"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		StageConcurrency:        map[string]int{"download": 2, "transcribe": 1, "chunk": 1, "embed": 1, "index": 1},
		GlobalTaskCeiling:       8,
		TickInterval:            10 * time.Millisecond,
		TickJitter:              0,
		ClaimLease:              time.Minute,
		HeartbeatInterval:       20 * time.Millisecond,
		SweepInterval:           20 * time.Millisecond,
		GracefulShutdownTimeout: 5 * time.Second,
	}
}

func newSchedulerStore(t *testing.T) *jobstore.Store {
	t.Helper()
	cfg := &config.IngestConfig{
		DedupWindow: time.Hour, HighWaterMark: 100,
		MaxAttempts: 3, RetryBase: 10 * time.Millisecond, RetryCap: time.Second,
	}
	s, err := jobstore.Open(filepath.Join(t.TempDir(), "jobstore.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertURL(t *testing.T, s *jobstore.Store, url string) *models.Submission {
	t.Helper()
	sub, err := s.InsertSubmission(context.Background(), jobstore.InsertInput{
		SourceKind: models.SourceRemoteURL, Source: url, UserID: "u1",
	})
	require.NoError(t, err)
	return sub
}

// blockingExecutor parks each execution until released, tracking the peak
// number of simultaneous executions.
type blockingExecutor struct {
	kind    models.WorkKind
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
}

func (e *blockingExecutor) Kind() models.WorkKind { return e.kind }

func (e *blockingExecutor) Execute(ctx context.Context, _ string, _ *models.Submission) (jobstore.CompleteUpdate, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	e.mu.Lock()
	if n > e.peak.Load() {
		e.peak.Store(n)
	}
	e.mu.Unlock()

	select {
	case <-e.release:
		return jobstore.CompleteUpdate{}, nil
	case <-ctx.Done():
		return jobstore.CompleteUpdate{}, pipeline.NewStageError(pipeline.ErrKindCancelled, false, ctx.Err())
	}
}

type instantExecutor struct {
	kind models.WorkKind
	err  error
	runs atomic.Int32
}

func (e *instantExecutor) Kind() models.WorkKind { return e.kind }

func (e *instantExecutor) Execute(context.Context, string, *models.Submission) (jobstore.CompleteUpdate, error) {
	e.runs.Add(1)
	if e.err != nil {
		return jobstore.CompleteUpdate{}, e.err
	}
	return jobstore.CompleteUpdate{}, nil
}

func TestPoolAdvancesSubmission(t *testing.T) {
	store := newSchedulerStore(t)
	sub := insertURL(t, store, "https://example.com/a")

	exec := &instantExecutor{kind: models.WorkDownload}
	pool := NewPool("n1", store, testQueueConfig(), []pipeline.StageExecutor{exec})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), sub.ID)
		return err == nil && got.Stage == models.StageDownloaded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoolRespectsStageConcurrency(t *testing.T) {
	store := newSchedulerStore(t)
	for _, u := range []string{"https://e.com/1", "https://e.com/2", "https://e.com/3", "https://e.com/4"} {
		insertURL(t, store, u)
	}

	exec := &blockingExecutor{kind: models.WorkDownload, release: make(chan struct{})}
	pool := NewPool("n1", store, testQueueConfig(), []pipeline.StageExecutor{exec})
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool {
		return exec.active.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Hold for a few ticks: the third claim must not happen.
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 2, exec.active.Load())
	assert.EqualValues(t, 2, exec.peak.Load())

	close(exec.release)
	pool.Stop()

	running, err := store.RunningCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, running, "graceful stop finishes in-flight stages")
}

func TestPoolStageFailureRecorded(t *testing.T) {
	store := newSchedulerStore(t)
	sub := insertURL(t, store, "https://example.com/bad")

	exec := &instantExecutor{
		kind: models.WorkDownload,
		err:  pipeline.NewStageError(pipeline.ErrKindDownload, false, errors.New("404")),
	}
	pool := NewPool("n1", store, testQueueConfig(), []pipeline.StageExecutor{exec})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), sub.ID)
		return err == nil && got.Stage == models.StageFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ErrKindDownload, got.ErrorKind)
	assert.Equal(t, "404", got.ErrorMessage)
}

func TestPoolCancellation(t *testing.T) {
	store := newSchedulerStore(t)
	sub := insertURL(t, store, "https://example.com/cancel")

	exec := &blockingExecutor{kind: models.WorkDownload, release: make(chan struct{})}
	pool := NewPool("n1", store, testQueueConfig(), []pipeline.StageExecutor{exec})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		return exec.active.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.RequestCancel(context.Background(), sub.ID))

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), sub.ID)
		return err == nil && got.Stage == models.StageCancelled
	}, 2*time.Second, 10*time.Millisecond, "sweep signals the worker, worker lands cancelled")
}

func TestPoolHealth(t *testing.T) {
	store := newSchedulerStore(t)
	exec := &instantExecutor{kind: models.WorkDownload}
	pool := NewPool("n1", store, testQueueConfig(), []pipeline.StageExecutor{exec})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	h := pool.Health(context.Background())
	assert.True(t, h.IsHealthy)
	assert.True(t, h.DBReachable)
	assert.Equal(t, "n1", h.NodeID)
	assert.Equal(t, 2, h.TotalWorkers)
}

type noopRegistry struct{}

func (noopRegistry) RegisterSubmission(int64, context.CancelFunc) {}
func (noopRegistry) UnregisterSubmission(int64)                   {}

func TestWorkerCountsProcessed(t *testing.T) {
	store := newSchedulerStore(t)
	insertURL(t, store, "https://example.com/a")
	insertURL(t, store, "https://example.com/b")

	exec := &instantExecutor{kind: models.WorkDownload}
	w := NewWorker("w1", store, testQueueConfig(), exec, noopRegistry{})

	require.NoError(t, w.pollAndProcess(context.Background()))
	require.NoError(t, w.pollAndProcess(context.Background()))
	assert.Equal(t, 2, w.Health().Processed)

	// Failed stages count as processed too.
	insertURL(t, store, "https://example.com/c")
	exec.err = pipeline.NewStageError(pipeline.ErrKindDownload, false, errors.New("boom"))
	require.NoError(t, w.pollAndProcess(context.Background()))
	assert.Equal(t, 3, w.Health().Processed)
}

func sensorConfig() *config.SensorConfig {
	return &config.SensorConfig{
		URLInterval:           time.Second,
		AudioFileInterval:     time.Second,
		HealthInterval:        5 * time.Minute,
		CleanupInterval:       time.Hour,
		AlertDispatchInterval: time.Second,
	}
}

func TestHealthSensorIdempotent(t *testing.T) {
	store := newSchedulerStore(t)
	s := NewSensors(store, sensorConfig(), &config.IngestConfig{}, t.TempDir())

	fixed := time.Date(2026, 8, 26, 10, 2, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixed }

	require.NoError(t, s.healthSensor(context.Background()))
	require.NoError(t, s.healthSensor(context.Background()))

	job, err := store.ClaimJob(context.Background(), models.JobHealthCheck)
	require.NoError(t, err)
	require.NoError(t, store.FinishJob(context.Background(), job.ID, nil))

	_, err = store.ClaimJob(context.Background(), models.JobHealthCheck)
	assert.ErrorIs(t, err, jobstore.ErrNothingClaimable, "same window enqueues one job")
}

func TestURLSensor(t *testing.T) {
	store := newSchedulerStore(t)
	sub := insertURL(t, store, "https://example.com/s")
	s := NewSensors(store, sensorConfig(), &config.IngestConfig{}, t.TempDir())

	require.NoError(t, s.urlSensor(context.Background()))
	require.NoError(t, s.urlSensor(context.Background()))

	job, err := store.ClaimJob(context.Background(), models.JobProcessSubmission)
	require.NoError(t, err)
	payload, err := models.DecodePayload[models.ProcessSubmissionPayload](job)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, payload.SubmissionID)

	_, err = store.ClaimJob(context.Background(), models.JobProcessSubmission)
	assert.ErrorIs(t, err, jobstore.ErrNothingClaimable)
}

func TestAudioFileSensor(t *testing.T) {
	store := newSchedulerStore(t)
	ingress := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "talk.mp3"), []byte("audio"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "notes.txt"), []byte("skip"), 0o644))

	s := NewSensors(store, sensorConfig(), &config.IngestConfig{IngressDir: ingress}, t.TempDir())

	require.NoError(t, s.audioFileSensor(context.Background()))
	require.NoError(t, s.audioFileSensor(context.Background()))

	subs, err := store.ListPending(context.Background(), models.WorkDownload, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1, "re-scan must not resubmit; non-audio files ignored")
	assert.Equal(t, models.SourceLocalFile, subs[0].SourceKind)
	assert.Equal(t, "ingress", subs[0].UserID)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, a models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func alertingConfig() *config.AlertingConfig {
	return &config.AlertingConfig{
		FailureRateWindow:    24 * time.Hour,
		FailureRateMax:       0.5,
		BacklogMax:           100,
		LeaseExpiriesPerHour: 5,
	}
}

// driveToIndexed walks one submission through all five stages.
func driveToIndexed(t *testing.T, store *jobstore.Store, id int64, upd map[models.WorkKind]jobstore.CompleteUpdate) {
	t.Helper()
	ctx := context.Background()
	for _, kind := range []models.WorkKind{
		models.WorkDownload, models.WorkTranscribe, models.WorkChunk,
		models.WorkEmbed, models.WorkIndex,
	} {
		claimed, err := store.Claim(ctx, "driver", kind)
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)
		require.NoError(t, store.Complete(ctx, id, "driver", kind, upd[kind]))
	}
}

// driveToFailed claims the download stage and fails it permanently.
func driveToFailed(t *testing.T, store *jobstore.Store, id int64) {
	t.Helper()
	ctx := context.Background()
	claimed, err := store.Claim(ctx, "driver", models.WorkDownload)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)
	require.NoError(t, store.Fail(ctx, id, "driver", models.WorkDownload, pipeline.ErrKindDownload, "boom", false))
}

func newJobRunner(t *testing.T, store *jobstore.Store, notifier Notifier) (*JobRunner, *artifact.Store) {
	t.Helper()
	artifacts, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewJobRunner(store, artifacts, nil, alertingConfig(), testQueueConfig(), notifier), artifacts
}

func TestHealthCheckRaisesFailureRateAlert(t *testing.T) {
	store := newSchedulerStore(t)
	runner, _ := newJobRunner(t, store, &fakeNotifier{})
	ctx := context.Background()

	// Two failed, one indexed: rate 0.67 breaches the 0.5 threshold.
	driveToFailed(t, store, insertURL(t, store, "https://e.com/ha").ID)
	driveToFailed(t, store, insertURL(t, store, "https://e.com/hb").ID)
	driveToIndexed(t, store, insertURL(t, store, "https://e.com/hc").ID, nil)

	require.NoError(t, runner.RunHealthCheck(ctx))

	alerts, err := store.UndispatchedAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "failure-rate", alerts[0].Kind)
	assert.Equal(t, models.SeverityError, alerts[0].Severity)
}

func TestHealthCheckQuietWhenHealthy(t *testing.T) {
	store := newSchedulerStore(t)
	runner, _ := newJobRunner(t, store, &fakeNotifier{})

	require.NoError(t, runner.RunHealthCheck(context.Background()))
	alerts, err := store.UndispatchedAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestAlertDispatch(t *testing.T) {
	store := newSchedulerStore(t)
	notifier := &fakeNotifier{}
	runner, _ := newJobRunner(t, store, notifier)
	ctx := context.Background()

	alert, err := store.RaiseAlert(ctx, models.SeverityWarning, "backlog", "backlog 120 exceeds 100")
	require.NoError(t, err)

	payload := models.AlertDispatchPayload{AlertIDs: []int64{alert.ID}, EvaluationTime: time.Now()}
	_, err = store.EnqueueJob(ctx, models.JobAlertDispatch, "alerts:test", payload, 0)
	require.NoError(t, err)

	job, err := store.ClaimJob(ctx, models.JobAlertDispatch)
	require.NoError(t, err)
	require.NoError(t, runner.runJob(ctx, job))

	assert.Len(t, notifier.alerts, 1)
	remaining, err := store.UndispatchedAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCleanupRemovesArchivedArtifacts(t *testing.T) {
	store := newSchedulerStore(t)
	runner, artifacts := newJobRunner(t, store, &fakeNotifier{})
	ctx := context.Background()

	sub := insertURL(t, store, "https://example.com/old")
	rel, err := artifacts.PutJSON(artifact.DirTranscripts, "old.json", map[string]string{"k": "v"})
	require.NoError(t, err)
	driveToIndexed(t, store, sub.ID, map[models.WorkKind]jobstore.CompleteUpdate{
		models.WorkTranscribe: {TranscriptPath: rel},
	})
	require.NoError(t, store.Archive(ctx, sub.ID))

	require.NoError(t, runner.RunCleanup(ctx))

	_, err = artifacts.Open(rel)
	assert.Error(t, err, "archived artifact file removed")

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TranscriptPath)

	t.Run("second pass is a no-op", func(t *testing.T) {
		assert.NoError(t, runner.RunCleanup(ctx))
	})
}
