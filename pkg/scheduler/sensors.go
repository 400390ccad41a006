package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/models"
)

// audioExtensions are the file types the audio-file sensor picks up.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true,
	".opus": true, ".aac": true, ".webm": true,
}

// Sensors periodically inspect external state and the job store, and enqueue
// pipeline jobs. All effects go through the job store; re-running a sensor
// against unchanged state enqueues nothing new.
type Sensors struct {
	store     *jobstore.Store
	cfg       *config.SensorConfig
	ingest    *config.IngestConfig
	dataRoot  string
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	nowFn     func() time.Time
	lastRunMu sync.Mutex
	lastRun   map[string]time.Time
}

// NewSensors builds the sensor loop.
func NewSensors(store *jobstore.Store, cfg *config.SensorConfig, ingest *config.IngestConfig, dataRoot string) *Sensors {
	return &Sensors{
		store:    store,
		cfg:      cfg,
		ingest:   ingest,
		dataRoot: dataRoot,
		stopCh:   make(chan struct{}),
		nowFn:    time.Now,
		lastRun:  make(map[string]time.Time),
	}
}

// Start begins the sensor loop. The loop wakes every second and runs any
// sensor whose interval has elapsed.
func (s *Sensors) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	slog.Info("Sensors started",
		"url_interval", s.cfg.URLInterval,
		"audio_file_interval", s.cfg.AudioFileInterval,
		"health_interval", s.cfg.HealthInterval)
}

// Stop halts the sensor loop.
func (s *Sensors) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sensors) tick(ctx context.Context) {
	s.runDue(ctx, "url", s.cfg.URLInterval, s.urlSensor)
	s.runDue(ctx, "audio-file", s.cfg.AudioFileInterval, s.audioFileSensor)
	s.runDue(ctx, "health", s.cfg.HealthInterval, s.healthSensor)
	s.runDue(ctx, "cleanup", s.cfg.CleanupInterval, s.cleanupSensor)
	s.runDue(ctx, "alert-dispatch", s.cfg.AlertDispatchInterval, s.alertDispatchSensor)
}

func (s *Sensors) runDue(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	s.lastRunMu.Lock()
	last := s.lastRun[name]
	due := s.nowFn().Sub(last) >= interval
	if due {
		s.lastRun[name] = s.nowFn()
	}
	s.lastRunMu.Unlock()
	if !due {
		return
	}
	if err := fn(ctx); err != nil {
		slog.Error("Sensor pass failed", "sensor", name, "error", err)
	}
}

// urlSensor enqueues a process-submission job for every queued pending
// submission. The run key includes the attempt counter so a retried
// submission produces a fresh key while an unchanged one does not.
func (s *Sensors) urlSensor(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx, models.WorkDownload, 0)
	if err != nil {
		return err
	}
	now := s.nowFn()
	for _, sub := range pending {
		runKey := fmt.Sprintf("process:%d:%d", sub.ID, sub.Attempts)
		created, err := s.store.EnqueueJob(ctx, models.JobProcessSubmission, runKey,
			models.ProcessSubmissionPayload{SubmissionID: sub.ID, EvaluationTime: now}, sub.Priority)
		if err != nil {
			return err
		}
		if created {
			slog.Debug("Submission job enqueued", "submission_id", sub.ID)
		}
	}
	return nil
}

// audioFileSensor scans the watched ingress directory and inserts a
// local-file submission for each unseen audio file. Files are registered by
// path and content fingerprint so re-scans are idempotent.
func (s *Sensors) audioFileSensor(ctx context.Context) error {
	dir := s.ingest.IngressDir
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scanning ingress directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		fresh, err := s.store.RegisterIngressFile(ctx, path, ingressFingerprint(path, info.Size(), info.ModTime()), info.Size())
		if err != nil {
			return err
		}
		if !fresh {
			continue
		}

		_, err = s.store.InsertSubmission(ctx, jobstore.InsertInput{
			SourceKind: models.SourceLocalFile,
			Source:     path,
			UserID:     "ingress",
		})
		switch {
		case err == nil:
			slog.Info("Ingress file submitted", "path", path, "bytes", info.Size())
		case isExpectedInsertReject(err):
			slog.Debug("Ingress file skipped", "path", path, "reason", err)
		default:
			return err
		}
	}
	return nil
}

func isExpectedInsertReject(err error) bool {
	return errors.Is(err, jobstore.ErrDuplicateSource) || errors.Is(err, jobstore.ErrBackpressure)
}

// ingressFingerprint hashes (path, size, mtime) so an in-place rewrite of a
// file registers as new content.
func ingressFingerprint(path string, size int64, mtime time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", path, size, mtime.UnixNano())))
	return hex.EncodeToString(sum[:16])
}

// healthSensor enqueues one health-check job per interval window.
func (s *Sensors) healthSensor(ctx context.Context) error {
	now := s.nowFn()
	window := now.Truncate(s.cfg.HealthInterval)
	runKey := fmt.Sprintf("health:%s", window.UTC().Format(time.RFC3339))
	_, err := s.store.EnqueueJob(ctx, models.JobHealthCheck, runKey,
		models.HealthCheckPayload{EvaluationTime: now}, 0)
	return err
}

// cleanupSensor enqueues a cleanup job when the artifact store exceeds the
// storage cap or archived submissions still hold artifacts.
func (s *Sensors) cleanupSensor(ctx context.Context) error {
	archived, err := s.store.ListArchived(ctx, 1)
	if err != nil {
		return err
	}

	var total int64
	if s.cfg.StorageCapBytes > 0 || len(archived) > 0 {
		total = dirSize(s.dataRoot)
	}

	capExceeded := s.cfg.StorageCapBytes > 0 && total > s.cfg.StorageCapBytes
	if !capExceeded && len(archived) == 0 {
		return nil
	}

	now := s.nowFn()
	window := now.Truncate(s.cfg.CleanupInterval)
	runKey := fmt.Sprintf("cleanup:%s", window.UTC().Format(time.RFC3339))
	_, err = s.store.EnqueueJob(ctx, models.JobCleanup, runKey,
		models.CleanupPayload{EvaluationTime: now, TotalBytes: total}, 0)
	return err
}

// alertDispatchSensor enqueues a dispatch job when undelivered alerts exist.
// The run key is derived from the alert id set, so the same pending alerts
// enqueue exactly one job.
func (s *Sensors) alertDispatchSensor(ctx context.Context) error {
	alerts, err := s.store.UndispatchedAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(alerts))
	for _, a := range alerts {
		if a.Severity.AtLeast(models.SeverityWarning) {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", ids)))
	runKey := "alerts:" + hex.EncodeToString(sum[:8])
	_, err = s.store.EnqueueJob(ctx, models.JobAlertDispatch, runKey,
		models.AlertDispatchPayload{AlertIDs: ids, EvaluationTime: s.nowFn()}, 0)
	return err
}

// dirSize walks the tree under root and sums file sizes. Best effort: walk
// errors yield a partial total.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
