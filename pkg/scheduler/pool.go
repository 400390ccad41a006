// Package scheduler runs the control loop of the ingestion pipeline: stage
// worker pools claiming submissions, sensors enqueueing pipeline jobs, a job
// runner executing them, and the sweep that reclaims expired leases.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiorag/audiorag/pkg/config"
	"github.com/audiorag/audiorag/pkg/jobstore"
	"github.com/audiorag/audiorag/pkg/pipeline"
)

// PoolHealth is the pool's aggregate health snapshot.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	DBReachable   bool           `json:"db_reachable"`
	DBError       string         `json:"db_error,omitempty"`
	NodeID        string         `json:"node_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	Backlog       int64          `json:"backlog"`
	Running       int64          `json:"running"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
	LastSweep     time.Time      `json:"last_sweep"`
	SweptClaims   int            `json:"swept_claims"`
}

// Pool owns the stage workers and the sweep loop.
type Pool struct {
	nodeID    string
	store     *jobstore.Store
	cfg       *config.QueueConfig
	executors []pipeline.StageExecutor
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Cancellation registry: submission id → stage context cancel.
	active map[int64]context.CancelFunc
	mu     sync.RWMutex

	sweepMu     sync.Mutex
	lastSweep   time.Time
	sweptClaims int

	started bool
}

// NewPool creates a worker pool for the given stage executors.
func NewPool(nodeID string, store *jobstore.Store, cfg *config.QueueConfig, executors []pipeline.StageExecutor) *Pool {
	return &Pool{
		nodeID:    nodeID,
		store:     store,
		cfg:       cfg,
		executors: executors,
		stopCh:    make(chan struct{}),
		active:    make(map[int64]context.CancelFunc),
	}
}

// Start spawns the per-stage workers and the sweep loop. Subsequent calls
// are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "node_id", p.nodeID)
		return nil
	}
	p.started = true
	p.store.SetClaimLease(p.cfg.ClaimLease)

	for _, executor := range p.executors {
		kind := executor.Kind()
		count := p.cfg.StageConcurrency[string(kind)]
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			workerID := fmt.Sprintf("%s-%s-%d", p.nodeID, kind, i)
			worker := NewWorker(workerID, p.store, p.cfg, executor, p)
			p.workers = append(p.workers, worker)
			worker.Start(ctx)
		}
		slog.Info("Stage pool started", "kind", kind, "workers", count)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweep(ctx)
	}()

	slog.Info("Worker pool started", "node_id", p.nodeID, "workers", len(p.workers))
	return nil
}

// Stop signals all workers to stop and waits for in-flight stages to finish.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	if active := p.activeSubmissionIDs(); len(active) > 0 {
		slog.Info("Waiting for in-flight stages to complete",
			"count", len(active), "submission_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterSubmission stores a cancel function for cooperative cancellation.
func (p *Pool) RegisterSubmission(id int64, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] = cancel
}

// UnregisterSubmission removes the cancel function when the stage ends.
func (p *Pool) UnregisterSubmission(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// CancelSubmission cancels the stage context of an in-flight submission.
// Returns false when the submission is not running on this node.
func (p *Pool) CancelSubmission(id int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.active[id]; ok {
		cancel()
		return true
	}
	return false
}

// runSweep periodically reclaims expired leases, finalizes cancel requests
// and signals in-flight cancellations.
func (p *Pool) runSweep(ctx context.Context) {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context) {
	swept, err := p.store.SweepExpiredClaims(ctx)
	if err != nil {
		slog.Error("Claim sweep failed", "error", err)
	} else if swept > 0 {
		slog.Warn("Reclaimed expired claims", "count", swept)
	}

	cancelled, err := p.store.ApplyCancellations(ctx)
	if err != nil {
		slog.Error("Applying cancellations failed", "error", err)
	} else if len(cancelled) > 0 {
		slog.Info("Cancelled pending submissions", "submission_ids", cancelled)
	}

	running, err := p.store.RunningCancelRequests(ctx)
	if err != nil {
		slog.Error("Listing running cancel requests failed", "error", err)
	} else {
		for _, id := range running {
			if p.CancelSubmission(id) {
				slog.Info("Signalled in-flight cancellation", "submission_id", id)
			}
		}
	}

	p.sweepMu.Lock()
	p.lastSweep = time.Now()
	p.sweptClaims += swept
	p.sweepMu.Unlock()
}

// Health returns the pool health snapshot for the status surface.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
	backlog, errB := p.store.BacklogSize(ctx)
	running, errR := p.store.RunningCount(ctx)

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		workerStats[i] = worker.Health()
		if workerStats[i].Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	dbHealthy := errB == nil && errR == nil
	var dbError string
	if errB != nil {
		dbError = fmt.Sprintf("backlog query failed: %v", errB)
	} else if errR != nil {
		dbError = fmt.Sprintf("running query failed: %v", errR)
	}

	p.sweepMu.Lock()
	lastSweep, swept := p.lastSweep, p.sweptClaims
	p.sweepMu.Unlock()

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && dbHealthy,
		DBReachable:   dbHealthy,
		DBError:       dbError,
		NodeID:        p.nodeID,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		Backlog:       backlog,
		Running:       running,
		WorkerStats:   workerStats,
		LastSweep:     lastSweep,
		SweptClaims:   swept,
	}
}

func (p *Pool) activeSubmissionIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
