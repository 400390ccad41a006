package config

import "time"

// QueueConfig contains scheduler and worker pool configuration.
// These values control how submissions are claimed and processed.
type QueueConfig struct {
	// StageConcurrency is the worker count per stage kind.
	// Keys: download, transcribe, chunk, embed, index.
	StageConcurrency map[string]int `yaml:"stage_concurrency"`

	// GlobalTaskCeiling bounds the total number of in-flight stage
	// executions across all pools.
	GlobalTaskCeiling int `yaml:"global_task_ceiling"`

	// TickInterval is the base interval for claim polling and sensor checks.
	TickInterval time.Duration `yaml:"tick_interval"`

	// TickJitter is the random jitter added to TickInterval.
	// Actual interval: TickInterval ± TickJitter.
	TickJitter time.Duration `yaml:"tick_jitter"`

	// ClaimLease is how long a worker may hold a submission before the
	// sweeper reclaims it.
	ClaimLease time.Duration `yaml:"claim_lease"`

	// HeartbeatInterval is how often a working stage extends its claim.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SweepInterval is how often expired claims are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// GracefulShutdownTimeout is the maximum time to wait for in-flight
	// stage executions during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in scheduler defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		StageConcurrency: map[string]int{
			"download":   2,
			"transcribe": 1,
			"chunk":      2,
			"embed":      4,
			"index":      2,
		},
		GlobalTaskCeiling:       8,
		TickInterval:            1 * time.Second,
		TickJitter:              500 * time.Millisecond,
		ClaimLease:              10 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		SweepInterval:           30 * time.Second,
		GracefulShutdownTimeout: 2 * time.Minute,
	}
}
