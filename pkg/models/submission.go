// Package models defines the persistent domain records shared by the job
// store, scheduler, workers, and transports.
package models

import (
	"time"
)

// SourceKind identifies where a submission's media comes from.
type SourceKind string

// Source kind constants.
const (
	SourceRemoteURL SourceKind = "remote-url"
	SourceLocalFile SourceKind = "local-file"
)

// Stage is the pipeline position of a submission. Stages advance strictly
// forward; failed and cancelled are terminal and reachable from any
// non-terminal stage.
type Stage string

// Pipeline stages in order.
const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageDownloaded   Stage = "downloaded"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageChunking     Stage = "chunking"
	StageChunked      Stage = "chunked"
	StageEmbedding    Stage = "embedding"
	StageEmbedded     Stage = "embedded"
	StageIndexed      Stage = "indexed"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

var stageOrder = map[Stage]int{
	StageQueued:       0,
	StageDownloading:  1,
	StageDownloaded:   2,
	StageTranscribing: 3,
	StageTranscribed:  4,
	StageChunking:     5,
	StageChunked:      6,
	StageEmbedding:    7,
	StageEmbedded:     8,
	StageIndexed:      9,
}

// Ordinal returns the position of the stage in the pipeline.
// Terminal stages report the ordinal of the last pipeline stage.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return stageOrder[StageIndexed]
}

// Percent maps the stage ordinal onto a 0-100 progress value.
func (s Stage) Percent() int {
	if s == StageFailed || s == StageCancelled {
		return 100
	}
	return s.Ordinal() * 100 / stageOrder[StageIndexed]
}

// Terminal reports whether the stage is final.
func (s Stage) Terminal() bool {
	return s == StageIndexed || s == StageFailed || s == StageCancelled
}

// Status is the worker state within the current stage, orthogonal to Stage.
type Status string

// Status constants.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Submission is a user request to ingest one media source. Created by any
// interface, mutated only by the scheduler and stage workers, never deleted.
type Submission struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceKind   SourceKind `gorm:"index" json:"source_kind"`
	Source       string     `gorm:"index" json:"source"`
	UserID       string     `gorm:"index" json:"user_id"`
	LanguageHint string     `json:"language_hint,omitempty"`
	UseFakeASR   bool       `json:"use_fake_asr,omitempty"`
	Priority     int        `gorm:"index;default:0" json:"priority"`

	Stage  Stage  `gorm:"index" json:"stage"`
	Status Status `gorm:"index" json:"status"`

	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`

	// Claim lease. Only the sweeper releases an expired claim.
	ClaimOwner    string     `gorm:"index" json:"claim_owner,omitempty"`
	ClaimDeadline *time.Time `json:"claim_deadline,omitempty"`

	CancelRequested bool `gorm:"index" json:"cancel_requested"`
	Archived        bool `gorm:"index" json:"archived"`

	// Artifact references. Paths only: artifacts carry no back-pointers.
	AudioPath      string `json:"audio_path,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	ChunksPath     string `json:"chunks_path,omitempty"`
	ChunkCount     int    `json:"chunk_count"`
	IndexedCount   int    `json:"indexed_count"`

	// Intra-stage progress counter, written by chunking/embedding workers.
	StageProgress int `json:"stage_progress"`

	ScheduledAt time.Time `gorm:"index" json:"scheduled_at"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress is the user-facing view of a submission's pipeline position.
type Progress struct {
	SubmissionID int64  `json:"submission_id"`
	Stage        Stage  `json:"stage"`
	Status       Status `json:"status"`
	Percent      int    `json:"percent"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AudioArtifact describes a stored audio file for a submission.
type AudioArtifact struct {
	ID              int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	SubmissionID    int64   `gorm:"index" json:"submission_id"`
	Path            string  `json:"path"`
	Title           string  `json:"title"`
	ByteSize        int64   `json:"byte_size"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Language        string  `json:"language,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LeaseExpiry records a claim that the sweeper reclaimed. The health sensor
// alerts when expiries exceed the hourly threshold.
type LeaseExpiry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubmissionID int64     `gorm:"index" json:"submission_id"`
	Stage        Stage     `json:"stage"`
	Owner        string    `json:"owner"`
	ExpiredAt    time.Time `gorm:"index" json:"expired_at"`
}

// UserPref holds per-user chat preferences.
type UserPref struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	Verbose   bool      `json:"verbose"`
	UpdatedAt time.Time `json:"updated_at"`
}
