package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind discriminates pipeline job payloads.
type JobKind string

// Pipeline job kinds.
const (
	JobProcessSubmission JobKind = "process-submission"
	JobHealthCheck       JobKind = "health-check"
	JobCleanup           JobKind = "cleanup"
	JobAlertDispatch     JobKind = "alert-dispatch"
)

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

// Pipeline job statuses.
const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// PipelineJob is a scheduler-internal unit of work enqueued by sensors.
// RunKey deduplicates enqueues: two sensor passes over the same state produce
// the same keys and the second insert is a no-op.
type PipelineJob struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind     JobKind   `gorm:"index" json:"kind"`
	RunKey   string    `gorm:"uniqueIndex" json:"run_key"`
	Payload  string    `json:"payload"`
	Priority int       `gorm:"index;default:0" json:"priority"`
	Status   JobStatus `gorm:"index" json:"status"`

	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`

	ScheduledAt time.Time `gorm:"index" json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProcessSubmissionPayload wakes the scheduler for a pending submission.
type ProcessSubmissionPayload struct {
	SubmissionID   int64     `json:"submission_id"`
	EvaluationTime time.Time `json:"evaluation_time"`
}

// HealthCheckPayload triggers a metrics pass and threshold alerting.
type HealthCheckPayload struct {
	EvaluationTime time.Time `json:"evaluation_time"`
}

// CleanupPayload prunes artifacts of archived submissions.
type CleanupPayload struct {
	EvaluationTime time.Time `json:"evaluation_time"`
	TotalBytes     int64     `json:"total_bytes"`
}

// AlertDispatchPayload forwards undispatched alerts to the notifier.
type AlertDispatchPayload struct {
	AlertIDs       []int64   `json:"alert_ids"`
	EvaluationTime time.Time `json:"evaluation_time"`
}

// EncodePayload serializes a payload for storage on a PipelineJob.
func EncodePayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	return string(b), nil
}

// DecodePayload deserializes a job payload into the kind's schema.
func DecodePayload[T any](j *PipelineJob) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(j.Payload), &out); err != nil {
		return out, fmt.Errorf("decoding %s payload for job %d: %w", j.Kind, j.ID, err)
	}
	return out, nil
}
