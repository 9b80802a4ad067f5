package model

import (
	"strings"
	"time"
)

// Target identifies the downstream configuration fired when a batch completes.
type Target struct {
	StackURL        string `json:"stack_url"`
	ComponentID     string `json:"component_id"`
	ConfigurationID string `json:"configuration_id"`
}

// IsComplete reports whether every field needed by the trigger is set.
func (t Target) IsComplete() bool {
	return strings.TrimSpace(t.StackURL) != "" &&
		strings.TrimSpace(t.ComponentID) != "" &&
		strings.TrimSpace(t.ConfigurationID) != ""
}

// Job tracks one upstream batch from submission to its completion trigger.
type Job struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	BatchHandle     string     `json:"batch_handle"`
	StatusSecretID  string     `json:"status_secret_id"`
	TriggerSecretID string     `json:"trigger_secret_id"`
	Target          Target     `json:"target"`
	IntervalSeconds int        `json:"interval_seconds"`
	Status          JobStatus  `json:"status"`
	TriggerPending  bool       `json:"trigger_pending,omitempty"`
	Version         int64      `json:"version"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
	NextCheckAt     *time.Time `json:"next_check_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	RetryCount      int        `json:"retry_count"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Interval returns the polling interval as a duration.
func (j *Job) Interval() time.Duration {
	return time.Duration(j.IntervalSeconds) * time.Second
}

// JobUpdate is the full set of fields one scheduler tick writes for a job.
type JobUpdate struct {
	Status         JobStatus
	TriggerPending bool
	LastCheckAt    time.Time
	NextCheckAt    *time.Time
	LastError      string
	RetryCount     int
	LastRunID      string
	CompletedAt    *time.Time
}

// JobSettings carries admin edits. Nil fields are left unchanged.
type JobSettings struct {
	Name            *string
	IntervalSeconds *int
}

// PollLog records one persisted scheduler outcome for a job.
type PollLog struct {
	ID        int64       `json:"id"`
	JobID     string      `json:"job_id"`
	Outcome   PollOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
