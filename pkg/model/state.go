package model

import "fmt"

// JobStatus represents the lifecycle state of a tracked Job.
type JobStatus string

const (
	JobStatusActive    JobStatus = "active"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// String returns the string representation of the job status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the job will never be polled again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusActive, JobStatusPaused, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ParseJobStatus converts a user supplied filter value into a JobStatus.
func ParseJobStatus(v string) (JobStatus, error) {
	s := JobStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", v)
	}
	return s, nil
}

// ValidJobTransitions defines the allowed status changes for Jobs.
// Staying active (running, transient failure, pending trigger) is not a transition.
var ValidJobTransitions = map[JobStatus][]JobStatus{
	JobStatusActive: {JobStatusPaused, JobStatusCompleted, JobStatusFailed},
	JobStatusPaused: {JobStatusActive},
}

// CanTransitionTo returns true if moving from the current status to next is valid.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range ValidJobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PollOutcome classifies one persisted scheduler observation of a job.
type PollOutcome string

const (
	// PollOutcomePending means the upstream batch is still running.
	PollOutcomePending PollOutcome = "pending"
	// PollOutcomeTriggerPending means the batch finished but the trigger has not been acknowledged.
	PollOutcomeTriggerPending PollOutcome = "trigger_pending"
	PollOutcomeTriggered      PollOutcome = "triggered"
	PollOutcomeFailed         PollOutcome = "failed"
	// PollOutcomeError is a transient failure that will be retried.
	PollOutcomeError PollOutcome = "error"
)

// String returns the string representation of the outcome.
func (o PollOutcome) String() string {
	return string(o)
}
