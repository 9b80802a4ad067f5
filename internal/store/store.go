package store

import (
	"context"
	"time"

	"github.com/me/batchpoll/pkg/model"
)

// Store defines the persistence layer for batchpoll entities.
type Store interface {
	// Secrets
	CreateSecret(ctx context.Context, sec *model.Secret) error
	GetSecret(ctx context.Context, id string) (*model.Secret, error)
	ListSecrets(ctx context.Context) ([]*model.Secret, error)
	// DeleteSecret refuses to remove a secret referenced by an active or
	// paused job unless force is set.
	DeleteSecret(ctx context.Context, id string, force bool) error
	CountJobsUsingSecret(ctx context.Context, id string) (int, error)

	// Job admin
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	UpdateJobSettings(ctx context.Context, id string, settings model.JobSettings) (*model.Job, error)
	PauseJob(ctx context.Context, id string) (*model.Job, error)
	ResumeJob(ctx context.Context, id string, now time.Time) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// Scheduler
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
	// CompareAndSetJob applies update and appends entry only if the stored
	// version still equals expectedVersion. It reports false when the job
	// changed or disappeared since it was read.
	CompareAndSetJob(ctx context.Context, id string, expectedVersion int64, update model.JobUpdate, entry *model.PollLog) (bool, error)

	// Poll logs and retention
	ListPollLogs(ctx context.Context, jobID string, limit int) ([]*model.PollLog, error)
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeletePollLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
