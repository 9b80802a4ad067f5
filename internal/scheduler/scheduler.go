package scheduler

import (
	"context"
	"time"

	"github.com/me/batchpoll/pkg/model"
)

// Scheduler polls due jobs, fires completion triggers, and records each
// job's lifecycle.
type Scheduler interface {
	// Start begins the polling loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single polling iteration. Used for testing.
	Tick(ctx context.Context) error
}

// JobRepository is the part of the store the scheduler reads and writes.
type JobRepository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error)
	CompareAndSetJob(ctx context.Context, id string, expectedVersion int64, update model.JobUpdate, entry *model.PollLog) (bool, error)
}

// SecretSource resolves credentials by id.
type SecretSource interface {
	Get(ctx context.Context, id string) (*model.ResolvedSecret, error)
}

// Clock returns the current time. Tests substitute a controllable one.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
