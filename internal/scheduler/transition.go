package scheduler

import (
	"time"

	"github.com/me/batchpoll/pkg/model"
)

// Detail prefixes recorded on failed jobs.
const (
	DetailMissingCredential = "missing credential"
	DetailKindMismatch      = "credential kind mismatch"
	DetailUnreadable        = "unreadable credential"
	DetailMissingTarget     = "missing target configuration"
	DetailRetryBudget       = "exceeded retry budget"
	DetailInternal          = "internal error"
)

// policy turns one observation of a job into the update persisted for it.
type policy struct {
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// backoff returns min(base * 2^(retry-1), max) for retry >= 1.
func (p policy) backoff(retry int) time.Duration {
	if retry < 1 || p.backoffBase <= 0 {
		return 0
	}
	d := p.backoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.backoffMax {
			return p.backoffMax
		}
	}
	if d > p.backoffMax {
		return p.backoffMax
	}
	return d
}

func timePtr(t time.Time) *time.Time { return &t }

// running: the batch is still being processed upstream.
func (p policy) running(job *model.Job, now time.Time, detail string) (model.JobUpdate, *model.PollLog) {
	return model.JobUpdate{
			Status:      model.JobStatusActive,
			LastCheckAt: now,
			NextCheckAt: timePtr(now.Add(job.Interval())),
			LastRunID:   job.LastRunID,
		}, &model.PollLog{
			JobID: job.ID, Outcome: model.PollOutcomePending, Detail: detail, CreatedAt: now,
		}
}

// triggered: the completion trigger was acknowledged.
func (p policy) triggered(job *model.Job, now time.Time, res runResult) (model.JobUpdate, *model.PollLog) {
	return model.JobUpdate{
			Status:      model.JobStatusCompleted,
			LastCheckAt: now,
			LastRunID:   res.runID,
			CompletedAt: timePtr(now),
		}, &model.PollLog{
			JobID: job.ID, Outcome: model.PollOutcomeTriggered, Detail: res.detail, RunID: res.runID, CreatedAt: now,
		}
}

// failed: a permanent upstream, configuration, or internal error.
func (p policy) failed(job *model.Job, now time.Time, detail string) (model.JobUpdate, *model.PollLog) {
	return p.failedWithRetries(job, now, detail, job.RetryCount)
}

func (p policy) failedWithRetries(job *model.Job, now time.Time, detail string, retries int) (model.JobUpdate, *model.PollLog) {
	return model.JobUpdate{
			Status:      model.JobStatusFailed,
			LastCheckAt: now,
			LastError:   detail,
			RetryCount:  retries,
			LastRunID:   job.LastRunID,
			CompletedAt: timePtr(now),
		}, &model.PollLog{
			JobID: job.ID, Outcome: model.PollOutcomeFailed, Detail: detail, CreatedAt: now,
		}
}

// transient: a retryable failure. prior is the retry count to build on,
// which is zero when a successful observation preceded the failure in the
// same tick. triggerPending marks a failure of the trigger call after the
// batch was seen to succeed.
func (p policy) transient(job *model.Job, now time.Time, detail string, prior int, triggerPending bool) (model.JobUpdate, *model.PollLog) {
	retry := prior + 1
	if retry > p.maxRetries {
		return p.failedWithRetries(job, now, DetailRetryBudget+": "+detail, retry)
	}

	outcome := model.PollOutcomeError
	if triggerPending {
		outcome = model.PollOutcomeTriggerPending
	}
	return model.JobUpdate{
			Status:         model.JobStatusActive,
			TriggerPending: triggerPending,
			LastCheckAt:    now,
			NextCheckAt:    timePtr(now.Add(job.Interval() + p.backoff(retry))),
			LastError:      detail,
			RetryCount:     retry,
			LastRunID:      job.LastRunID,
		}, &model.PollLog{
			JobID: job.ID, Outcome: outcome, Detail: detail, CreatedAt: now,
		}
}

// runResult is the trigger acknowledgement carried into the update.
type runResult struct {
	runID  string
	detail string
}
