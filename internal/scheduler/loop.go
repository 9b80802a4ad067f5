package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/me/batchpoll/internal/provider"
	"github.com/me/batchpoll/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	TickInterval time.Duration
	// CallTimeout bounds each provider call. It must be shorter than TickInterval.
	CallTimeout time.Duration
	MaxWorkers  int
	BatchSize   int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 15 * time.Second,
		CallTimeout:  10 * time.Second,
		MaxWorkers:   10,
		BatchSize:    50,
		MaxRetries:   3,
		BackoffBase:  30 * time.Second,
		BackoffMax:   15 * time.Minute,
	}
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// Loop implements Scheduler with a ticker-driven polling loop. Each tick
// snapshots the due jobs and fans them out to a bounded worker pool.
type Loop struct {
	jobs    JobRepository
	secrets SecretSource
	status  provider.StatusClient
	trigger provider.Trigger
	config  Config
	policy  policy
	clock   Clock
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	ticks    atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(jobs JobRepository, secrets SecretSource, status provider.StatusClient, trigger provider.Trigger, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	l := &Loop{
		jobs:    jobs,
		secrets: secrets,
		status:  status,
		trigger: trigger,
		config:  cfg,
		policy: policy{
			maxRetries:  cfg.MaxRetries,
			backoffBase: cfg.BackoffBase,
			backoffMax:  cfg.BackoffMax,
		},
		clock:    systemClock{},
		logger:   logger.With("component", "scheduler"),
		inFlight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins the polling loop. It ticks once immediately, then every
// TickInterval. Blocks until ctx is cancelled or Stop is called. Start
// returns nil at once if the loop was already started or stopped.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(l.doneCh)

	l.logger.Info("scheduler started",
		"tick_interval", l.config.TickInterval,
		"max_workers", l.config.MaxWorkers,
		"call_timeout", l.config.CallTimeout,
	)
	ticker := time.NewTicker(l.config.TickInterval)
	defer ticker.Stop()

	l.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-ticker.C:
			l.runTick(ctx)
		}
	}
}

func (l *Loop) runTick(ctx context.Context) {
	select {
	case <-l.stopCh:
		return
	default:
	}
	if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
		l.logger.Error("tick error", "error", err)
	}
}

// Stop stops selecting new jobs and waits for the current tick to drain.
// Stopping a loop that never started keeps any later Start from running.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.started.CompareAndSwap(false, true) {
			close(l.doneCh)
		}
	})
	<-l.doneCh
	return nil
}

// TickCount returns how many ticks have completed.
func (l *Loop) TickCount() uint64 {
	return l.ticks.Load()
}

// Tick runs a single polling iteration. Jobs already being processed by an
// overlapping Tick are skipped.
func (l *Loop) Tick(ctx context.Context) error {
	start := l.clock.Now()
	due, err := l.jobs.ListDue(ctx, start.UTC(), l.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(l.config.MaxWorkers)

	var counts sync.Map // outcome -> *atomic.Int64
	skipped := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		if !l.claim(job.ID) {
			skipped++
			l.metrics.skippedInFlight()
			continue
		}
		g.Go(func() error {
			defer l.release(job.ID)
			// A worker that waited for a slot past cancellation leaves the job due.
			if ctx.Err() != nil {
				return nil
			}
			o := l.processJob(ctx, job)
			c, _ := counts.LoadOrStore(o, new(atomic.Int64))
			c.(*atomic.Int64).Add(1)
			return nil
		})
	}
	g.Wait()

	l.ticks.Add(1)
	elapsed := l.clock.Now().Sub(start)
	l.metrics.observeTick(elapsed)

	attrs := []any{"due", len(due), "skipped", skipped, "duration", elapsed}
	counts.Range(func(k, v any) bool {
		attrs = append(attrs, k.(string), v.(*atomic.Int64).Load())
		return true
	})
	l.logger.Debug("tick complete", attrs...)
	return nil
}

func (l *Loop) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[id]; busy {
		return false
	}
	l.inFlight[id] = struct{}{}
	return true
}

func (l *Loop) release(id string) {
	l.mu.Lock()
	delete(l.inFlight, id)
	l.mu.Unlock()
}

// Outcome labels for metrics and tick summaries.
const (
	outcomePending        = "pending"
	outcomeTriggered      = "triggered"
	outcomeTriggerPending = "trigger_pending"
	outcomeFailed         = "failed"
	outcomeRetry          = "retry"
	outcomeConflict       = "conflict"
	outcomeStoreError     = "store_error"
	outcomePanic          = "panic"
)

// processJob evaluates one job and persists the result. Provider and store
// calls run detached from ctx cancellation so a shutdown lets them finish;
// each provider call is still bounded by CallTimeout.
func (l *Loop) processJob(ctx context.Context, job *model.Job) (outcome string) {
	work := context.WithoutCancel(ctx)
	l.metrics.jobStarted()
	defer l.metrics.jobDone()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job processing panicked",
				"job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			upd, entry := l.policy.failed(job, l.clock.Now().UTC(), fmt.Sprintf("%s: %v", DetailInternal, r))
			l.persist(work, job, upd, entry)
			outcome = outcomePanic
			l.metrics.outcome(outcome)
		}
	}()

	upd, entry := l.evaluate(work, job)
	outcome = l.persist(work, job, upd, entry)
	l.metrics.outcome(outcome)
	return outcome
}

// evaluate performs the provider calls for one job and decides its update.
func (l *Loop) evaluate(ctx context.Context, job *model.Job) (model.JobUpdate, *model.PollLog) {
	statusCred, detail, err := l.credential(ctx, job.StatusSecretID, model.SecretKindOpenAI)
	if detail != "" {
		return l.policy.failed(job, l.clock.Now().UTC(), detail)
	}
	if err != nil {
		return l.policy.transient(job, l.clock.Now().UTC(), err.Error(), job.RetryCount, job.TriggerPending)
	}
	triggerCred, detail, err := l.credential(ctx, job.TriggerSecretID, model.SecretKindKeboola)
	if detail != "" {
		return l.policy.failed(job, l.clock.Now().UTC(), detail)
	}
	if err != nil {
		return l.policy.transient(job, l.clock.Now().UTC(), err.Error(), job.RetryCount, job.TriggerPending)
	}
	if !job.Target.IsComplete() {
		return l.policy.failed(job, l.clock.Now().UTC(), DetailMissingTarget)
	}

	prior := job.RetryCount
	if !job.TriggerPending {
		res, err := l.queryStatus(ctx, job, statusCred)
		now := l.clock.Now().UTC()
		if err != nil {
			if provider.IsRetryable(err) {
				return l.policy.transient(job, now, err.Error(), job.RetryCount, false)
			}
			return l.policy.failed(job, now, err.Error())
		}
		switch res.State {
		case provider.StateRunning:
			return l.policy.running(job, now, res.Detail)
		case provider.StateErrored:
			return l.policy.failed(job, now, res.Detail)
		case provider.StateSucceeded:
			// A successful observation ends any run of transient failures.
			prior = 0
		default:
			return l.policy.failed(job, now, fmt.Sprintf("unknown provider state %q", res.State))
		}
	}

	run, err := l.fireTrigger(ctx, job, triggerCred)
	now := l.clock.Now().UTC()
	if err != nil {
		if provider.IsRetryable(err) {
			return l.policy.transient(job, now, err.Error(), prior, true)
		}
		return l.policy.failed(job, now, "trigger: "+err.Error())
	}
	return l.policy.triggered(job, now, run)
}

// credential resolves a secret of the wanted kind. A non-empty detail is a
// configuration failure; a non-nil error is a transient lookup failure.
func (l *Loop) credential(ctx context.Context, id string, want model.SecretKind) (model.Credential, string, error) {
	if id == "" {
		return nil, DetailMissingCredential, nil
	}
	rs, err := l.secrets.Get(ctx, id)
	if errors.Is(err, model.ErrSecretNotFound) {
		return nil, DetailMissingCredential, nil
	}
	if errors.Is(err, model.ErrSecretUnreadable) {
		l.logger.Warn("credential unreadable", "secret_id", id, "error", err)
		return nil, fmt.Sprintf("%s: secret %s", DetailUnreadable, id), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("secret lookup: %w", err)
	}
	if rs.Kind != want || rs.Credential == nil || rs.Credential.Kind() != want {
		return nil, DetailKindMismatch, nil
	}
	return rs.Credential, "", nil
}

func (l *Loop) queryStatus(ctx context.Context, job *model.Job, cred model.Credential) (provider.StatusResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := l.status.QueryStatus(callCtx, job.BatchHandle, cred)
	l.metrics.providerCall("status", callResult(err), time.Since(start))
	return res, err
}

func (l *Loop) fireTrigger(ctx context.Context, job *model.Job, cred model.Credential) (runResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := l.trigger.TriggerCompletion(callCtx, job.ID, cred, job.Target)
	l.metrics.providerCall("trigger", callResult(err), time.Since(start))
	if err != nil {
		return runResult{}, err
	}
	return runResult{runID: res.RunID, detail: res.Detail}, nil
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case provider.IsRetryable(err):
		return "retryable"
	default:
		return "permanent"
	}
}

// persist writes the update with a compare-and-set against the version read
// at selection time. A lost race is discarded.
func (l *Loop) persist(ctx context.Context, job *model.Job, upd model.JobUpdate, entry *model.PollLog) string {
	ok, err := l.jobs.CompareAndSetJob(ctx, job.ID, job.Version, upd, entry)
	if err != nil {
		l.logger.Error("persist job", "job_id", job.ID, "error", err)
		return outcomeStoreError
	}
	if !ok {
		l.logger.Debug("cas conflict, discarding result", "job_id", job.ID, "version", job.Version)
		return outcomeConflict
	}

	o := outcomeLabel(upd)
	if upd.Status != job.Status || upd.TriggerPending != job.TriggerPending {
		l.logger.Info("job transition",
			"job_id", job.ID, "from", job.Status, "to", upd.Status,
			"trigger_pending", upd.TriggerPending, "retry_count", upd.RetryCount,
			"detail", entry.Detail)
	} else {
		l.logger.Debug("job checked", "job_id", job.ID, "outcome", o, "retry_count", upd.RetryCount)
	}
	return o
}

func outcomeLabel(upd model.JobUpdate) string {
	switch {
	case upd.Status == model.JobStatusCompleted:
		return outcomeTriggered
	case upd.Status == model.JobStatusFailed:
		return outcomeFailed
	case upd.TriggerPending:
		return outcomeTriggerPending
	case upd.RetryCount > 0:
		return outcomeRetry
	default:
		return outcomePending
	}
}
