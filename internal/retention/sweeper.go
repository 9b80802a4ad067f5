// Package retention periodically purges finished jobs and old poll log
// entries on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the part of the repository the sweeper deletes from.
type Store interface {
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeletePollLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls what is kept. A zero day count disables that purge.
type Config struct {
	Schedule string // cron spec or descriptor such as "@daily"
	JobDays  int
	LogDays  int
}

// Result reports one sweep.
type Result struct {
	Jobs int64
	Logs int64
}

// Sweeper runs Sweep on Config.Schedule.
type Sweeper struct {
	store  Store
	config Config
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses. An empty spec is valid and
// disables the sweeper.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("retention schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a Sweeper. It does not start it.
func New(st Store, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:  st,
		config: cfg,
		logger: logger.With("component", "retention"),
		now:    time.Now,
	}
	if cfg.Schedule == "" {
		return s, nil
	}

	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(cfg.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins the schedule in the background. It is a no-op when the
// schedule is empty.
func (s *Sweeper) Start() {
	if s.cron == nil {
		s.logger.Info("retention sweeper disabled")
		return
	}
	s.logger.Info("retention sweeper started", "schedule", s.config.Schedule,
		"job_days", s.config.JobDays, "log_days", s.config.LogDays)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, or until ctx ends.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep deletes terminal jobs completed more than JobDays ago and poll log
// entries older than LogDays.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	var res Result

	if s.config.JobDays > 0 {
		n, err := s.store.DeleteTerminalJobsBefore(ctx, now.AddDate(0, 0, -s.config.JobDays))
		if err != nil {
			return res, fmt.Errorf("purge jobs: %w", err)
		}
		res.Jobs = n
	}
	if s.config.LogDays > 0 {
		n, err := s.store.DeletePollLogsBefore(ctx, now.AddDate(0, 0, -s.config.LogDays))
		if err != nil {
			return res, fmt.Errorf("purge poll logs: %w", err)
		}
		res.Logs = n
	}

	s.logger.Info("retention sweep", "jobs_deleted", res.Jobs, "logs_deleted", res.Logs)
	return res, nil
}
