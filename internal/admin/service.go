// Package admin implements the commands behind the REST API and CLI: job and
// secret management with request validation.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/batchpoll/pkg/model"
)

// JobStore is the part of the repository the admin commands use.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error)
	CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	UpdateJobSettings(ctx context.Context, id string, settings model.JobSettings) (*model.Job, error)
	PauseJob(ctx context.Context, id string) (*model.Job, error)
	ResumeJob(ctx context.Context, id string, now time.Time) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	ListPollLogs(ctx context.Context, jobID string, limit int) ([]*model.PollLog, error)
}

// SecretStore creates, resolves and removes credentials.
type SecretStore interface {
	Create(ctx context.Context, name string, cred model.Credential) (*model.Secret, error)
	Get(ctx context.Context, id string) (*model.ResolvedSecret, error)
	List(ctx context.Context) ([]*model.Secret, error)
	Delete(ctx context.Context, id string, force bool) error
}

// Limits bounds and defaults the values a job may be created with.
type Limits struct {
	MinInterval     int // seconds
	MaxInterval     int // seconds
	DefaultInterval int // seconds
	// DefaultStackURL fills Target.StackURL when a request leaves it empty.
	DefaultStackURL string
}

// DefaultLimits matches the default scheduler configuration.
func DefaultLimits() Limits {
	return Limits{MinInterval: 30, MaxInterval: 3600, DefaultInterval: 120}
}

// Service runs admin commands against the job store and secret store.
type Service struct {
	jobs    JobStore
	secrets SecretStore
	limits  Limits
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithNow replaces the clock used for creation and resume timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(jobs JobStore, secrets SecretStore, limits Limits, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		jobs:    jobs,
		secrets: secrets,
		limits:  limits,
		logger:  logger.With("component", "admin"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Jobs ---

// CreateJob validates req and stores a new active job that is due immediately.
func (s *Service) CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.BatchHandle = strings.TrimSpace(req.BatchHandle)
	req.Target.StackURL = strings.TrimRight(strings.TrimSpace(req.Target.StackURL), "/")
	req.Target.ComponentID = strings.TrimSpace(req.Target.ComponentID)
	req.Target.ConfigurationID = strings.TrimSpace(req.Target.ConfigurationID)
	if req.Target.StackURL == "" {
		req.Target.StackURL = strings.TrimRight(s.limits.DefaultStackURL, "/")
	}
	if req.IntervalSeconds == 0 {
		req.IntervalSeconds = s.limits.DefaultInterval
	}

	var details []model.FieldError
	require := func(field, value string) {
		if value == "" {
			details = append(details, model.FieldError{Field: field, Message: field + " is required"})
		}
	}
	require("name", req.Name)
	require("batch_handle", req.BatchHandle)
	require("status_secret_id", req.StatusSecretID)
	require("trigger_secret_id", req.TriggerSecretID)
	require("target.stack_url", req.Target.StackURL)
	require("target.component_id", req.Target.ComponentID)
	require("target.configuration_id", req.Target.ConfigurationID)

	if req.Target.StackURL != "" {
		if fe := checkStackURL(req.Target.StackURL); fe != nil {
			details = append(details, *fe)
		}
	}
	if fe := s.checkInterval(req.IntervalSeconds); fe != nil {
		details = append(details, *fe)
	}

	for _, ref := range []struct {
		field string
		id    string
		kind  model.SecretKind
	}{
		{"status_secret_id", req.StatusSecretID, model.SecretKindOpenAI},
		{"trigger_secret_id", req.TriggerSecretID, model.SecretKindKeboola},
	} {
		if ref.id == "" {
			continue
		}
		fe, err := s.checkSecret(ctx, ref.field, ref.id, ref.kind)
		if err != nil {
			return nil, err
		}
		if fe != nil {
			details = append(details, *fe)
		}
	}

	if len(details) > 0 {
		return nil, model.NewValidationError("invalid job", details...)
	}

	now := s.now().UTC()
	job := &model.Job{
		ID:              "job_" + uuid.New().String(),
		Name:            req.Name,
		BatchHandle:     req.BatchHandle,
		StatusSecretID:  req.StatusSecretID,
		TriggerSecretID: req.TriggerSecretID,
		Target:          req.Target,
		IntervalSeconds: req.IntervalSeconds,
		Status:          model.JobStatusActive,
		NextCheckAt:     &now,
		CreatedAt:       now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.Info("job created", "job_id", job.ID, "batch_handle", job.BatchHandle, "interval", job.IntervalSeconds)
	return job, nil
}

func checkStackURL(raw string) *model.FieldError {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &model.FieldError{Field: "target.stack_url", Message: "stack_url must be an absolute http(s) URL"}
	}
	return nil
}

func (s *Service) checkInterval(seconds int) *model.FieldError {
	if seconds < s.limits.MinInterval || seconds > s.limits.MaxInterval {
		return &model.FieldError{
			Field:   "interval_seconds",
			Message: fmt.Sprintf("interval_seconds must be between %d and %d", s.limits.MinInterval, s.limits.MaxInterval),
		}
	}
	return nil
}

// checkSecret returns a field error when id does not name a secret of kind.
// Other lookup failures are returned as errors.
func (s *Service) checkSecret(ctx context.Context, field, id string, kind model.SecretKind) (*model.FieldError, error) {
	rs, err := s.secrets.Get(ctx, id)
	if errors.Is(err, model.ErrSecretNotFound) {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("secret '%s' not found", id)}, nil
	}
	if errors.Is(err, model.ErrSecretUnreadable) {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("secret '%s' cannot be decrypted", id)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", field, err)
	}
	if rs.Kind != kind {
		return &model.FieldError{Field: field, Message: fmt.Sprintf("secret '%s' is of kind %s, want %s", id, rs.Kind, kind)}, nil
	}
	return nil, nil
}

// GetJob returns one job.
func (s *Service) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// ListJobs returns a page of jobs and the total matching count.
func (s *Service) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, model.ListOptions, error) {
	opts.Clamp()
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, opts, model.NewValidationError("invalid status filter",
			model.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", opts.Status)})
	}
	jobs, total, err := s.jobs.ListJobs(ctx, opts)
	if err != nil {
		return nil, 0, opts, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, opts, nil
}

// UpdateJob edits a job's name and interval without touching its status.
func (s *Service) UpdateJob(ctx context.Context, id string, req model.UpdateJobRequest) (*model.Job, error) {
	var details []model.FieldError
	settings := model.JobSettings{IntervalSeconds: req.IntervalSeconds}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			details = append(details, model.FieldError{Field: "name", Message: "name must not be empty"})
		}
		settings.Name = &name
	}
	if req.IntervalSeconds != nil {
		if fe := s.checkInterval(*req.IntervalSeconds); fe != nil {
			details = append(details, *fe)
		}
	}
	if len(details) > 0 {
		return nil, model.NewValidationError("invalid job update", details...)
	}
	if settings.Name == nil && settings.IntervalSeconds == nil {
		return s.jobs.GetJob(ctx, id)
	}

	job, err := s.jobs.UpdateJobSettings(ctx, id, settings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job updated", "job_id", id, "name", job.Name, "interval", job.IntervalSeconds)
	return job, nil
}

// PauseJob stops polling an active job.
func (s *Service) PauseJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.PauseJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("job paused", "job_id", id)
	return job, nil
}

// ResumeJob reactivates a paused job; it is due immediately.
func (s *Service) ResumeJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.ResumeJob(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("job resumed", "job_id", id)
	return job, nil
}

// DeleteJob removes a job. Deleting an absent job succeeds.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.jobs.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info("job deleted", "job_id", id)
	return nil
}

// JobLogs returns up to limit poll log entries for a job, newest first.
func (s *Service) JobLogs(ctx context.Context, id string, limit int) ([]*model.PollLog, error) {
	if _, err := s.jobs.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.jobs.ListPollLogs(ctx, id, limit)
}

// JobCounts returns the number of jobs in each status.
func (s *Service) JobCounts(ctx context.Context) (map[model.JobStatus]int, error) {
	return s.jobs.CountJobsByStatus(ctx)
}

// --- Secrets ---

// CreateSecret validates req and stores the sealed credential.
func (s *Service) CreateSecret(ctx context.Context, req model.CreateSecretRequest) (*model.Secret, error) {
	req.Name = strings.TrimSpace(req.Name)
	var details []model.FieldError
	if req.Name == "" {
		details = append(details, model.FieldError{Field: "name", Message: "name is required"})
	}
	if !req.Kind.Valid() {
		details = append(details, model.FieldError{Field: "kind", Message: fmt.Sprintf("kind must be %s or %s", model.SecretKindOpenAI, model.SecretKindKeboola)})
	}
	var cred model.Credential
	if req.Kind.Valid() {
		var err error
		if cred, err = req.Credential(); err != nil {
			details = append(details, model.FieldError{Field: "credential", Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return nil, model.NewValidationError("invalid secret", details...)
	}
	return s.secrets.Create(ctx, req.Name, cred)
}

// ListSecrets returns secret metadata.
func (s *Service) ListSecrets(ctx context.Context) ([]*model.Secret, error) {
	return s.secrets.List(ctx)
}

// DeleteSecret removes a secret. Without force it fails with
// model.ErrSecretInUse while an active or paused job references it.
func (s *Service) DeleteSecret(ctx context.Context, id string, force bool) error {
	return s.secrets.Delete(ctx, id, force)
}
