package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/batchpoll/pkg/model"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so stored UTC timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, name, batch_handle, status_secret_id, trigger_secret_id,
	stack_url, component_id, configuration_id, interval_seconds, status,
	trigger_pending, version, last_check_at, next_check_at, last_error,
	retry_count, last_run_id, created_at, completed_at`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// SQLite serializes writers anyway; one connection also keeps a
	// :memory: database visible to every goroutine.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Secret operations ---

func (s *SQLiteStore) CreateSecret(ctx context.Context, sec *model.Secret) error {
	s.logger.Debug("sql", "op", "insert", "table", "secrets", "id", sec.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (id, name, kind, sealed, created_at) VALUES (?, ?, ?, ?, ?)`,
		sec.ID, sec.Name, string(sec.Kind), sec.Sealed, formatTime(sec.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: secrets.name") {
		return fmt.Errorf("secret %q: %w", sec.Name, model.ErrSecretNameTaken)
	}
	return err
}

func (s *SQLiteStore) GetSecret(ctx context.Context, id string) (*model.Secret, error) {
	s.logger.Debug("sql", "op", "select", "table", "secrets", "id", id)

	sec, err := scanSecret(s.db.QueryRowContext(ctx,
		`SELECT id, name, kind, sealed, created_at FROM secrets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secret %s: %w", id, model.ErrSecretNotFound)
	}
	return sec, err
}

// ListSecrets returns secret metadata ordered by name. Sealed material is not loaded.
func (s *SQLiteStore) ListSecrets(ctx context.Context) ([]*model.Secret, error) {
	s.logger.Debug("sql", "op", "list", "table", "secrets")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, X'', created_at FROM secrets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []*model.Secret
	for rows.Next() {
		sec, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		sec.Sealed = nil
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

func (s *SQLiteStore) DeleteSecret(ctx context.Context, id string, force bool) error {
	s.logger.Debug("sql", "op", "delete", "table", "secrets", "id", id, "force", force)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if !force {
		n, err := countJobsUsingSecret(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("secret %s used by %d job(s): %w", id, n, model.ErrSecretInUse)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("secret %s: %w", id, model.ErrSecretNotFound)
	}
	return tx.Commit()
}

// CountJobsUsingSecret counts active or paused jobs referencing the secret.
func (s *SQLiteStore) CountJobsUsingSecret(ctx context.Context, id string) (int, error) {
	s.logger.Debug("sql", "op", "count_refs", "table", "jobs", "secret_id", id)
	return countJobsUsingSecret(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countJobsUsingSecret(ctx context.Context, q queryer, id string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs
		 WHERE status IN ('active', 'paused') AND (status_secret_id = ? OR trigger_secret_id = ?)`,
		id, id,
	).Scan(&n)
	return n, err
}

// --- Job admin operations ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "id", job.ID)

	if job.Version == 0 {
		job.Version = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.BatchHandle, job.StatusSecretID, job.TriggerSecretID,
		job.Target.StackURL, job.Target.ComponentID, job.Target.ConfigurationID,
		job.IntervalSeconds, string(job.Status), job.TriggerPending, job.Version,
		nullTime(job.LastCheckAt), nullTime(job.NextCheckAt), job.LastError,
		job.RetryCount, job.LastRunID, formatTime(job.CreatedAt), nullTime(job.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q queryer, id string) (*model.Job, error) {
	job, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrJobNotFound)
	}
	return job, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", opts.Limit, "offset", opts.Offset, "status", opts.Status)
	opts.Clamp()

	where := ""
	var args []any
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, string(opts.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	return jobs, total, err
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	s.logger.Debug("sql", "op", "count_by_status", "table", "jobs")

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.JobStatus]int{
		model.JobStatusActive:    0,
		model.JobStatusPaused:    0,
		model.JobStatusCompleted: 0,
		model.JobStatusFailed:    0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// UpdateJobSettings edits name and interval without touching status. The
// version is a scheduling version and is left alone, so a tick in flight
// still persists its result; the new interval applies from the next check.
func (s *SQLiteStore) UpdateJobSettings(ctx context.Context, id string, settings model.JobSettings) (*model.Job, error) {
	s.logger.Debug("sql", "op", "update_settings", "table", "jobs", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if settings.Name != nil {
		job.Name = *settings.Name
	}
	if settings.IntervalSeconds != nil {
		job.IntervalSeconds = *settings.IntervalSeconds
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET name = ?, interval_seconds = ? WHERE id = ?`,
		job.Name, job.IntervalSeconds, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// PauseJob moves an active job to paused. Pausing a paused job is a no-op.
func (s *SQLiteStore) PauseJob(ctx context.Context, id string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "pause", "table", "jobs", "id", id)
	return s.setAdminStatus(ctx, id, model.JobStatusPaused, nil)
}

// ResumeJob moves a paused job back to active and makes it due at now.
// Resuming an active job is a no-op.
func (s *SQLiteStore) ResumeJob(ctx context.Context, id string, now time.Time) (*model.Job, error) {
	s.logger.Debug("sql", "op", "resume", "table", "jobs", "id", id)
	return s.setAdminStatus(ctx, id, model.JobStatusActive, &now)
}

func (s *SQLiteStore) setAdminStatus(ctx context.Context, id string, to model.JobStatus, next *time.Time) (*model.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == to {
		return job, nil
	}
	if !job.Status.CanTransitionTo(to) {
		return nil, &model.InvalidTransitionError{ID: id, From: job.Status, To: to}
	}

	job.Status = to
	job.NextCheckAt = next
	if to == model.JobStatusActive {
		// A resumed job starts a fresh retry run.
		job.RetryCount = 0
	}
	job.Version++

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, next_check_at = ?, retry_count = ?, version = ? WHERE id = ?`,
		string(job.Status), nullTime(job.NextCheckAt), job.RetryCount, job.Version, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// DeleteJob removes a job and its poll log. Deleting an absent job succeeds.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "jobs", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM poll_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Scheduler operations ---

// ListDue returns active jobs whose next check is at or before now, oldest first.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list_due", "table", "jobs", "limit", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'active' AND next_check_at IS NOT NULL AND next_check_at <= ?
		 ORDER BY next_check_at, id LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *SQLiteStore) CompareAndSetJob(ctx context.Context, id string, expectedVersion int64, update model.JobUpdate, entry *model.PollLog) (bool, error) {
	s.logger.Debug("sql", "op", "cas", "table", "jobs", "id", id, "version", expectedVersion)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, trigger_pending = ?, last_check_at = ?, next_check_at = ?,
		 last_error = ?, retry_count = ?, last_run_id = ?, completed_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(update.Status), update.TriggerPending, formatTime(update.LastCheckAt),
		nullTime(update.NextCheckAt), update.LastError, update.RetryCount, update.LastRunID,
		nullTime(update.CompletedAt), id, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if entry != nil {
		if entry.JobID == "" {
			entry.JobID = id
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO poll_logs (job_id, outcome, detail, run_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			entry.JobID, string(entry.Outcome), entry.Detail, entry.RunID, formatTime(entry.CreatedAt),
		)
		if err != nil {
			return false, fmt.Errorf("insert poll log: %w", err)
		}
		entry.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// --- Poll log and retention operations ---

// ListPollLogs returns the newest entries for a job first.
func (s *SQLiteStore) ListPollLogs(ctx context.Context, jobID string, limit int) ([]*model.PollLog, error) {
	s.logger.Debug("sql", "op", "list", "table", "poll_logs", "job_id", jobID, "limit", limit)

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, outcome, detail, run_id, created_at FROM poll_logs
		 WHERE job_id = ? ORDER BY id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.PollLog
	for rows.Next() {
		var l model.PollLog
		var outcome, createdAt string
		if err := rows.Scan(&l.ID, &l.JobID, &outcome, &l.Detail, &l.RunID, &createdAt); err != nil {
			return nil, err
		}
		l.Outcome = model.PollOutcome(outcome)
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// DeleteTerminalJobsBefore removes completed and failed jobs that finished
// before cutoff, together with their poll logs.
func (s *SQLiteStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "purge", "table", "jobs", "cutoff", cutoff)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const match = `status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < ?`
	c := formatTime(cutoff)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM poll_logs WHERE job_id IN (SELECT id FROM jobs WHERE `+match+`)`, c); err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE `+match, c)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeletePollLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.logger.Debug("sql", "op", "purge", "table", "poll_logs", "cutoff", cutoff)

	result, err := s.db.ExecContext(ctx, `DELETE FROM poll_logs WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(row scanner) (*model.Secret, error) {
	var sec model.Secret
	var kind, createdAt string
	if err := row.Scan(&sec.ID, &sec.Name, &kind, &sec.Sealed, &createdAt); err != nil {
		return nil, err
	}
	sec.Kind = model.SecretKind(kind)
	sec.CreatedAt = parseTime(createdAt)
	return &sec, nil
}

func scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var status, createdAt string
	var lastCheckAt, nextCheckAt, completedAt *string

	if err := row.Scan(
		&job.ID, &job.Name, &job.BatchHandle, &job.StatusSecretID, &job.TriggerSecretID,
		&job.Target.StackURL, &job.Target.ComponentID, &job.Target.ConfigurationID,
		&job.IntervalSeconds, &status, &job.TriggerPending, &job.Version,
		&lastCheckAt, &nextCheckAt, &job.LastError,
		&job.RetryCount, &job.LastRunID, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.CreatedAt = parseTime(createdAt)
	job.LastCheckAt = parseNullTime(lastCheckAt)
	job.NextCheckAt = parseNullTime(nextCheckAt)
	job.CompletedAt = parseNullTime(completedAt)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t := parseTime(*s)
	return &t
}
