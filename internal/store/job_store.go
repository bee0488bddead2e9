package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/contentpilot/jobs-be/internal/domain"
	"github.com/contentpilot/jobs-be/shared/postgresql"
)

// JobStore handles all database operations on the jobs table. It is the
// single source of truth for job state; every mutation applies only to
// non-terminal rows so a terminal status can never be overwritten.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a new JobStore instance
func NewJobStore(pg *postgresql.Client, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     pg.GetDB(),
		logger: logger,
	}
}

const jobColumns = `
	job_id, execution_id, idempotency_key, user_id, job_type, target_approach,
	status, progress, parent_job_id, avatar_persona_name, payload,
	error_message, created_at, updated_at
`

// CreateJob inserts a new job row. Returns domain.ErrDuplicateJob when a job
// with the same idempotency key already exists.
func (s *JobStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, execution_id, idempotency_key, user_id, job_type,
			target_approach, status, progress, parent_job_id,
			avatar_persona_name, payload, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.ExecutionID,
		job.IdempotencyKey,
		job.UserID,
		job.JobType,
		job.TargetApproach,
		job.Status,
		job.Progress,
		job.ParentJobID,
		job.AvatarPersonaName,
		job.Payload,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by its internal id.
func (s *JobStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// FindJob retrieves a job by either its internal id or its upstream execution
// id. Webhooks may carry either, so the lookup matches both columns.
func (s *JobStore) FindJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 OR execution_id = $1`

	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job: %w", err)
	}

	return &job, nil
}

// ListActive returns all jobs in a non-terminal status, most recently
// updated first. Status matching is case-insensitive.
func (s *JobStore) ListActive(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE LOWER(status) IN ($1, $2)
		ORDER BY updated_at DESC
	`

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, domain.JobStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	return jobs, nil
}

// ListByStatuses returns jobs whose status (case-insensitive) is in the given
// set, oldest updated first. Used by the recovery sweep.
func (s *JobStore) ListByStatuses(ctx context.Context, statuses []string) ([]domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+jobColumns+` FROM jobs WHERE LOWER(status) IN (?) ORDER BY updated_at ASC`,
		statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}

	var jobs []domain.Job
	err = s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	return jobs, nil
}

// MarkSubmitted records the upstream execution id and moves a pending job to
// processing. The WHERE clause keeps execution_id immutable: once a job has
// been submitted the update no longer matches.
func (s *JobStore) MarkSubmitted(ctx context.Context, jobID, executionID string) error {
	query := `
		UPDATE jobs
		SET execution_id = $1,
		    status = $2,
		    progress = 25,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND LOWER(status) = $4
	`

	result, err := s.db.ExecContext(ctx, query, executionID, domain.JobStatusProcessing, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job submitted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	s.logger.Info("Job submitted to upstream",
		slog.String("job_id", jobID),
		slog.String("execution_id", executionID),
	)

	return nil
}

// UpdateProgress persists an observed non-terminal status and progress.
// A negative progress means "retain the current value". The update only
// applies to non-terminal rows, which is what makes per-job status monotonic
// without optimistic locking.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID, status string, progress int) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    progress = CASE WHEN $2 < 0 THEN progress ELSE $2 END,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND LOWER(status) NOT IN ($4, $5)
	`

	_, err := s.db.ExecContext(ctx, query, status, progress, jobID, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// MarkTerminal finalizes a job as completed or failed. Idempotent: a job
// already terminal is left untouched (no error).
func (s *JobStore) MarkTerminal(ctx context.Context, jobID, status, errorMessage string) error {
	if !domain.IsTerminalStatus(status) {
		return fmt.Errorf("status %q is not terminal", status)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    progress = CASE WHEN $1 = $4 THEN 100 ELSE progress END,
		    error_message = NULLIF($2, ''),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND LOWER(status) NOT IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query, status, errorMessage, jobID, domain.JobStatusCompleted, domain.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Info("Job finalized",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
	}

	return nil
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// ListJobs returns jobs matching the filter, newest first, fetching one row
// beyond PageSize so the caller can detect whether more results exist.
func (s *JobStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND LOWER(status) = LOWER($%d)", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
