package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/repository"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
)

type failedJobRepository struct {
	BaseRepository
}

func NewFailedJobRepository(base BaseRepository) repository.FailedJobRepository {
	return &failedJobRepository{base}
}

func (r *failedJobRepository) Create(ctx context.Context, job *model.FailedJob) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.Payload == nil {
		return fmt.Errorf("job payload cannot be nil")
	}

	query := `
		INSERT INTO failed_jobs (
			id, job_type, payload, error, status, attempts, max_attempts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	job.ID = uuid.New()
	job.Status = model.FailedJobStatusPending
	job.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.JobType,
		job.Payload,
		job.Error,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create failed job: %w", err)
	}
	return nil
}

func (r *failedJobRepository) Get(ctx context.Context, id uuid.UUID) (*model.FailedJob, error) {
	query := `
		SELECT id, job_type, payload, error, status, attempts, max_attempts,
		       created_at, retried_at, resolved_at
		FROM failed_jobs
		WHERE id = $1
	`

	var job model.FailedJob
	err := r.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("failed job", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed job: %w", err)
	}
	return &job, nil
}

func (r *failedJobRepository) List(ctx context.Context, status model.FailedJobStatus, limit int) ([]*model.FailedJob, error) {
	var jobs []*model.FailedJob
	var err error

	if status == "" {
		err = r.db.SelectContext(ctx, &jobs, `
			SELECT id, job_type, payload, error, status, attempts, max_attempts,
			       created_at, retried_at, resolved_at
			FROM failed_jobs
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	} else {
		err = r.db.SelectContext(ctx, &jobs, `
			SELECT id, job_type, payload, error, status, attempts, max_attempts,
			       created_at, retried_at, resolved_at
			FROM failed_jobs
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return jobs, nil
}

// MarkRetrying moves PENDING -> RETRYING and spends one attempt. The guard
// enforces both lifecycle invariants in a single statement: only pending
// jobs may retry, and never past max_attempts.
func (r *failedJobRepository) MarkRetrying(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE failed_jobs
		SET status = $1, attempts = attempts + 1, retried_at = $2
		WHERE id = $3 AND status = $4 AND attempts < max_attempts
	`

	result, err := r.db.ExecContext(ctx, query,
		model.FailedJobStatusRetrying, time.Now(), id, model.FailedJobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job retrying: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Conflict("job is not retryable", nil)
	}
	return nil
}

func (r *failedJobRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE failed_jobs
		SET status = $1, resolved_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		model.FailedJobStatusResolved, time.Now(), id, model.FailedJobStatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to mark job resolved: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Invariant(fmt.Sprintf("resolve on job %s which is not retrying", id), nil)
	}
	return nil
}

// MarkPending returns a RETRYING job to PENDING after a replay failed, so
// the operator can try again while attempts remain.
func (r *failedJobRepository) MarkPending(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE failed_jobs
		SET status = $1, error = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		model.FailedJobStatusPending, errMsg, id, model.FailedJobStatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to mark job pending: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Invariant(fmt.Sprintf("pending reset on job %s which is not retrying", id), nil)
	}
	return nil
}

// Abandon is a permanent, human-acknowledged write-off. Valid from any
// non-terminal status.
func (r *failedJobRepository) Abandon(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE failed_jobs
		SET status = $1, resolved_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		model.FailedJobStatusAbandoned, time.Now(), id,
		model.FailedJobStatusPending, model.FailedJobStatusRetrying)
	if err != nil {
		return fmt.Errorf("failed to abandon job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Conflict("job is already terminal", nil)
	}
	return nil
}

func (r *failedJobRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM failed_jobs WHERE status = $1
	`, model.FailedJobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
