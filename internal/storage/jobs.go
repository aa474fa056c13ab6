package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
)

const jobColumns = `
	id, owner_id, file_id, job_type, status, progress, result, error_message,
	created_at, started_at, completed_at, retry_count, max_retries`

// CreateJob inserts a new PENDING job.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *model.BackgroundJob) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	progress, result, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO background_jobs (
			id, owner_id, file_id, job_type, status, progress, result, error_message,
			created_at, started_at, completed_at, retry_count, max_retries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.FileID, string(job.JobType), string(job.Status),
		progress, result, nullableString(job.ErrorMessage),
		job.CreatedAt, nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
		job.RetryCount, job.MaxRetries,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: job %s", common.ErrDuplicateEntry, job.ID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// ClaimPendingJob atomically moves the oldest PENDING job of jobType to
// IN_PROGRESS and returns it. It returns nil, nil when no job is pending.
//
// Selection and update happen in one statement, so two workers can never
// claim the same job.
func (s *SQLiteStorage) ClaimPendingJob(ctx context.Context, jobType model.JobType, now time.Time) (*model.BackgroundJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE background_jobs
		SET status = ?, started_at = ?
		WHERE id = (
			SELECT id FROM background_jobs
			WHERE status = ? AND job_type = ?
			ORDER BY created_at, id
			LIMIT 1
		) AND status = ?
		RETURNING id`,
		string(model.JobStatusInProgress), now.UTC(),
		string(model.JobStatusPending), string(jobType),
		string(model.JobStatusPending),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed job: %w", err)
	}

	return job, nil
}

// UpdateJob writes the mutable fields of job, provided the stored status is
// still expected. A lost race returns common.ErrConflict.
func (s *SQLiteStorage) UpdateJob(ctx context.Context, job *model.BackgroundJob, expected model.JobStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}

	progress, result, err := encodeJobDocuments(job)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE background_jobs
		SET status = ?, progress = ?, result = ?, error_message = ?,
			started_at = ?, completed_at = ?, retry_count = ?, max_retries = ?
		WHERE id = ? AND status = ?`,
		string(job.Status), progress, result, nullableString(job.ErrorMessage),
		nullableTime(job.StartedAt), nullableTime(job.CompletedAt), job.RetryCount, job.MaxRetries,
		job.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM background_jobs WHERE id = ?", job.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check job %s: %w", job.ID, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: job %s", common.ErrNotFound, job.ID)
	}
	return fmt.Errorf("%w: job %s is no longer %s", common.ErrConflict, job.ID, expected)
}

// GetJob retrieves a job by ID.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.BackgroundJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM background_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs matching filter, newest first.
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter service.JobFilter) ([]model.BackgroundJob, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := "SELECT " + jobColumns + " FROM background_jobs WHERE 1 = 1"
	var args []any

	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.BackgroundJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

func encodeJobDocuments(job *model.BackgroundJob) (string, sql.NullString, error) {
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to encode job progress: %w", err)
	}

	var result sql.NullString
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("failed to encode job result: %w", err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}

	return string(progress), result, nil
}

func scanJob(row scanner) (*model.BackgroundJob, error) {
	var (
		job          model.BackgroundJob
		jobType      string
		status       string
		progress     string
		result       sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.FileID, &jobType, &status, &progress, &result, &errorMessage,
		&job.CreatedAt, &startedAt, &completedAt, &job.RetryCount, &job.MaxRetries,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.JobType = model.JobType(jobType)
	job.Status = model.JobStatus(status)

	if progress != "" {
		if err := json.Unmarshal([]byte(progress), &job.Progress); err != nil {
			return nil, fmt.Errorf("failed to decode progress of job %s: %w", job.ID, err)
		}
	}
	if result.Valid {
		var r model.JobResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", job.ID, err)
		}
		job.Result = &r
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		job.ErrorMessage = &msg
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
