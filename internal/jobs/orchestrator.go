// Package jobs manages background AI categorization jobs: queueing, atomic
// claiming, progress reporting and the completion, failure and retry
// transitions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
)

// Job state machine errors.
var (
	ErrEmptyJob       = errors.New("job has no transactions")
	ErrInvalidState   = errors.New("invalid job state transition")
	ErrRetryExhausted = errors.New("job retries exhausted")
	ErrJobNotFound    = errors.New("job not found")
	ErrStaleJob       = errors.New("job changed concurrently")
)

// Progress phases.
const (
	PhaseQueued    = "queued"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Store is the job persistence the orchestrator needs.
type Store interface {
	CreateJob(ctx context.Context, job *model.BackgroundJob) error
	ClaimPendingJob(ctx context.Context, jobType model.JobType, now time.Time) (*model.BackgroundJob, error)
	UpdateJob(ctx context.Context, job *model.BackgroundJob, expected model.JobStatus) error
	GetJob(ctx context.Context, id string) (*model.BackgroundJob, error)
	ListJobs(ctx context.Context, filter service.JobFilter) ([]model.BackgroundJob, error)
}

// Config holds orchestrator settings.
type Config struct {
	StatusURLPrefix       string
	MaxRetries            int
	SecondsPerTransaction float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StatusURLPrefix:       "/api/jobs/",
		MaxRetries:            model.DefaultMaxRetries,
		SecondsPerTransaction: 0.5,
	}
}

// Orchestrator drives jobs through their state machine.
type Orchestrator struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
	config Config
}

// NewOrchestrator creates an orchestrator backed by store.
func NewOrchestrator(store Store, config Config, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.SecondsPerTransaction <= 0 {
		config.SecondsPerTransaction = defaults.SecondsPerTransaction
	}
	if config.StatusURLPrefix == "" {
		config.StatusURLPrefix = defaults.StatusURLPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:  store,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Queue creates a PENDING job for the given transactions.
func (o *Orchestrator) Queue(ctx context.Context, ownerID, fileID string, jobType model.JobType, transactionIDs []int64) (*model.BackgroundJob, error) {
	if len(transactionIDs) == 0 {
		return nil, ErrEmptyJob
	}

	ids := make([]int64, len(transactionIDs))
	copy(ids, transactionIDs)

	job := &model.BackgroundJob{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		FileID:     fileID,
		JobType:    jobType,
		Status:     model.JobStatusPending,
		CreatedAt:  o.now(),
		MaxRetries: o.config.MaxRetries,
		Progress: model.JobProgress{
			UnmatchedTransactionIDs: ids,
			TotalTransactions:       len(ids),
			ProcessedTransactions:   0,
			Phase:                   PhaseQueued,
		},
	}
	job.Progress.EstimatedSecondsRemaining = o.estimate(job.Progress.Remaining())

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	o.logger.Info("Queued background job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"owner_id", ownerID,
		"file_id", fileID,
		"transaction_count", len(ids))

	return job, nil
}

// Claim moves one PENDING job of jobType to IN_PROGRESS. It returns nil
// when no job is available.
func (o *Orchestrator) Claim(ctx context.Context, jobType model.JobType) (*model.BackgroundJob, error) {
	job, err := o.store.ClaimPendingJob(ctx, jobType, o.now())
	if err != nil {
		return nil, err
	}
	if job != nil {
		o.logger.Info("Claimed background job", "job_id", job.ID, "job_type", job.JobType)
	}
	return job, nil
}

// UpdateProgress overwrites the batch counters and phase of an IN_PROGRESS
// job and refreshes its estimated time remaining.
func (o *Orchestrator) UpdateProgress(ctx context.Context, jobID string, progress model.JobProgress) error {
	job, err := o.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusInProgress {
		return fmt.Errorf("%w: cannot update progress of %s job %s", ErrInvalidState, job.Status, jobID)
	}

	if progress.TotalTransactions > 0 {
		job.Progress.TotalTransactions = progress.TotalTransactions
	}
	job.Progress.ProcessedTransactions = progress.ProcessedTransactions
	job.Progress.CurrentBatch = progress.CurrentBatch
	job.Progress.TotalBatches = progress.TotalBatches
	if progress.Phase != "" {
		job.Progress.Phase = progress.Phase
	}
	job.Progress.EstimatedSecondsRemaining = o.estimate(job.Progress.Remaining())

	return o.save(ctx, job, model.JobStatusInProgress)
}

// Complete moves an IN_PROGRESS job to COMPLETED with result.
func (o *Orchestrator) Complete(ctx context.Context, jobID string, result *model.JobResult) error {
	job, err := o.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusInProgress {
		return fmt.Errorf("%w: cannot complete %s job %s", ErrInvalidState, job.Status, jobID)
	}

	now := o.now()
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now
	job.Result = result
	job.Progress.Phase = PhaseCompleted
	job.Progress.EstimatedSecondsRemaining = nil
	if result != nil {
		job.Progress.ProcessedTransactions = result.TotalProcessed
	}

	if err := o.save(ctx, job, model.JobStatusInProgress); err != nil {
		return err
	}

	o.logger.Info("Completed background job", "job_id", jobID)
	return nil
}

// Fail moves an IN_PROGRESS job to FAILED with errorMessage.
func (o *Orchestrator) Fail(ctx context.Context, jobID, errorMessage string) error {
	job, err := o.get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusInProgress {
		return fmt.Errorf("%w: cannot fail %s job %s", ErrInvalidState, job.Status, jobID)
	}

	now := o.now()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now
	job.ErrorMessage = &errorMessage
	job.Progress.Phase = PhaseFailed
	job.Progress.EstimatedSecondsRemaining = nil

	if err := o.save(ctx, job, model.JobStatusInProgress); err != nil {
		return err
	}

	o.logger.Warn("Background job failed",
		"job_id", jobID,
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries,
		"error", errorMessage)
	return nil
}

// Retry moves a FAILED job back to PENDING, consuming one retry.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	job, err := o.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusFailed {
		return nil, fmt.Errorf("%w: cannot retry %s job %s", ErrInvalidState, job.Status, jobID)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, fmt.Errorf("%w: job %s used %d of %d retries", ErrRetryExhausted, jobID, job.RetryCount, job.MaxRetries)
	}

	job.Status = model.JobStatusPending
	job.RetryCount++
	job.StartedAt = nil
	job.CompletedAt = nil
	job.ErrorMessage = nil
	job.Result = nil
	job.Progress.ProcessedTransactions = 0
	job.Progress.CurrentBatch = 0
	job.Progress.Phase = PhaseQueued
	job.Progress.EstimatedSecondsRemaining = o.estimate(job.Progress.Remaining())

	if err := o.save(ctx, job, model.JobStatusFailed); err != nil {
		return nil, err
	}

	o.logger.Info("Requeued background job", "job_id", jobID, "retry_count", job.RetryCount)
	return job, nil
}

// Get returns a job by ID.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	return o.get(ctx, jobID)
}

// List returns jobs matching filter.
func (o *Orchestrator) List(ctx context.Context, filter service.JobFilter) ([]model.BackgroundJob, error) {
	return o.store.ListJobs(ctx, filter)
}

// Info returns the summary handed back to the caller that queued job.
func (o *Orchestrator) Info(job *model.BackgroundJob) *BackgroundJobInfo {
	remaining := job.Progress.Remaining()
	return &BackgroundJobInfo{
		JobID:                      job.ID,
		Status:                     job.Status,
		RemainingTransactions:      remaining,
		EstimatedCompletionSeconds: o.estimateSeconds(remaining),
		StatusURL:                  strings.TrimSuffix(o.config.StatusURLPrefix, "/") + "/" + job.ID,
	}
}

func (o *Orchestrator) get(ctx context.Context, jobID string) (*model.BackgroundJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	return job, nil
}

func (o *Orchestrator) save(ctx context.Context, job *model.BackgroundJob, expected model.JobStatus) error {
	err := o.store.UpdateJob(ctx, job, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrConflict):
		return fmt.Errorf("%w: %w", ErrStaleJob, err)
	case errors.Is(err, common.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	default:
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
}

func (o *Orchestrator) estimateSeconds(remaining int) float64 {
	return math.Round(float64(remaining)*o.config.SecondsPerTransaction*10) / 10
}

func (o *Orchestrator) estimate(remaining int) *float64 {
	seconds := o.estimateSeconds(remaining)
	return &seconds
}
