package jobs

import (
	"context"
	"math"
	"time"

	"github.com/Veraticus/statement-spice/internal/model"
)

// BackgroundJobInfo is returned to the caller that queued a job.
type BackgroundJobInfo struct {
	JobID                      string          `json:"job_id"`
	Status                     model.JobStatus `json:"status"`
	StatusURL                  string          `json:"status_url"`
	RemainingTransactions      int             `json:"remaining_transactions"`
	EstimatedCompletionSeconds float64         `json:"estimated_completion_seconds"`
}

// StatusProgress is the progress part of a job status.
type StatusProgress struct {
	TotalTransactions          int     `json:"total_transactions"`
	ProcessedTransactions      int     `json:"processed_transactions"`
	RemainingTransactions      int     `json:"remaining_transactions"`
	CompletionPercentage       float64 `json:"completion_percentage"`
	EstimatedCompletionSeconds float64 `json:"estimated_completion_seconds"`
	CurrentBatch               int     `json:"current_batch"`
	TotalBatches               int     `json:"total_batches"`
	Phase                      string  `json:"phase,omitempty"`
}

// Status is the read-only projection served to status pollers.
type Status struct {
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at"`
	Result       *model.JobResult `json:"result"`
	ErrorMessage *string          `json:"error_message"`
	JobID        string           `json:"job_id"`
	JobType      model.JobType    `json:"job_type"`
	Status       model.JobStatus  `json:"status"`
	Progress     StatusProgress   `json:"progress"`
	RetryCount   int              `json:"retry_count"`
	MaxRetries   int              `json:"max_retries"`
}

// StatusForAPI returns the status projection of a job, or ErrJobNotFound.
func (o *Orchestrator) StatusForAPI(ctx context.Context, jobID string) (*Status, error) {
	job, err := o.get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.Project(job), nil
}

// Project builds the status projection of job.
func (o *Orchestrator) Project(job *model.BackgroundJob) *Status {
	p := job.Progress
	remaining := p.Remaining()

	var eta float64
	if !job.IsTerminal() {
		eta = o.estimateSeconds(remaining)
	}

	status := &Status{
		JobID:        job.ID,
		JobType:      job.JobType,
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		Progress: StatusProgress{
			TotalTransactions:          p.TotalTransactions,
			ProcessedTransactions:      p.ProcessedTransactions,
			RemainingTransactions:      remaining,
			CompletionPercentage:       completionPercentage(p.ProcessedTransactions, p.TotalTransactions),
			EstimatedCompletionSeconds: eta,
			CurrentBatch:               p.CurrentBatch,
			TotalBatches:               p.TotalBatches,
			Phase:                      p.Phase,
		},
	}

	if job.Status == model.JobStatusCompleted {
		status.Result = job.Result
	}

	return status
}

func completionPercentage(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}
