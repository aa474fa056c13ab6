package model

import "time"

// JobType identifies the kind of deferred work a background job carries.
type JobType string

// Job type constants.
const (
	JobTypeAICategorization JobType = "AI_CATEGORIZATION"
	JobTypeAICounterparty   JobType = "AI_COUNTERPARTY"
)

// JobStatus is a state of the background job state machine.
type JobStatus string

// Job status constants.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition (other than retry) is possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DefaultMaxRetries is the retry budget given to new jobs.
const DefaultMaxRetries = 3

// JobProgress is the live progress document stored with a job.
type JobProgress struct {
	EstimatedSecondsRemaining *float64 `json:"estimated_seconds_remaining,omitempty"`
	Phase                     string   `json:"phase,omitempty"`
	UnmatchedTransactionIDs   []int64  `json:"unmatched_transaction_ids"`
	TotalTransactions         int      `json:"total_transactions"`
	ProcessedTransactions     int      `json:"processed_transactions"`
	CurrentBatch              int      `json:"current_batch"`
	TotalBatches              int      `json:"total_batches"`
}

// Remaining returns the number of transactions not yet processed.
func (p JobProgress) Remaining() int {
	if r := p.TotalTransactions - p.ProcessedTransactions; r > 0 {
		return r
	}
	return 0
}

// JobResult is the outcome stored once an AI categorization job completes.
type JobResult struct {
	TotalProcessed          int   `json:"total_processed"`
	SuccessfullyCategorized int   `json:"successfully_categorized"`
	FailedCategorizations   int   `json:"failed_categorizations"`
	ProcessingTimeMS        int64 `json:"processing_time_ms"`
}

// BackgroundJob is a unit of deferred work tracked through the job state machine.
type BackgroundJob struct {
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Result       *JobResult  `json:"result,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	ID           string      `json:"id"`
	OwnerID      string      `json:"owner_id"`
	FileID       string      `json:"file_id,omitempty"`
	JobType      JobType     `json:"job_type"`
	Status       JobStatus   `json:"status"`
	Progress     JobProgress `json:"progress"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
}

// IsTerminal reports whether the job is in a terminal state.
func (j *BackgroundJob) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// CanRetry reports whether the job is failed and still has retry budget.
func (j *BackgroundJob) CanRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}
