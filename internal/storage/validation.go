// Package storage provides the data persistence layer for the spice application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/statement-spice/internal/model"
)

// Validation errors.
var (
	ErrNilContext           = errors.New("context cannot be nil")
	ErrEmptyString          = errors.New("string parameter cannot be empty")
	ErrNilParameter         = errors.New("parameter cannot be nil")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrInvalidJob           = errors.New("invalid job")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrCounterpartyNotFound = errors.New("counterparty account not found")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateCandidates validates candidates before they are persisted.
func validateCandidates(candidates []model.TransactionCandidate) error {
	for i := range candidates {
		if err := validateCandidate(&candidates[i]); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateCandidate validates a single candidate.
func validateCandidate(c *model.TransactionCandidate) error {
	if c.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("%w: missing description", ErrInvalidTransaction)
	}
	if c.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	}
	return nil
}

// validateJob validates a job before it is created.
func validateJob(job *model.BackgroundJob) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidJob)
	}
	if job.OwnerID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidJob)
	}
	switch job.JobType {
	case model.JobTypeAICategorization, model.JobTypeAICounterparty:
	default:
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, job.JobType)
	}
	if job.Status != model.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be %s, got %s", ErrInvalidJob, model.JobStatusPending, job.Status)
	}
	return nil
}
