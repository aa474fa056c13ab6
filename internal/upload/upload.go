// Package upload runs one parsed statement through duplicate detection, rule
// enhancement and persistence, then queues AI categorization for what the
// rules left uncategorized.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/statement-spice/internal/dedup"
	"github.com/Veraticus/statement-spice/internal/engine"
	"github.com/Veraticus/statement-spice/internal/jobs"
	"github.com/Veraticus/statement-spice/internal/model"
)

// ErrInvalidRequest is returned when a request lacks an owner or account.
var ErrInvalidRequest = errors.New("invalid upload request")

// Store persists transactions and answers duplicate lookups.
type Store interface {
	dedup.ExistingLookup
	SaveTransactions(ctx context.Context, ownerID, fileID string, candidates []model.TransactionCandidate) ([]model.Transaction, error)
}

// JobQueue creates background jobs.
type JobQueue interface {
	Queue(ctx context.Context, ownerID, fileID string, jobType model.JobType, transactionIDs []int64) (*model.BackgroundJob, error)
	Info(job *model.BackgroundJob) *jobs.BackgroundJobInfo
}

// Request is one statement file to import.
type Request struct {
	OwnerID    string
	AccountID  string
	FileID     string // Generated when empty
	Candidates []model.TransactionCandidate
}

// Summary reports what an import did.
type Summary struct {
	Enhancement       *engine.EnhancementResult
	Job               *jobs.BackgroundJobInfo // Nil when nothing was queued
	FileID            string
	Transactions      []model.Transaction
	DuplicatesSkipped int
	Persisted         int
}

// Processor wires the import pipeline together.
type Processor struct {
	store    Store
	enhancer *engine.Enhancer
	queue    JobQueue
	logger   *slog.Logger
}

// NewProcessor creates an import pipeline.
func NewProcessor(store Store, enhancer *engine.Enhancer, queue JobQueue, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		enhancer: enhancer,
		queue:    queue,
		logger:   logger,
	}
}

// Process imports one statement. A failure to queue the AI job is logged and
// does not fail the import: the rows are already stored.
func (p *Processor) Process(ctx context.Context, req Request) (*Summary, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if req.AccountID == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.NewString()
	}
	logger := p.logger.With("owner_id", req.OwnerID, "file_id", fileID)

	classified, err := dedup.Classify(ctx, req.Candidates, req.AccountID, p.store)
	if err != nil {
		return nil, fmt.Errorf("duplicate detection failed: %w", err)
	}

	enhancement, err := p.enhancer.Enhance(ctx, req.OwnerID, classified.New)
	if err != nil {
		return nil, fmt.Errorf("enhancement failed: %w", err)
	}

	saved, err := p.store.SaveTransactions(ctx, req.OwnerID, fileID, enhancement.Enhanced)
	if err != nil {
		return nil, fmt.Errorf("failed to save transactions: %w", err)
	}

	summary := &Summary{
		Enhancement:       enhancement,
		FileID:            fileID,
		Transactions:      saved,
		DuplicatesSkipped: classified.Duplicates,
		Persisted:         len(saved),
	}

	var unmatched []int64
	for _, txn := range saved {
		if txn.CategorizationStatus == model.CategorizationUncategorized {
			unmatched = append(unmatched, txn.ID)
		}
	}

	if len(unmatched) > 0 && p.queue != nil {
		job, err := p.queue.Queue(ctx, req.OwnerID, fileID, model.JobTypeAICategorization, unmatched)
		if err != nil {
			logger.Warn("Failed to queue AI categorization job",
				"transaction_count", len(unmatched),
				"error", err)
		} else {
			summary.Job = p.queue.Info(job)
		}
	}

	logger.Info("Imported statement",
		"rows", len(req.Candidates),
		"duplicates_skipped", summary.DuplicatesSkipped,
		"persisted", summary.Persisted,
		"matched", enhancement.Matched,
		"queued_for_ai", len(unmatched))

	return summary, nil
}
