package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/pattern"
)

// PhaseCategorizing is the progress phase reported while batches run.
const PhaseCategorizing = "ai_categorization"

// DriverConfig configures batch AI categorization.
type DriverConfig struct {
	BatchSize  int
	BatchPause time.Duration
}

// DefaultDriverConfig returns the default configuration.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		BatchSize:  20,
		BatchPause: 500 * time.Millisecond,
	}
}

// BatchDriver categorizes a job's unmatched transactions in fixed-size
// batches and learns rules from successful results.
type BatchDriver struct {
	transactions TransactionStore
	rules        RuleStore
	categorizer  Categorizer
	progress     ProgressReporter
	logger       *slog.Logger
	config       DriverConfig
}

// NewBatchDriver creates a driver with the given collaborators.
func NewBatchDriver(
	transactions TransactionStore,
	rules RuleStore,
	categorizer Categorizer,
	progress ProgressReporter,
	config DriverConfig,
	logger *slog.Logger,
) *BatchDriver {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultDriverConfig().BatchSize
	}
	if config.BatchPause < 0 {
		config.BatchPause = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BatchDriver{
		transactions: transactions,
		rules:        rules,
		categorizer:  categorizer,
		progress:     progress,
		config:       config,
		logger:       logger,
	}
}

// batchOutcome counts results for one batch. err is set when the
// categorizer call itself failed.
type batchOutcome struct {
	err       error
	succeeded int
	failed    int
}

// Handle processes a claimed job and returns its result. A failed batch is
// recorded and skipped; an error is returned only when the job as a whole
// cannot proceed, which includes no batch getting an answer from the
// categorizer.
func (d *BatchDriver) Handle(ctx context.Context, job *model.BackgroundJob) (*model.JobResult, error) {
	start := time.Now()
	ids := job.Progress.UnmatchedTransactionIDs
	if len(ids) == 0 {
		return nil, fmt.Errorf("job %s: %w", job.ID, common.ErrNoTransactions)
	}

	if err := d.categorizer.Refresh(ctx, job.OwnerID); err != nil {
		return nil, fmt.Errorf("failed to load categories for job %s: %w", job.ID, err)
	}

	batches := splitIDs(ids, d.config.BatchSize)
	logger := d.logger.With("job_id", job.ID, "owner_id", job.OwnerID)
	logger.Info("Starting AI categorization",
		"transaction_count", len(ids),
		"batches", len(batches),
		"batch_size", d.config.BatchSize)

	result := &model.JobResult{}
	progress := job.Progress
	progress.TotalTransactions = len(ids)
	progress.TotalBatches = len(batches)
	progress.Phase = PhaseCategorizing

	var (
		answered int
		lastErr  error
	)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		txns, err := d.transactions.GetTransactionsByIDs(ctx, batch)
		if err != nil {
			lastErr = err
			result.FailedCategorizations += len(batch)
			logger.Error("Failed to fetch batch",
				"batch", i+1,
				"transaction_count", len(batch),
				"error", err)
		} else {
			outcome := d.processBatch(ctx, logger, job.OwnerID, txns)
			if outcome.err != nil {
				lastErr = outcome.err
			} else {
				answered++
			}
			// IDs that no longer resolve to a transaction cannot be categorized.
			outcome.failed += len(batch) - len(txns)
			result.SuccessfullyCategorized += outcome.succeeded
			result.FailedCategorizations += outcome.failed
		}

		result.TotalProcessed += len(batch)
		progress.CurrentBatch = i + 1
		progress.ProcessedTransactions = result.TotalProcessed

		if err := d.progress.UpdateProgress(ctx, job.ID, progress); err != nil {
			if errors.Is(err, common.ErrConflict) {
				return nil, fmt.Errorf("job %s was taken over: %w", job.ID, err)
			}
			logger.Warn("Failed to update job progress", "batch", i+1, "error", err)
		}

		if i < len(batches)-1 && d.config.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.config.BatchPause):
			}
		}
	}

	if answered == 0 {
		return nil, fmt.Errorf("%w: no batch of job %s was categorized: %w",
			common.ErrCategorizationFailed, job.ID, lastErr)
	}

	result.ProcessingTimeMS = time.Since(start).Milliseconds()

	logger.Info("Finished AI categorization",
		"total_processed", result.TotalProcessed,
		"successfully_categorized", result.SuccessfullyCategorized,
		"failed_categorizations", result.FailedCategorizations,
		"processing_time_ms", result.ProcessingTimeMS)

	return result, nil
}

// processBatch categorizes one batch with a single categorizer call.
func (d *BatchDriver) processBatch(ctx context.Context, logger *slog.Logger, ownerID string, txns []model.Transaction) batchOutcome {
	if len(txns) == 0 {
		return batchOutcome{}
	}

	results, err := d.categorizer.CategorizeBatch(ctx, ownerID, txns)
	if err != nil {
		logger.Error("Categorizer failed for batch",
			"transaction_count", len(txns),
			"error", err)
		for i := range txns {
			d.markFailed(ctx, logger, &txns[i])
		}
		return batchOutcome{err: err, failed: len(txns)}
	}

	assigned, orphans := assignResults(txns, results)
	outcome := batchOutcome{failed: orphans}
	if orphans > 0 {
		logger.Warn("Categorizer returned results for unknown descriptions", "count", orphans)
	}

	for i := range txns {
		txn := &txns[i]
		r, ok := assigned[i]
		if !ok || r.Status != model.CategorizationCategorized || r.CategoryID == nil {
			d.markFailed(ctx, logger, txn)
			outcome.failed++
			continue
		}

		if d.applyResult(ctx, logger, ownerID, txn, r) {
			outcome.succeeded++
		} else {
			outcome.failed++
		}
	}

	return outcome
}

// applyResult stores a successful categorization and learns a rule for the
// description so the next upload resolves it without the categorizer.
func (d *BatchDriver) applyResult(ctx context.Context, logger *slog.Logger, ownerID string, txn *model.Transaction, r CategorizationResult) bool {
	if txn.CategorizationStatus == model.CategorizationManual {
		return true
	}

	id := *r.CategoryID
	txn.CategoryID = &id
	txn.CategorizationStatus = model.CategorizationCategorized

	if err := d.transactions.UpdateTransactionEnhancement(ctx, txn); err != nil {
		logger.Error("Failed to save categorization",
			"transaction_id", txn.ID,
			"error", err)
		return false
	}

	description := txn.NormalizedDescription
	if description == "" {
		description = pattern.NormalizeDescription(txn.Description)
	}
	if description == "" {
		return true
	}

	if _, err := d.rules.UpsertLearnedRule(ctx, &model.EnhancementRule{
		OwnerID:    ownerID,
		Pattern:    description,
		MatchType:  model.MatchExact,
		CategoryID: &id,
		Source:     model.RuleSourceAI,
	}); err != nil {
		logger.Warn("Failed to learn rule from categorization",
			"transaction_id", txn.ID,
			"pattern", description,
			"error", err)
	}

	return true
}

func (d *BatchDriver) markFailed(ctx context.Context, logger *slog.Logger, txn *model.Transaction) {
	if txn.CategorizationStatus == model.CategorizationManual {
		return
	}
	txn.CategorizationStatus = model.CategorizationFailure
	if err := d.transactions.UpdateTransactionEnhancement(ctx, txn); err != nil {
		logger.Error("Failed to mark transaction as failed",
			"transaction_id", txn.ID,
			"error", err)
	}
}

// assignResults pairs results with transactions by description. Each
// description keeps a queue of transaction indexes so repeated descriptions
// consume results in order. Results left without a transaction are orphans.
func assignResults(txns []model.Transaction, results []CategorizationResult) (map[int]CategorizationResult, int) {
	queues := make(map[string][]int, len(txns))
	for i := range txns {
		key := resultKey(txns[i].Description)
		queues[key] = append(queues[key], i)
	}

	assigned := make(map[int]CategorizationResult, len(results))
	orphans := 0
	for _, r := range results {
		key := resultKey(r.Description)
		queue := queues[key]
		if len(queue) == 0 {
			orphans++
			continue
		}
		assigned[queue[0]] = r
		queues[key] = queue[1:]
	}

	return assigned, orphans
}

func resultKey(description string) string {
	return pattern.NormalizeDescription(description)
}

func splitIDs(ids []int64, size int) [][]int64 {
	var batches [][]int64
	for size < len(ids) {
		ids, batches = ids[size:], append(batches, ids[:size])
	}
	if len(ids) > 0 {
		batches = append(batches, ids)
	}
	return batches
}
