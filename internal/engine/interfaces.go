package engine

import (
	"context"

	"github.com/Veraticus/statement-spice/internal/model"
)

// RuleStore is the rule persistence the enhancement pass needs.
type RuleStore interface {
	// FindCandidateRules returns the rules that could match any of the
	// given normalized descriptions.
	FindCandidateRules(ctx context.Context, ownerID string, descriptions []string) ([]model.EnhancementRule, error)
	// UpsertLearnedRule creates a placeholder or AI rule if none exists yet.
	UpsertLearnedRule(ctx context.Context, rule *model.EnhancementRule) (*model.EnhancementRule, error)
}

// TransactionStore is the transaction persistence the AI driver needs.
type TransactionStore interface {
	GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error)
	UpdateTransactionEnhancement(ctx context.Context, txn *model.Transaction) error
}

// Categorizer is an external categorizer called once per batch.
type Categorizer interface {
	// Refresh reloads the owner's category snapshot used to resolve results.
	Refresh(ctx context.Context, ownerID string) error
	// CategorizeBatch returns results keyed by transaction description.
	CategorizeBatch(ctx context.Context, ownerID string, transactions []model.Transaction) ([]CategorizationResult, error)
}

// ProgressReporter receives progress for a running job.
type ProgressReporter interface {
	UpdateProgress(ctx context.Context, jobID string, progress model.JobProgress) error
}

// CategorizationResult is the categorizer's answer for one description.
type CategorizationResult struct {
	CategoryID   *int64
	Description  string
	CategoryName string
	Reason       string
	Status       model.CategorizationStatus // CATEGORIZED or FAILURE
}
