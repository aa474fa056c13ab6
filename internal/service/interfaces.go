// Package service defines the interfaces shared between application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/statement-spice/internal/model"
)

// Storage is the full persistence contract used to wire the application.
// Individual components depend on the narrower interfaces they declare.
type Storage interface {
	// Transactions
	CountMatchingTransactions(ctx context.Context, key model.NaturalKey) (int, error)
	SaveTransactions(ctx context.Context, ownerID, fileID string, candidates []model.TransactionCandidate) ([]model.Transaction, error)
	GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error)
	UpdateTransactionEnhancement(ctx context.Context, txn *model.Transaction) error

	// Enhancement rules
	CreateRule(ctx context.Context, rule *model.EnhancementRule) error
	GetRule(ctx context.Context, id int64) (*model.EnhancementRule, error)
	ListRules(ctx context.Context, ownerID string) ([]model.EnhancementRule, error)
	DeleteRule(ctx context.Context, ownerID string, id int64) error
	FindRulesForOwner(ctx context.Context, ownerID string) ([]model.EnhancementRule, error)
	FindCandidateRules(ctx context.Context, ownerID string, descriptions []string) ([]model.EnhancementRule, error)
	UpsertLearnedRule(ctx context.Context, rule *model.EnhancementRule) (*model.EnhancementRule, error)
	RuleUsageCount(ctx context.Context, id int64) (int, error)
	CleanupUnusedRules(ctx context.Context, ownerID string, placeholdersOnly bool) (int, error)

	// Categories and counterparties
	CreateCategory(ctx context.Context, ownerID, name, description string) (*model.Category, error)
	GetCategories(ctx context.Context, ownerID string) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	CreateCounterparty(ctx context.Context, ownerID, name, iban string) (*model.CounterpartyAccount, error)
	GetCounterparties(ctx context.Context, ownerID string) ([]model.CounterpartyAccount, error)

	// Background jobs
	CreateJob(ctx context.Context, job *model.BackgroundJob) error
	ClaimPendingJob(ctx context.Context, jobType model.JobType, now time.Time) (*model.BackgroundJob, error)
	UpdateJob(ctx context.Context, job *model.BackgroundJob, expected model.JobStatus) error
	GetJob(ctx context.Context, id string) (*model.BackgroundJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.BackgroundJob, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// JobFilter defines filtering options for job queries.
type JobFilter struct {
	OwnerID string
	Status  model.JobStatus
	Limit   int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
