package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/engine"
	"github.com/Veraticus/statement-spice/internal/jobs"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
	"github.com/Veraticus/statement-spice/internal/storage"
	"github.com/Veraticus/statement-spice/internal/testutil"
)

const testOwner = "owner-1"

type fixture struct {
	store     *storage.SQLiteStorage
	orch      *jobs.Orchestrator
	processor *Processor
	category  *model.Category
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	store := db.Storage
	cat := db.MustCreateCategory(testOwner, "Entertainment")
	db.MustCreateRule(testOwner, "netflix", model.MatchExact, &cat.ID)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := jobs.NewOrchestrator(store, jobs.DefaultConfig(), logger)
	return &fixture{
		store:     store,
		orch:      orch,
		processor: NewProcessor(store, engine.NewEnhancer(store, logger), orch, logger),
		category:  cat,
	}
}

func candidate(day int, description, amount string, row int) model.TransactionCandidate {
	return model.NewTransactionCandidate(
		time.Date(2024, time.May, day, 0, 0, 0, 0, time.UTC),
		decimal.RequireFromString(amount),
		description,
		"",
		row,
	)
}

func TestProcess_EnhancesPersistsAndQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.processor.Process(ctx, Request{
		OwnerID:   testOwner,
		AccountID: "acc-1",
		FileID:    "file-1",
		Candidates: []model.TransactionCandidate{
			candidate(1, "NETFLIX.COM", "-15.99", 0),
			candidate(2, "IKEA DELFT", "-120.00", 1),
			candidate(3, "IKEA DELFT", "-8.50", 2),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "file-1", summary.FileID)
	assert.Equal(t, 3, summary.Persisted)
	assert.Equal(t, 0, summary.DuplicatesSkipped)
	assert.Equal(t, 1, summary.Enhancement.Matched)
	assert.Equal(t, 2, summary.Enhancement.Uncategorized)
	assert.InDelta(t, 33.3, summary.Enhancement.MatchRatePct, 0.001)

	require.Len(t, summary.Transactions, 3)
	netflix := summary.Transactions[0]
	assert.Equal(t, model.CategorizationCategorized, netflix.CategorizationStatus)
	require.NotNil(t, netflix.CategoryID)
	assert.Equal(t, f.category.ID, *netflix.CategoryID)
	assert.Equal(t, "acc-1", netflix.AccountID)

	require.NotNil(t, summary.Job)
	assert.Equal(t, model.JobStatusPending, summary.Job.Status)
	assert.Equal(t, 2, summary.Job.RemainingTransactions)
	assert.InDelta(t, 1.0, summary.Job.EstimatedCompletionSeconds, 0.001)

	job, err := f.orch.Get(ctx, summary.Job.JobID)
	require.NoError(t, err)
	assert.Equal(t, []int64{summary.Transactions[1].ID, summary.Transactions[2].ID}, job.Progress.UnmatchedTransactionIDs)
	assert.Equal(t, "file-1", job.FileID)

	rules, err := f.store.ListRules(ctx, testOwner)
	require.NoError(t, err)
	placeholders := 0
	for _, r := range rules {
		if r.IsPlaceholder() {
			placeholders++
			assert.Equal(t, "ikea delft", r.Pattern)
		}
	}
	assert.Equal(t, 1, placeholders)
}

func TestProcess_SkipsDuplicatesOfEarlierUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := []model.TransactionCandidate{
		candidate(1, "NETFLIX.COM", "-15.99", 0),
		candidate(2, "COFFEE BAR", "-3.50", 1),
	}
	_, err := f.processor.Process(ctx, Request{OwnerID: testOwner, AccountID: "acc-1", Candidates: first})
	require.NoError(t, err)

	// Overlapping statement: the same coffee twice, one of them already stored.
	second := []model.TransactionCandidate{
		candidate(2, "COFFEE BAR", "-3.5", 0),
		candidate(2, "COFFEE BAR", "-3.50", 1),
		candidate(4, "NETFLIX.COM", "-15.99", 2),
	}
	summary, err := f.processor.Process(ctx, Request{OwnerID: testOwner, AccountID: "acc-1", Candidates: second})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.DuplicatesSkipped)
	assert.Equal(t, 2, summary.Persisted)
	assert.NotEmpty(t, summary.FileID)

	count, err := f.store.GetTransactionCount(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestProcess_AllMatchedQueuesNothing(t *testing.T) {
	f := newFixture(t)

	summary, err := f.processor.Process(context.Background(), Request{
		OwnerID:    testOwner,
		AccountID:  "acc-1",
		Candidates: []model.TransactionCandidate{candidate(1, "Netflix", "-15.99", 0)},
	})
	require.NoError(t, err)
	assert.Nil(t, summary.Job)

	jobList, err := f.orch.List(context.Background(), service.JobFilter{OwnerID: testOwner})
	require.NoError(t, err)
	assert.Empty(t, jobList)
}

type failingQueue struct {
	*jobs.Orchestrator
}

func (failingQueue) Queue(context.Context, string, string, model.JobType, []int64) (*model.BackgroundJob, error) {
	return nil, errors.New("queue unavailable")
}

func TestProcess_QueueFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	processor := NewProcessor(f.store, engine.NewEnhancer(f.store, logger), failingQueue{f.orch}, logger)

	summary, err := processor.Process(context.Background(), Request{
		OwnerID:    testOwner,
		AccountID:  "acc-1",
		Candidates: []model.TransactionCandidate{candidate(1, "UNKNOWN SHOP", "-9.99", 0)},
	})
	require.NoError(t, err)
	assert.Nil(t, summary.Job)
	assert.Equal(t, 1, summary.Persisted)
}

func TestProcess_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(context.Background(), Request{AccountID: "acc-1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.processor.Process(context.Background(), Request{OwnerID: testOwner})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestProcess_EmptyStatement(t *testing.T) {
	f := newFixture(t)

	summary, err := f.processor.Process(context.Background(), Request{OwnerID: testOwner, AccountID: "acc-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Persisted)
	assert.Nil(t, summary.Job)
}
