package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
)

// scriptedClient returns canned responses in order and records prompts.
type scriptedClient struct {
	errs      []error
	responses []string
	prompts   []string
	mu        sync.Mutex
}

func (s *scriptedClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.prompts)
	s.prompts = append(s.prompts, req.Prompt)
	if call < len(s.errs) && s.errs[call] != nil {
		return "", s.errs[call]
	}
	if call < len(s.responses) {
		return s.responses[call], nil
	}
	return "[]", nil
}

func (s *scriptedClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type staticCategories struct {
	err        error
	categories map[string][]model.Category
	loads      int
}

func (s *staticCategories) GetCategories(_ context.Context, ownerID string) ([]model.Category, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.categories[ownerID], nil
}

func testCategories() *staticCategories {
	return &staticCategories{categories: map[string][]model.Category{
		"owner-1": {
			{ID: 1, OwnerID: "owner-1", Name: "Entertainment", Description: "Streaming and games"},
			{ID: 2, OwnerID: "owner-1", Name: "Groceries"},
		},
	}}
}

func newTestCategorizer(client Client, categories CategoryLister) *Categorizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCategorizer(client, categories, Config{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		RateLimit:  1000,
	}, logger)
	return c
}

func txn(id int64, description string) model.Transaction {
	return model.Transaction{ID: id, TransactionCandidate: model.TransactionCandidate{Description: description}}
}

func TestCategorizerRequiresRefresh(t *testing.T) {
	client := &scriptedClient{}
	c := newTestCategorizer(client, testCategories())
	defer c.Close()

	_, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "NETFLIX.COM")})
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, 0, client.calls())
}

func TestCategorizerRefreshError(t *testing.T) {
	categories := &staticCategories{err: errors.New("db down")}
	c := newTestCategorizer(&scriptedClient{}, categories)
	defer c.Close()

	err := c.Refresh(context.Background(), "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestCategorizeBatchOneRequestPerUniqueDescription(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"```json\n" + `[
			{"id": 1, "description": "NETFLIX.COM", "category": "entertainment", "reason": "streaming"},
			{"id": 2, "description": "ALBERT HEIJN 1234", "category": "Groceries"}
		]` + "\n```",
	}}
	c := newTestCategorizer(client, testCategories())
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	batch := []model.Transaction{
		txn(1, "NETFLIX.COM"),
		txn(2, "ALBERT HEIJN 1234"),
		txn(3, "Netflix.com"),
	}

	results, err := c.CategorizeBatch(context.Background(), "owner-1", batch)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())

	prompt := client.prompts[0]
	assert.Equal(t, 1, strings.Count(prompt, "NETFLIX.COM"))
	assert.NotContains(t, prompt, "Netflix.com")
	assert.Contains(t, prompt, "- Entertainment: Streaming and games")

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, batch[i].Description, r.Description)
		assert.Equal(t, model.CategorizationCategorized, r.Status)
		require.NotNil(t, r.CategoryID)
	}
	assert.Equal(t, int64(1), *results[0].CategoryID)
	assert.Equal(t, "Entertainment", results[0].CategoryName)
	assert.Equal(t, "streaming", results[0].Reason)
	assert.Equal(t, int64(2), *results[1].CategoryID)
	assert.Equal(t, int64(1), *results[2].CategoryID)
}

func TestCategorizeBatchUsesCache(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`[{"id": 1, "description": "SPOTIFY", "category": "Entertainment"}]`,
	}}
	c := newTestCategorizer(client, testCategories())
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	_, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "SPOTIFY")})
	require.NoError(t, err)

	results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(2, "spotify")})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls(), "second batch is answered from cache")
	require.Len(t, results, 1)
	assert.Equal(t, model.CategorizationCategorized, results[0].Status)
	assert.Equal(t, "spotify", results[0].Description)
}

func TestCategorizeBatchCacheRespectsSnapshot(t *testing.T) {
	categories := testCategories()
	client := &scriptedClient{responses: []string{
		`[{"id": 1, "category": "Entertainment"}]`,
		`[{"id": 1, "category": "Fun"}]`,
	}}
	c := newTestCategorizer(client, categories)
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	_, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "SPOTIFY")})
	require.NoError(t, err)

	categories.categories["owner-1"] = []model.Category{{ID: 9, OwnerID: "owner-1", Name: "Fun"}}
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(2, "SPOTIFY")})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls(), "cached category no longer exists so the model is asked again")
	require.Len(t, results, 1)
	require.NotNil(t, results[0].CategoryID)
	assert.Equal(t, int64(9), *results[0].CategoryID)
	assert.Equal(t, 2, categories.loads)
}

func TestCategorizeBatchUnresolvedAndMissing(t *testing.T) {
	client := &scriptedClient{responses: []string{`[
		{"id": 1, "description": "SHELL 0042", "category": "Fuel"},
		{"id": 7, "description": "MYSTERY SHOP", "category": "Groceries"}
	]`}}
	c := newTestCategorizer(client, testCategories())
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{
		txn(1, "SHELL 0042"),
		txn(2, "IKEA"),
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "SHELL 0042", results[0].Description)
	assert.Equal(t, model.CategorizationFailure, results[0].Status)
	assert.Nil(t, results[0].CategoryID)
	assert.Contains(t, results[0].Reason, "Fuel")

	assert.Equal(t, "MYSTERY SHOP", results[1].Description, "answers for unknown descriptions are passed through")
	assert.Equal(t, model.CategorizationFailure, results[1].Status)
}

func TestCategorizeBatchMatchesByDescriptionWithoutID(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"results": [{"description": "Albert Heijn", "category": "Groceries"}]}`,
	}}
	c := newTestCategorizer(client, testCategories())
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "ALBERT HEIJN")})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.CategorizationCategorized, results[0].Status)
	assert.Equal(t, "ALBERT HEIJN", results[0].Description)
}

func TestCategorizeBatchNoCategories(t *testing.T) {
	client := &scriptedClient{}
	c := newTestCategorizer(client, &staticCategories{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background(), "owner-1"))

	results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "IKEA")})
	require.NoError(t, err)
	assert.Equal(t, 0, client.calls())
	require.Len(t, results, 1)
	assert.Equal(t, model.CategorizationFailure, results[0].Status)
}

func TestCategorizeBatchRetries(t *testing.T) {
	t.Run("transient error then success", func(t *testing.T) {
		client := &scriptedClient{
			errs:      []error{errors.New("connection reset")},
			responses: []string{"", `[{"id": 1, "category": "Groceries"}]`},
		}
		c := newTestCategorizer(client, testCategories())
		defer c.Close()
		require.NoError(t, c.Refresh(context.Background(), "owner-1"))

		results, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "IKEA")})
		require.NoError(t, err)
		assert.Equal(t, 2, client.calls())
		require.Len(t, results, 1)
		assert.Equal(t, model.CategorizationCategorized, results[0].Status)
	})

	t.Run("malformed output is retried then surfaces", func(t *testing.T) {
		client := &scriptedClient{responses: []string{"nope", "still nope"}}
		c := newTestCategorizer(client, testCategories())
		defer c.Close()
		require.NoError(t, c.Refresh(context.Background(), "owner-1"))

		_, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "IKEA")})
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrMaxRetries)
		assert.ErrorIs(t, err, ErrMalformedResponse)
		assert.Equal(t, 2, client.calls())
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		permanent := &common.RetryableError{Err: fmt.Errorf("bad request"), Retryable: false}
		client := &scriptedClient{errs: []error{permanent}}
		c := newTestCategorizer(client, testCategories())
		defer c.Close()
		require.NoError(t, c.Refresh(context.Background(), "owner-1"))

		_, err := c.CategorizeBatch(context.Background(), "owner-1", []model.Transaction{txn(1, "IKEA")})
		require.Error(t, err)
		assert.Equal(t, 1, client.calls())
	})
}

func TestCategorizeBatchEmpty(t *testing.T) {
	c := newTestCategorizer(&scriptedClient{}, testCategories())
	defer c.Close()

	results, err := c.CategorizeBatch(context.Background(), "owner-1", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
