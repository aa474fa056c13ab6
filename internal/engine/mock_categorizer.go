package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/Veraticus/statement-spice/internal/model"
)

// MockCategorizer is a deterministic Categorizer for tests. It resolves a
// transaction to the first keyword contained in its lowercased description.
type MockCategorizer struct {
	Keywords     map[string]int64
	Err          error
	FailBatches  map[int]bool
	ExtraResults []CategorizationResult
	calls        []MockCategorizerCall
	refreshes    []string
	mu           sync.Mutex
}

// MockCategorizerCall records details of a batch request.
type MockCategorizerCall struct {
	OwnerID      string
	Transactions []model.Transaction
}

// NewMockCategorizer creates a mock that maps keywords to category IDs.
func NewMockCategorizer(keywords map[string]int64) *MockCategorizer {
	return &MockCategorizer{
		Keywords:    keywords,
		FailBatches: make(map[int]bool),
	}
}

// Refresh records the call.
func (m *MockCategorizer) Refresh(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes = append(m.refreshes, ownerID)
	return nil
}

// CategorizeBatch returns one result per transaction. Batches whose
// 1-based call number is in FailBatches fail with Err.
func (m *MockCategorizer) CategorizeBatch(_ context.Context, ownerID string, transactions []model.Transaction) ([]CategorizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]model.Transaction, len(transactions))
	copy(batch, transactions)
	m.calls = append(m.calls, MockCategorizerCall{OwnerID: ownerID, Transactions: batch})

	if m.FailBatches[len(m.calls)] {
		return nil, m.Err
	}

	results := make([]CategorizationResult, 0, len(transactions)+len(m.ExtraResults))
	for _, txn := range transactions {
		results = append(results, m.categorize(txn))
	}
	results = append(results, m.ExtraResults...)

	return results, nil
}

func (m *MockCategorizer) categorize(txn model.Transaction) CategorizationResult {
	description := strings.ToLower(txn.Description)

	best := ""
	for keyword := range m.Keywords {
		if strings.Contains(description, keyword) && (best == "" || keyword < best) {
			best = keyword
		}
	}

	if best == "" {
		return CategorizationResult{
			Description: txn.Description,
			Status:      model.CategorizationFailure,
			Reason:      "no keyword matched",
		}
	}

	id := m.Keywords[best]
	return CategorizationResult{
		Description:  txn.Description,
		CategoryID:   &id,
		CategoryName: best,
		Status:       model.CategorizationCategorized,
	}
}

// Calls returns all recorded batch calls.
func (m *MockCategorizer) Calls() []MockCategorizerCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockCategorizerCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// RefreshCount returns the number of Refresh calls.
func (m *MockCategorizer) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshes)
}
