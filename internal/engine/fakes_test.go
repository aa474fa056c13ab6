package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/Veraticus/statement-spice/internal/model"
)

// fakeStore is an in-memory RuleStore and TransactionStore.
type fakeStore struct {
	findErr      error
	fetchErr     error
	transactions map[int64]model.Transaction
	learned      map[string]model.EnhancementRule
	rules        []model.EnhancementRule
	findCalls    [][]string
	upserts      []model.EnhancementRule
	updates      []model.Transaction
	mu           sync.Mutex
}

func newFakeStore(rules ...model.EnhancementRule) *fakeStore {
	return &fakeStore{
		rules:        rules,
		transactions: make(map[int64]model.Transaction),
		learned:      make(map[string]model.EnhancementRule),
	}
}

func (f *fakeStore) FindCandidateRules(_ context.Context, _ string, descriptions []string) ([]model.EnhancementRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls = append(f.findCalls, append([]string(nil), descriptions...))
	if f.findErr != nil {
		return nil, f.findErr
	}
	return append([]model.EnhancementRule(nil), f.rules...), nil
}

func (f *fakeStore) UpsertLearnedRule(_ context.Context, rule *model.EnhancementRule) (*model.EnhancementRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, *rule)

	existing, ok := f.learned[rule.Pattern]
	if ok && !(existing.IsPlaceholder() && !rule.IsPlaceholder()) {
		return &existing, nil
	}
	stored := *rule
	stored.ID = int64(len(f.learned) + 1)
	f.learned[rule.Pattern] = stored
	return &stored, nil
}

func (f *fakeStore) GetTransactionsByIDs(_ context.Context, ids []int64) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	var out []model.Transaction
	for _, id := range ids {
		if txn, ok := f.transactions[id]; ok {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateTransactionEnhancement(_ context.Context, txn *model.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *txn)
	f.transactions[txn.ID] = *txn
	return nil
}

func (f *fakeStore) addTransaction(id int64, description string) {
	f.transactions[id] = model.Transaction{
		ID:      id,
		OwnerID: "owner-1",
		TransactionCandidate: model.TransactionCandidate{
			Description:           description,
			NormalizedDescription: description,
			AccountID:             "acc-1",
			CategorizationStatus:  model.CategorizationUncategorized,
			CounterpartyStatus:    model.CounterpartyUnprocessed,
		},
	}
}

func (f *fakeStore) transaction(id int64) model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transactions[id]
}

// fakeReporter records progress updates.
type fakeReporter struct {
	err     error
	updates []model.JobProgress
	mu      sync.Mutex
}

func (r *fakeReporter) UpdateProgress(_ context.Context, _ string, progress model.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, progress)
	return r.err
}
