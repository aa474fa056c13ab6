// Package dedup separates new statement rows from rows that were already
// imported by an earlier upload.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/pattern"
)

// ExistingLookup reports how many persisted transactions share a natural key.
type ExistingLookup interface {
	CountMatchingTransactions(ctx context.Context, key model.NaturalKey) (int, error)
}

// Result is the outcome of classifying one batch of candidates.
type Result struct {
	New        []model.TransactionCandidate
	Duplicates int
}

// Classify splits candidates into new rows and duplicates of stored rows.
//
// Matching is multiplicity aware: when the batch holds k rows with the same
// natural key and the store already holds m, the first min(k, m) rows in file
// order are duplicates and the rest are new. The store is queried once per
// distinct key and nothing is cached between calls.
func Classify(ctx context.Context, candidates []model.TransactionCandidate, accountID string, lookup ExistingLookup) (*Result, error) {
	result := &Result{New: make([]model.TransactionCandidate, 0, len(candidates))}
	if len(candidates) == 0 {
		return result, nil
	}

	keys := make([]model.NaturalKey, len(candidates))
	existing := make(map[model.NaturalKey]int)

	for i := range candidates {
		c := candidates[i]
		if c.NormalizedDescription == "" {
			c.NormalizedDescription = pattern.NormalizeDescription(c.Description)
		}
		keys[i] = c.NaturalKey(accountID)

		if _, seen := existing[keys[i]]; seen {
			continue
		}
		count, err := lookup.CountMatchingTransactions(ctx, keys[i])
		if err != nil {
			return nil, fmt.Errorf("failed to look up existing transactions for row %d: %w", c.RowIndex, err)
		}
		existing[keys[i]] = count
	}

	for i := range candidates {
		if existing[keys[i]] > 0 {
			existing[keys[i]]--
			result.Duplicates++
			continue
		}

		c := candidates[i]
		if c.NormalizedDescription == "" {
			c.NormalizedDescription = keys[i].NormalizedDescription
		}
		c.AccountID = accountID
		result.New = append(result.New, c)
	}

	slog.Debug("classified statement rows",
		"account_id", accountID,
		"rows", len(candidates),
		"distinct_keys", len(existing),
		"new", len(result.New),
		"duplicates", result.Duplicates)

	return result, nil
}
