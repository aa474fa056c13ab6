package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
)

const transactionColumns = `
	id, owner_id, file_id, account_id, row_index, date, description,
	normalized_description, amount, category_id, counterparty_id,
	categorization_status, counterparty_status, created_at`

// SaveTransactions persists candidates for ownerID in a single database
// transaction and returns them with their assigned IDs, in input order.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, ownerID, fileID string, candidates []model.TransactionCandidate) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	saved := make([]model.Transaction, 0, len(candidates))
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions (
				owner_id, file_id, account_id, row_index, date, description,
				normalized_description, amount, category_id, counterparty_id,
				categorization_status, counterparty_status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, c := range candidates {
			if c.CategorizationStatus == "" {
				c.CategorizationStatus = model.CategorizationUncategorized
			}
			if c.CounterpartyStatus == "" {
				c.CounterpartyStatus = model.CounterpartyUnprocessed
			}

			result, err := stmt.ExecContext(ctx,
				ownerID, fileID, c.AccountID, c.RowIndex, c.Date.Format(model.DateLayout), c.Description,
				c.NormalizedDescription, c.Amount.String(), nullableID(c.CategoryID), nullableID(c.CounterpartyID),
				string(c.CategorizationStatus), string(c.CounterpartyStatus), now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction at row %d: %w", c.RowIndex, err)
			}

			id, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get transaction ID: %w", err)
			}

			saved = append(saved, model.Transaction{
				ID:                   id,
				OwnerID:              ownerID,
				FileID:               fileID,
				CreatedAt:            now,
				TransactionCandidate: c,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// CountMatchingTransactions counts stored transactions sharing the natural key.
func (s *SQLiteStorage) CountMatchingTransactions(ctx context.Context, key model.NaturalKey) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE account_id = ? AND date = ? AND normalized_description = ? AND amount = ?`,
		key.AccountID, key.Date, key.NormalizedDescription, key.Amount,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count matching transactions: %w", err)
	}

	return count, nil
}

// GetTransactionsByIDs returns the transactions with the given IDs, ordered by ID.
// Unknown IDs are skipped.
func (s *SQLiteStorage) GetTransactionsByIDs(ctx context.Context, ids []int64) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var txns []model.Transaction
	for _, part := range chunk(ids, maxInParams) {
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}

		query := "SELECT " + transactionColumns + " FROM transactions WHERE id IN (" + placeholders(len(part)) + ") ORDER BY id"
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query transactions: %w", err)
		}

		for rows.Next() {
			txn, scanErr := scanTransaction(rows)
			if scanErr != nil {
				_ = rows.Close()
				return nil, scanErr
			}
			txns = append(txns, *txn)
		}
		iterErr := rows.Err()
		_ = rows.Close()
		if iterErr != nil {
			return nil, fmt.Errorf("error iterating transactions: %w", iterErr)
		}
	}

	return txns, nil
}

// GetTransactionByID returns a single transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %d", common.ErrNotFound, id)
	}
	return txn, err
}

// UpdateTransactionEnhancement stores the category, counterparty and statuses of txn.
func (s *SQLiteStorage) UpdateTransactionEnhancement(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, counterparty_id = ?, categorization_status = ?, counterparty_status = ?
		WHERE id = ?`,
		nullableID(txn.CategoryID), nullableID(txn.CounterpartyID),
		string(txn.CategorizationStatus), string(txn.CounterpartyStatus), txn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", txn.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: transaction %d", common.ErrNotFound, txn.ID)
	}

	return nil
}

// GetTransactionCount returns the number of stored transactions for ownerID.
func (s *SQLiteStorage) GetTransactionCount(ctx context.Context, ownerID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE owner_id = ?", ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	var (
		txn            model.Transaction
		date           string
		amount         decimal.Decimal
		categoryID     sql.NullInt64
		counterpartyID sql.NullInt64
		catStatus      string
		cpStatus       string
	)

	err := row.Scan(
		&txn.ID, &txn.OwnerID, &txn.FileID, &txn.AccountID, &txn.RowIndex, &date, &txn.Description,
		&txn.NormalizedDescription, &amount, &categoryID, &counterpartyID,
		&catStatus, &cpStatus, &txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	parsed, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q for transaction %d: %w", date, txn.ID, err)
	}

	txn.Date = parsed
	txn.Amount = amount
	txn.CategoryID = fromNullID(categoryID)
	txn.CounterpartyID = fromNullID(counterpartyID)
	txn.CategorizationStatus = model.CategorizationStatus(catStatus)
	txn.CounterpartyStatus = model.CounterpartyStatus(cpStatus)

	return &txn, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func fromNullID(id sql.NullInt64) *int64 {
	if !id.Valid {
		return nil
	}
	v := id.Int64
	return &v
}
