package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
)

// GetCategories returns all categories owned by ownerID.
func (s *SQLiteStorage) GetCategories(ctx context.Context, ownerID string) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, owner_id, name, description, created_at
		FROM categories
		WHERE owner_id = ?
		ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var cat model.Category
		if err := rows.Scan(&cat.ID, &cat.OwnerID, &cat.Name, &cat.Description, &cat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, cat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "owner_id", ownerID, "count", len(categories))
	return categories, nil
}

// GetCategoryByID returns a category by its ID.
func (s *SQLiteStorage) GetCategoryByID(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var cat model.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, created_at
		FROM categories
		WHERE id = ?`, id).Scan(&cat.ID, &cat.OwnerID, &cat.Name, &cat.Description, &cat.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %d", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query category: %w", err)
	}

	return &cat, nil
}

// CreateCategory creates a new category for ownerID.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, ownerID, name, description string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (owner_id, name, description, created_at)
		VALUES (?, ?, ?, ?)`, ownerID, name, description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	slog.Info("created category", "owner_id", ownerID, "name", name, "id", id)

	return &model.Category{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}, nil
}

// CreateCounterparty creates a new counterparty account for ownerID.
func (s *SQLiteStorage) CreateCounterparty(ctx context.Context, ownerID, name, iban string) (*model.CounterpartyAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	iban = strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO counterparty_accounts (owner_id, name, iban, created_at)
		VALUES (?, ?, ?, ?)`, ownerID, name, iban, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: counterparty %q", common.ErrDuplicateEntry, name)
		}
		return nil, fmt.Errorf("failed to create counterparty: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get counterparty ID: %w", err)
	}

	return &model.CounterpartyAccount{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		IBAN:      iban,
		CreatedAt: now,
	}, nil
}

// GetCounterparties returns all counterparty accounts owned by ownerID.
func (s *SQLiteStorage) GetCounterparties(ctx context.Context, ownerID string) ([]model.CounterpartyAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, iban, created_at
		FROM counterparty_accounts
		WHERE owner_id = ?
		ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query counterparties: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.CounterpartyAccount
	for rows.Next() {
		var acc model.CounterpartyAccount
		if err := rows.Scan(&acc.ID, &acc.OwnerID, &acc.Name, &acc.IBAN, &acc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan counterparty: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counterparties: %w", err)
	}

	return accounts, nil
}

// ownedRowExists reports whether table has a row with id belonging to ownerID.
func ownedRowExists(ctx context.Context, q queryable, table string, ownerID string, id int64) (bool, error) {
	var count int
	// table is always one of the package's own constants.
	query := "SELECT COUNT(*) FROM " + table + " WHERE id = ? AND owner_id = ?"
	if err := q.QueryRowContext(ctx, query, id, ownerID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
