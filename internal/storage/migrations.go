package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS categories (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT NOT NULL,
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					UNIQUE(owner_id, name)
				)`,

				`CREATE TABLE IF NOT EXISTS counterparty_accounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT NOT NULL,
					name TEXT NOT NULL,
					iban TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					UNIQUE(owner_id, name)
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT NOT NULL,
					file_id TEXT NOT NULL DEFAULT '',
					account_id TEXT NOT NULL,
					row_index INTEGER NOT NULL DEFAULT 0,
					date TEXT NOT NULL,
					description TEXT NOT NULL,
					normalized_description TEXT NOT NULL,
					amount TEXT NOT NULL,
					category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
					counterparty_id INTEGER REFERENCES counterparty_accounts(id) ON DELETE SET NULL,
					categorization_status TEXT NOT NULL,
					counterparty_status TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_transactions_natural_key
					ON transactions(account_id, date, normalized_description, amount)`,
				`CREATE INDEX idx_transactions_owner_description
					ON transactions(owner_id, normalized_description)`,

				`CREATE TABLE IF NOT EXISTS enhancement_rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					owner_id TEXT NOT NULL,
					pattern TEXT NOT NULL,
					match_type TEXT NOT NULL CHECK (match_type IN ('EXACT', 'PREFIX', 'INFIX')),
					category_id INTEGER REFERENCES categories(id) ON DELETE CASCADE,
					counterparty_account_id INTEGER REFERENCES counterparty_accounts(id) ON DELETE CASCADE,
					min_amount TEXT,
					max_amount TEXT,
					start_date TEXT,
					end_date TEXT,
					source TEXT NOT NULL CHECK (source IN ('MANUAL', 'AUTO', 'AI')),
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_rules_owner_type ON enhancement_rules(owner_id, match_type)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Make learned rules unique per description",
		Up: func(tx *sql.Tx) error {
			// Placeholder and AI rules are keyed by owner and normalized
			// description so concurrent uploads upsert instead of inserting twice.
			_, err := tx.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_learned_pattern
				ON enhancement_rules(owner_id, pattern)
				WHERE source IN ('AUTO', 'AI')
			`)
			return err
		},
	},
	{
		Version:     3,
		Description: "Add background jobs",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS background_jobs (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					file_id TEXT NOT NULL DEFAULT '',
					job_type TEXT NOT NULL,
					status TEXT NOT NULL,
					progress TEXT NOT NULL DEFAULT '{}',
					result TEXT,
					error_message TEXT,
					created_at DATETIME NOT NULL,
					started_at DATETIME,
					completed_at DATETIME,
					retry_count INTEGER NOT NULL DEFAULT 0,
					max_retries INTEGER NOT NULL DEFAULT 3
				)`,
				`CREATE INDEX idx_jobs_claim ON background_jobs(status, job_type, created_at)`,
				`CREATE INDEX idx_jobs_owner ON background_jobs(owner_id, created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion reports the schema version stored in the database.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
