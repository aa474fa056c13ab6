// Package testutil provides test helpers for packages that need a real,
// migrated SQLite database.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/storage"
)

// TestDB is a migrated database that is closed when the test ends.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a fresh database file in the test's temp directory.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	groceries := db.MustCreateCategory("owner-1", "Groceries")
//	db.MustCreateRule("owner-1", "albert heijn", model.MatchPrefix, &groceries.ID)
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "spice.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &TestDB{Storage: store, t: t}
}

// MustCreateCategory creates a category or fails the test.
func (db *TestDB) MustCreateCategory(ownerID, name string) *model.Category {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(context.Background(), ownerID, name, "")
	if err != nil {
		db.t.Fatalf("failed to seed category %q: %v", name, err)
	}
	return cat
}

// MustCreateRule creates a manual rule or fails the test.
func (db *TestDB) MustCreateRule(ownerID, pattern string, matchType model.MatchType, categoryID *int64) *model.EnhancementRule {
	db.t.Helper()
	rule := &model.EnhancementRule{
		OwnerID:    ownerID,
		Pattern:    pattern,
		MatchType:  matchType,
		CategoryID: categoryID,
		Source:     model.RuleSourceManual,
	}
	if err := db.Storage.CreateRule(context.Background(), rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", pattern, err)
	}
	return rule
}
