package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/pattern"
)

const ruleColumns = `
	id, owner_id, pattern, match_type, category_id, counterparty_account_id,
	min_amount, max_amount, start_date, end_date, source, created_at, updated_at`

// ruleUsageCondition matches transactions t against rule r by description.
const ruleUsageCondition = `
	t.owner_id = r.owner_id AND CASE r.match_type
		WHEN 'EXACT' THEN t.normalized_description = r.pattern
		WHEN 'PREFIX' THEN substr(t.normalized_description, 1, length(r.pattern)) = r.pattern
		WHEN 'INFIX' THEN instr(t.normalized_description, r.pattern) > 0
		ELSE 0
	END`

// CreateRule validates and stores a rule. Referenced category and
// counterparty must exist for the rule's owner.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.EnhancementRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := pattern.ValidateRule(rule); err != nil {
		return err
	}

	rule.Pattern = canonicalPattern(rule.Pattern)

	if err := s.verifyRuleReferences(ctx, s.db, rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO enhancement_rules (
			owner_id, pattern, match_type, category_id, counterparty_account_id,
			min_amount, max_amount, start_date, end_date, source, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.OwnerID, rule.Pattern, string(rule.MatchType),
		nullableID(rule.CategoryID), nullableID(rule.CounterpartyAccountID),
		nullableDecimal(rule.MinAmount), nullableDecimal(rule.MaxAmount),
		nullableDate(rule.StartDate), nullableDate(rule.EndDate),
		string(rule.Source), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: learned rule for %q", common.ErrDuplicateEntry, rule.Pattern)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule ID: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now

	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM enhancement_rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %d", common.ErrNotFound, id)
	}
	return rule, err
}

// ListRules returns every rule of ownerID, placeholders included, ordered by
// match type precedence and age.
func (s *SQLiteStorage) ListRules(ctx context.Context, ownerID string) ([]model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM enhancement_rules
		WHERE owner_id = ?
		ORDER BY CASE match_type WHEN 'EXACT' THEN 0 WHEN 'PREFIX' THEN 1 ELSE 2 END, created_at, id`,
		ownerID)
}

// FindRulesForOwner returns the rules of ownerID that carry an outcome, in
// the same order as ListRules. Placeholders are excluded.
func (s *SQLiteStorage) FindRulesForOwner(ctx context.Context, ownerID string) ([]model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM enhancement_rules
		WHERE owner_id = ?
		  AND (category_id IS NOT NULL OR counterparty_account_id IS NOT NULL)
		ORDER BY CASE match_type WHEN 'EXACT' THEN 0 WHEN 'PREFIX' THEN 1 ELSE 2 END, created_at, id`,
		ownerID)
}

// FindCandidateRules returns the rules that could match any of the given
// normalized descriptions: EXACT rules whose pattern is one of them, plus
// every PREFIX and INFIX rule. Placeholders are excluded.
func (s *SQLiteStorage) FindCandidateRules(ctx context.Context, ownerID string, descriptions []string) ([]model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rules, err := s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM enhancement_rules
		WHERE owner_id = ? AND match_type IN ('PREFIX', 'INFIX')
		  AND (category_id IS NOT NULL OR counterparty_account_id IS NOT NULL)
		ORDER BY created_at, id`,
		ownerID)
	if err != nil {
		return nil, err
	}

	for _, part := range chunk(descriptions, maxInParams) {
		args := make([]any, 0, len(part)+1)
		args = append(args, ownerID)
		for _, d := range part {
			args = append(args, d)
		}

		exact, err := s.queryRules(ctx, `
			SELECT `+ruleColumns+`
			FROM enhancement_rules
			WHERE owner_id = ? AND match_type = 'EXACT'
			  AND (category_id IS NOT NULL OR counterparty_account_id IS NOT NULL)
			  AND pattern IN (`+placeholders(len(part))+`)
			ORDER BY created_at, id`,
			args...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, exact...)
	}

	slog.Debug("loaded candidate rules",
		"owner_id", ownerID,
		"descriptions", len(descriptions),
		"rules", len(rules))

	return rules, nil
}

// UpsertLearnedRule creates a placeholder or AI rule unless one already exists
// for the same owner and pattern. An AI rule with an outcome upgrades an
// existing placeholder; rules that already carry an outcome are left alone.
// The stored rule is returned.
func (s *SQLiteStorage) UpsertLearnedRule(ctx context.Context, rule *model.EnhancementRule) (*model.EnhancementRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if rule.Source != model.RuleSourceAuto && rule.Source != model.RuleSourceAI {
		return nil, fmt.Errorf("%w: learned rules must be %s or %s, got %q",
			pattern.ErrInvalidRule, model.RuleSourceAuto, model.RuleSourceAI, rule.Source)
	}
	if err := pattern.ValidateRule(rule); err != nil {
		return nil, err
	}

	p := canonicalPattern(rule.Pattern)
	now := time.Now().UTC()

	var stored *model.EnhancementRule
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.verifyRuleReferences(ctx, tx, rule); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO enhancement_rules (
				owner_id, pattern, match_type, category_id, counterparty_account_id,
				min_amount, max_amount, start_date, end_date, source, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, ?, ?, ?)
			ON CONFLICT (owner_id, pattern) WHERE source IN ('AUTO', 'AI') DO UPDATE SET
				category_id = excluded.category_id,
				counterparty_account_id = excluded.counterparty_account_id,
				source = excluded.source,
				updated_at = excluded.updated_at
			WHERE enhancement_rules.category_id IS NULL
			  AND enhancement_rules.counterparty_account_id IS NULL
			  AND (excluded.category_id IS NOT NULL OR excluded.counterparty_account_id IS NOT NULL)`,
			rule.OwnerID, p, string(rule.MatchType),
			nullableID(rule.CategoryID), nullableID(rule.CounterpartyAccountID),
			string(rule.Source), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert learned rule: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			SELECT `+ruleColumns+`
			FROM enhancement_rules
			WHERE owner_id = ? AND pattern = ? AND source IN ('AUTO', 'AI')`,
			rule.OwnerID, p)
		stored, err = scanRule(row)
		if err != nil {
			return fmt.Errorf("failed to read learned rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// DeleteRule removes a rule owned by ownerID.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, ownerID string, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM enhancement_rules WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: rule %d", common.ErrNotFound, id)
	}

	return nil
}

// RuleUsageCount returns how many transactions of the rule's owner have a
// normalized description the rule's pattern matches.
func (s *SQLiteStorage) RuleUsageCount(ctx context.Context, id int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(t.id)
		FROM enhancement_rules r
		LEFT JOIN transactions t ON `+ruleUsageCondition+`
		WHERE r.id = ?
		GROUP BY r.id`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: rule %d", common.ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count rule usage: %w", err)
	}

	return count, nil
}

// CleanupUnusedRules deletes the rules of ownerID that no transaction uses.
// When placeholdersOnly is set, rules with an outcome are kept regardless.
func (s *SQLiteStorage) CleanupUnusedRules(ctx context.Context, ownerID string, placeholdersOnly bool) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return 0, err
	}

	query := `
		DELETE FROM enhancement_rules AS r
		WHERE r.owner_id = ?
		  AND NOT EXISTS (SELECT 1 FROM transactions t WHERE ` + ruleUsageCondition + `)`
	if placeholdersOnly {
		query += ` AND r.category_id IS NULL AND r.counterparty_account_id IS NULL`
	}

	result, err := s.db.ExecContext(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up rules: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	slog.Info("cleaned up unused rules",
		"owner_id", ownerID,
		"deleted", affected,
		"placeholders_only", placeholdersOnly)

	return int(affected), nil
}

func (s *SQLiteStorage) verifyRuleReferences(ctx context.Context, q queryable, rule *model.EnhancementRule) error {
	if rule.CategoryID != nil {
		ok, err := ownedRowExists(ctx, q, "categories", rule.OwnerID, *rule.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrCategoryNotFound, *rule.CategoryID)
		}
	}

	if rule.CounterpartyAccountID != nil {
		ok, err := ownedRowExists(ctx, q, "counterparty_accounts", rule.OwnerID, *rule.CounterpartyAccountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrCounterpartyNotFound, *rule.CounterpartyAccountID)
		}
	}

	return nil
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.EnhancementRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.EnhancementRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func scanRule(row scanner) (*model.EnhancementRule, error) {
	var (
		rule           model.EnhancementRule
		matchType      string
		source         string
		categoryID     sql.NullInt64
		counterpartyID sql.NullInt64
		minAmount      decimal.NullDecimal
		maxAmount      decimal.NullDecimal
		startDate      sql.NullString
		endDate        sql.NullString
	)

	err := row.Scan(
		&rule.ID, &rule.OwnerID, &rule.Pattern, &matchType, &categoryID, &counterpartyID,
		&minAmount, &maxAmount, &startDate, &endDate, &source, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	rule.MatchType = model.MatchType(matchType)
	rule.Source = model.RuleSource(source)
	rule.CategoryID = fromNullID(categoryID)
	rule.CounterpartyAccountID = fromNullID(counterpartyID)

	if minAmount.Valid {
		v := minAmount.Decimal
		rule.MinAmount = &v
	}
	if maxAmount.Valid {
		v := maxAmount.Decimal
		rule.MaxAmount = &v
	}

	if rule.StartDate, err = parseNullDate(startDate); err != nil {
		return nil, fmt.Errorf("rule %d start_date: %w", rule.ID, err)
	}
	if rule.EndDate, err = parseNullDate(endDate); err != nil {
		return nil, fmt.Errorf("rule %d end_date: %w", rule.ID, err)
	}

	return &rule, nil
}

// canonicalPattern lowercases and trims a pattern so that SQL equality
// agrees with the case-insensitive matcher.
func canonicalPattern(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

func nullableDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullableDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(model.DateLayout), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(model.DateLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
