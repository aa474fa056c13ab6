// Package model defines the core data structures for the spice application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchType selects how a rule pattern is compared against a normalized description.
type MatchType string

// Match type constants, listed in precedence order.
const (
	MatchExact  MatchType = "EXACT"
	MatchPrefix MatchType = "PREFIX"
	MatchInfix  MatchType = "INFIX"
)

// Rank returns the precedence tier of the match type. Lower ranks win.
func (m MatchType) Rank() int {
	switch m {
	case MatchExact:
		return 0
	case MatchPrefix:
		return 1
	case MatchInfix:
		return 2
	default:
		return 3
	}
}

// IsValid reports whether m is one of the known match types.
func (m MatchType) IsValid() bool {
	return m.Rank() < 3
}

// RuleSource records who created an enhancement rule.
type RuleSource string

// Rule source constants.
const (
	RuleSourceManual RuleSource = "MANUAL"
	RuleSourceAuto   RuleSource = "AUTO"
	RuleSourceAI     RuleSource = "AI"
)

// IsValid reports whether s is one of the known rule sources.
func (s RuleSource) IsValid() bool {
	switch s {
	case RuleSourceManual, RuleSourceAuto, RuleSourceAI:
		return true
	}
	return false
}

// EnhancementRule maps a description pattern to a category and/or counterparty.
type EnhancementRule struct {
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	CategoryID            *int64           `json:"category_id,omitempty"`
	CounterpartyAccountID *int64           `json:"counterparty_account_id,omitempty"`
	MinAmount             *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount             *decimal.Decimal `json:"max_amount,omitempty"`
	StartDate             *time.Time       `json:"start_date,omitempty"`
	EndDate               *time.Time       `json:"end_date,omitempty"`
	OwnerID               string           `json:"owner_id"`
	Pattern               string           `json:"pattern"`
	MatchType             MatchType        `json:"match_type"`
	Source                RuleSource       `json:"source"`
	ID                    int64            `json:"id"`
}

// IsPlaceholder reports whether the rule only records a seen description
// without resolving a category or counterparty.
func (r *EnhancementRule) IsPlaceholder() bool {
	return r.CategoryID == nil && r.CounterpartyAccountID == nil
}
