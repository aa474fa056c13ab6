// Package pattern implements the deterministic rule engine that decides which
// enhancement rule, if any, applies to a transaction candidate.
package pattern

import (
	"github.com/Veraticus/statement-spice/internal/model"
)

// Matcher evaluates transaction candidates against enhancement rules.
type Matcher interface {
	// Match returns the single highest-precedence applicable rule, or nil.
	Match(candidate model.TransactionCandidate) *Rule
}

// Rule is an alias to the model.EnhancementRule type for convenience.
type Rule = model.EnhancementRule
