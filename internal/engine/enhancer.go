// Package engine runs the enhancement pass over parsed statement rows and
// drives batch AI categorization of what the rules could not resolve.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/pattern"
)

// EnhancementResult summarizes one enhancement pass.
type EnhancementResult struct {
	Enhanced []model.TransactionCandidate
	Total    int
	Matched  int
	// Uncategorized counts candidates left without a category. A candidate
	// resolved only by a counterparty rule is counted here and in Matched.
	Uncategorized int
	MatchRatePct  float64
	HasUnmatched  bool
}

// Enhancer applies stored rules to transaction candidates.
type Enhancer struct {
	rules  RuleStore
	logger *slog.Logger
}

// NewEnhancer creates an enhancer backed by rules.
func NewEnhancer(rules RuleStore, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{rules: rules, logger: logger}
}

// Enhance annotates candidates in place with the first applicable rule and
// records a placeholder rule for every description still uncategorized.
//
// Rules are loaded with a single lookup over the unique normalized
// descriptions, and at most one placeholder is requested per description.
func (e *Enhancer) Enhance(ctx context.Context, ownerID string, candidates []model.TransactionCandidate) (*EnhancementResult, error) {
	result := &EnhancementResult{
		Enhanced: candidates,
		Total:    len(candidates),
	}
	if len(candidates) == 0 {
		return result, nil
	}

	for i := range candidates {
		prepareCandidate(&candidates[i])
	}

	descriptions := uniqueDescriptions(candidates)

	var rules []model.EnhancementRule
	if len(descriptions) > 0 {
		var err error
		rules, err = e.rules.FindCandidateRules(ctx, ownerID, descriptions)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}

	matcher := pattern.NewMatcher(rules)
	for i := range candidates {
		c := &candidates[i]
		if rule := matcher.Match(*c); rule != nil {
			pattern.ApplyRule(c, rule)
		}
		if isMatched(c) {
			result.Matched++
		}
	}

	seen := make(map[string]bool)
	for i := range candidates {
		c := &candidates[i]
		if c.CategorizationStatus != model.CategorizationUncategorized {
			continue
		}
		result.Uncategorized++

		if c.NormalizedDescription == "" || seen[c.NormalizedDescription] {
			continue
		}
		seen[c.NormalizedDescription] = true

		if _, err := e.rules.UpsertLearnedRule(ctx, &model.EnhancementRule{
			OwnerID:   ownerID,
			Pattern:   c.NormalizedDescription,
			MatchType: model.MatchExact,
			Source:    model.RuleSourceAuto,
		}); err != nil {
			return nil, fmt.Errorf("failed to record placeholder rule for %q: %w", c.NormalizedDescription, err)
		}
	}

	result.HasUnmatched = result.Uncategorized > 0
	result.MatchRatePct = MatchRate(result.Matched, result.Total)

	e.logger.Info("Enhanced transactions",
		"owner_id", ownerID,
		"total", result.Total,
		"matched", result.Matched,
		"uncategorized", result.Uncategorized,
		"unique_descriptions", len(descriptions),
		"rules_loaded", len(rules),
		"match_rate_pct", result.MatchRatePct)

	return result, nil
}

// MatchRate returns matched/total as a percentage rounded to one decimal.
func MatchRate(matched, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return math.Round(float64(matched)/float64(total)*1000) / 10
}

func prepareCandidate(c *model.TransactionCandidate) {
	if c.NormalizedDescription == "" {
		c.NormalizedDescription = pattern.NormalizeDescription(c.Description)
	}
	if c.CategorizationStatus == "" {
		c.CategorizationStatus = model.CategorizationUncategorized
	}
	if c.CounterpartyStatus == "" {
		c.CounterpartyStatus = model.CounterpartyUnprocessed
	}
}

// isMatched reports whether a rule resolved the category or counterparty.
func isMatched(c *model.TransactionCandidate) bool {
	return c.CategorizationStatus == model.CategorizationCategorized ||
		c.CounterpartyStatus == model.CounterpartyInferred
}

// uniqueDescriptions returns the distinct non-empty normalized descriptions
// in first-seen order.
func uniqueDescriptions(candidates []model.TransactionCandidate) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for i := range candidates {
		d := candidates[i].NormalizedDescription
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
