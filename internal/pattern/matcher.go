package pattern

import (
	"sort"
	"strings"

	"github.com/Veraticus/statement-spice/internal/model"
)

// MatcherImpl implements Matcher with first-match semantics over a fixed rule set.
type MatcherImpl struct {
	rules []Rule
}

var _ Matcher = (*MatcherImpl)(nil)

// NewMatcher creates a matcher for the given rules.
//
// Rules are ordered once by match type (EXACT, PREFIX, INFIX) and then by
// creation time, oldest first. Placeholder rules are dropped because they
// carry no outcome to apply.
func NewMatcher(rules []Rule) *MatcherImpl {
	ordered := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsPlaceholder() || strings.TrimSpace(rule.Pattern) == "" || !rule.MatchType.IsValid() {
			continue
		}
		ordered = append(ordered, rule)
	}

	sortByPrecedence(ordered)

	return &MatcherImpl{rules: ordered}
}

// Match returns the first rule in precedence order that applies to the candidate.
func Match(candidate model.TransactionCandidate, rules []Rule) *Rule {
	return NewMatcher(rules).Match(candidate)
}

// Match returns the first rule in precedence order that applies to the
// candidate, or nil when none does.
func (m *MatcherImpl) Match(candidate model.TransactionCandidate) *Rule {
	description := candidate.NormalizedDescription
	if description == "" {
		description = NormalizeDescription(candidate.Description)
	}
	description = strings.ToLower(description)

	for i := range m.rules {
		rule := &m.rules[i]
		if !matchesDate(candidate, rule) || !matchesAmount(candidate, rule) {
			continue
		}
		if matchesDescription(description, rule) {
			matched := *rule
			return &matched
		}
	}

	return nil
}

// Rules returns the rules the matcher evaluates, in precedence order.
func (m *MatcherImpl) Rules() []Rule {
	return m.rules
}

// matchesDescription compares the normalized description against the rule pattern.
func matchesDescription(description string, rule *Rule) bool {
	p := strings.ToLower(strings.TrimSpace(rule.Pattern))

	switch rule.MatchType {
	case model.MatchExact:
		return description == p
	case model.MatchPrefix:
		return strings.HasPrefix(description, p)
	case model.MatchInfix:
		return strings.Contains(description, p)
	}

	return false
}

// matchesAmount checks the inclusive bounds against the absolute amount.
func matchesAmount(candidate model.TransactionCandidate, rule *Rule) bool {
	amount := candidate.Amount.Abs()

	if rule.MinAmount != nil && amount.LessThan(*rule.MinAmount) {
		return false
	}
	if rule.MaxAmount != nil && amount.GreaterThan(*rule.MaxAmount) {
		return false
	}
	return true
}

// matchesDate checks the inclusive calendar-day window.
func matchesDate(candidate model.TransactionCandidate, rule *Rule) bool {
	day := candidate.Date.Format(model.DateLayout)

	if rule.StartDate != nil && day < rule.StartDate.Format(model.DateLayout) {
		return false
	}
	if rule.EndDate != nil && day > rule.EndDate.Format(model.DateLayout) {
		return false
	}
	return true
}

// sortByPrecedence orders rules by match type rank, then oldest first.
func sortByPrecedence(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.MatchType.Rank() != b.MatchType.Rank() {
			return a.MatchType.Rank() < b.MatchType.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
