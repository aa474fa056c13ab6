package pattern

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule is returned when an enhancement rule fails validation.
var ErrInvalidRule = errors.New("invalid enhancement rule")

// ValidateRule checks the structural invariants of a rule. Nothing is
// corrected; the first violation is returned.
func ValidateRule(rule *Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is nil", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.OwnerID) == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidRule)
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("%w: pattern cannot be empty", ErrInvalidRule)
	}
	if !rule.MatchType.IsValid() {
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidRule, rule.MatchType)
	}
	if !rule.Source.IsValid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRule, rule.Source)
	}

	if rule.MinAmount != nil && rule.MinAmount.IsNegative() {
		return fmt.Errorf("%w: min_amount %s is negative", ErrInvalidRule, rule.MinAmount)
	}
	if rule.MaxAmount != nil && rule.MaxAmount.IsNegative() {
		return fmt.Errorf("%w: max_amount %s is negative", ErrInvalidRule, rule.MaxAmount)
	}
	if rule.MinAmount != nil && rule.MaxAmount != nil && rule.MinAmount.GreaterThan(*rule.MaxAmount) {
		return fmt.Errorf("%w: min_amount %s is greater than max_amount %s",
			ErrInvalidRule, rule.MinAmount, rule.MaxAmount)
	}

	if rule.StartDate != nil && rule.EndDate != nil && rule.EndDate.Before(*rule.StartDate) {
		return fmt.Errorf("%w: end_date %s is before start_date %s",
			ErrInvalidRule, rule.EndDate.Format("2006-01-02"), rule.StartDate.Format("2006-01-02"))
	}

	return nil
}
