package pattern

import "github.com/Veraticus/statement-spice/internal/model"

// ApplyRule copies the rule's outcome onto the candidate.
//
// Category and counterparty are assigned independently, each only when the
// current status may be overwritten. Manual and confirmed values are kept.
// It reports whether each part changed.
func ApplyRule(candidate *model.TransactionCandidate, rule *Rule) (categorySet, counterpartySet bool) {
	if candidate == nil || rule == nil {
		return false, false
	}

	if rule.CategoryID != nil && categoryOverwritable(candidate.CategorizationStatus) {
		id := *rule.CategoryID
		candidate.CategoryID = &id
		candidate.CategorizationStatus = model.CategorizationCategorized
		categorySet = true
	}

	if rule.CounterpartyAccountID != nil && counterpartyOverwritable(candidate.CounterpartyStatus) {
		id := *rule.CounterpartyAccountID
		candidate.CounterpartyID = &id
		candidate.CounterpartyStatus = model.CounterpartyInferred
		counterpartySet = true
	}

	return categorySet, counterpartySet
}

func categoryOverwritable(status model.CategorizationStatus) bool {
	switch status {
	case "", model.CategorizationUncategorized, model.CategorizationRuleBased, model.CategorizationFailure:
		return true
	}
	return false
}

func counterpartyOverwritable(status model.CounterpartyStatus) bool {
	switch status {
	case "", model.CounterpartyUnprocessed, model.CounterpartyRuleBased, model.CounterpartyFailure:
		return true
	}
	return false
}
