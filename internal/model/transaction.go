package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategorizationStatus tracks how a transaction's category was determined.
type CategorizationStatus string

// Categorization status constants.
const (
	CategorizationUncategorized CategorizationStatus = "UNCATEGORIZED"
	CategorizationCategorized   CategorizationStatus = "CATEGORIZED"
	CategorizationManual        CategorizationStatus = "MANUAL"
	CategorizationRuleBased     CategorizationStatus = "RULE_BASED"
	CategorizationFailure       CategorizationStatus = "FAILURE"
)

// CounterpartyStatus tracks how a transaction's counterparty was determined.
type CounterpartyStatus string

// Counterparty status constants.
const (
	CounterpartyUnprocessed CounterpartyStatus = "UNPROCESSED"
	CounterpartyInferred    CounterpartyStatus = "INFERRED"
	CounterpartyConfirmed   CounterpartyStatus = "CONFIRMED"
	CounterpartyRuleBased   CounterpartyStatus = "RULE_BASED"
	CounterpartyFailure     CounterpartyStatus = "FAILURE"
)

// TransactionCandidate is one parsed statement row that has not been persisted yet.
type TransactionCandidate struct {
	Date                  time.Time
	CategoryID            *int64
	CounterpartyID        *int64
	Amount                decimal.Decimal // Signed: negative for debits
	Description           string          // Raw description from the statement
	NormalizedDescription string          // Matching and dedup key
	AccountID             string
	CategorizationStatus  CategorizationStatus
	CounterpartyStatus    CounterpartyStatus
	RowIndex              int
}

// NewTransactionCandidate creates a candidate with initial statuses.
func NewTransactionCandidate(date time.Time, amount decimal.Decimal, description, accountID string, row int) TransactionCandidate {
	return TransactionCandidate{
		Date:                 date,
		Amount:               amount,
		Description:          description,
		AccountID:            accountID,
		RowIndex:             row,
		CategorizationStatus: CategorizationUncategorized,
		CounterpartyStatus:   CounterpartyUnprocessed,
	}
}

// NaturalKey returns the duplicate-detection key for the candidate within accountID.
func (c *TransactionCandidate) NaturalKey(accountID string) NaturalKey {
	return NaturalKey{
		Date:                  c.Date.Format(DateLayout),
		NormalizedDescription: c.NormalizedDescription,
		Amount:                c.Amount.String(),
		AccountID:             accountID,
	}
}

// Transaction is a persisted transaction.
type Transaction struct {
	CreatedAt time.Time
	OwnerID   string
	FileID    string
	ID        int64
	TransactionCandidate
}

// DateLayout is the calendar-day layout used for dates in keys and storage.
const DateLayout = "2006-01-02"

// NaturalKey identifies identical transactions across uploads.
// Amount holds the canonical decimal string so that 10.5 and 10.50 compare equal.
type NaturalKey struct {
	Date                  string
	NormalizedDescription string
	Amount                string
	AccountID             string
}
