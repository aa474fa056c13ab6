// Package ofx reads OFX and QFX bank statements into transaction candidates.
package ofx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/statement-spice/internal/model"
)

// ErrNoStatements is returned when a file parses but holds no bank or card statement.
var ErrNoStatements = errors.New("no bank or credit card statements in OFX file")

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags on their own line that lost their closing bracket.
	unterminatedTagRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Statement is the parsed content of one OFX file.
type Statement struct {
	Start      time.Time
	End        time.Time
	Accounts   []string
	Candidates []model.TransactionCandidate
}

// Parser converts OFX statements into transaction candidates.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// preprocessOFX fixes common formatting issues in bank-exported files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return unterminatedTagRegex.ReplaceAllString(content, "$1>")
}

// Parse reads every bank and credit card statement in r. Candidates carry the
// statement's own account ID unless accountID is non-empty, in which case
// every row is attributed to it. Row indexes run across the whole file.
func (p *Parser) Parse(ctx context.Context, r io.Reader, accountID string) (*Statement, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	stmt := &Statement{}
	seen := make(map[string]bool)
	addAccount := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			stmt.Accounts = append(stmt.Accounts, id)
		}
	}

	statements := 0
	for _, msg := range resp.Bank {
		bank, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		statements++
		acct := string(bank.BankAcctFrom.AcctID)
		addAccount(acct)
		if err := p.appendTransactions(ctx, stmt, bank.BankTranList, pick(accountID, acct)); err != nil {
			return nil, err
		}
	}

	for _, msg := range resp.CreditCard {
		card, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		statements++
		acct := string(card.CCAcctFrom.AcctID)
		addAccount(acct)
		if err := p.appendTransactions(ctx, stmt, card.BankTranList, pick(accountID, acct)); err != nil {
			return nil, err
		}
	}

	if statements == 0 {
		return nil, ErrNoStatements
	}

	p.logger.Info("Parsed OFX file",
		"transaction_count", len(stmt.Candidates),
		"statements", statements,
		"accounts", len(stmt.Accounts))

	return stmt, nil
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func (p *Parser) appendTransactions(ctx context.Context, stmt *Statement, list *ofxgo.TransactionList, accountID string) error {
	if list == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start, end := list.DtStart.Time, list.DtEnd.Time
	if !start.IsZero() && (stmt.Start.IsZero() || start.Before(stmt.Start)) {
		stmt.Start = start
	}
	if end.After(stmt.End) {
		stmt.End = end
	}

	for _, ofxTx := range list.Transactions {
		candidate, err := convertTransaction(ofxTx, accountID, len(stmt.Candidates))
		if err != nil {
			p.logger.Warn("Skipping OFX transaction",
				"fitid", string(ofxTx.FiTID),
				"error", err)
			continue
		}
		stmt.Candidates = append(stmt.Candidates, candidate)
	}
	return nil
}

// convertTransaction maps one OFX row onto a candidate. The amount keeps the
// OFX sign: debits are negative.
func convertTransaction(ofxTx ofxgo.Transaction, accountID string, row int) (model.TransactionCandidate, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.Rat.FloatString(4))
	if err != nil {
		return model.TransactionCandidate{}, fmt.Errorf("invalid amount: %w", err)
	}

	posted := ofxTx.DtPosted.Time
	if posted.IsZero() {
		return model.TransactionCandidate{}, errors.New("missing posted date")
	}
	day := time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC)

	description := extractDescription(ofxTx)
	if description == "" {
		return model.TransactionCandidate{}, errors.New("missing description")
	}

	return model.NewTransactionCandidate(day, amount, description, accountID, row), nil
}

var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// extractDescription picks the most merchant-like text of a row: PAYEE, then
// NAME, then MEMO when NAME is a generic word like "DEBIT".
func extractDescription(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && (name == "" || isGenericDescription(name)) {
		name = strings.TrimSpace(string(tx.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " authorisation dates left over after the prefix.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
