package ofx

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/model"
)

// Sample OFX data for testing.
const sampleBankOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>Whole Foods Market
</STMTTRN>
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>-500.00
<FITID>2024012501
<CHECKNUM>1234
<NAME>CHECK #1234
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

const sampleCreditCardOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000[0:GMT]
<TRNAMT>-45.99
<FITID>CC2024011001
<NAME>AMAZON.COM*RT4Y7HG2
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-15.00
<FITID>CC2024011501
<NAME>NETFLIX.COM
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func newTestParser() *Parser {
	return NewParser(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name          string
		ofxData       string
		expectedCount int
		expectedError bool
	}{
		{
			name:          "valid bank statement",
			ofxData:       sampleBankOFX,
			expectedCount: 3,
		},
		{
			name:          "valid credit card statement",
			ofxData:       sampleCreditCardOFX,
			expectedCount: 2,
		},
		{
			name:          "invalid OFX data",
			ofxData:       "not valid OFX",
			expectedError: true,
		},
		{
			name:          "empty OFX",
			ofxData:       "",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(tt.ofxData), "")

			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, stmt.Candidates, tt.expectedCount)
		})
	}
}

func TestParseBankCandidates(t *testing.T) {
	stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(sampleBankOFX), "")
	require.NoError(t, err)
	require.Len(t, stmt.Candidates, 3)

	assert.Equal(t, []string{"1234567890"}, stmt.Accounts)
	assert.Equal(t, time.January, stmt.Start.Month())
	assert.Equal(t, 31, stmt.End.Day())

	c1 := stmt.Candidates[0]
	assert.Equal(t, "STARBUCKS STORE #1234", c1.Description)
	assert.True(t, decimal.RequireFromString("-25.5").Equal(c1.Amount), c1.Amount.String())
	assert.Equal(t, "1234567890", c1.AccountID)
	assert.Equal(t, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), c1.Date)
	assert.Equal(t, 0, c1.RowIndex)
	assert.Equal(t, model.CategorizationUncategorized, c1.CategorizationStatus)
	assert.Equal(t, model.CounterpartyUnprocessed, c1.CounterpartyStatus)

	c2 := stmt.Candidates[1]
	assert.Equal(t, "Whole Foods Market", c2.Description)
	assert.Equal(t, "-125", c2.Amount.String())
	assert.Equal(t, 1, c2.RowIndex)

	c3 := stmt.Candidates[2]
	assert.Equal(t, "CHECK #1234", c3.Description)
	assert.Equal(t, "-500", c3.Amount.String())
	assert.Equal(t, 2, c3.RowIndex)
}

func TestParseCreditCardCandidates(t *testing.T) {
	stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(sampleCreditCardOFX), "")
	require.NoError(t, err)
	require.Len(t, stmt.Candidates, 2)

	assert.Equal(t, "AMAZON.COM*RT4Y7HG2", stmt.Candidates[0].Description)
	assert.Equal(t, "-45.99", stmt.Candidates[0].Amount.String())
	assert.Equal(t, "4111111111111111", stmt.Candidates[0].AccountID)

	assert.Equal(t, "NETFLIX.COM", stmt.Candidates[1].Description)
	assert.Equal(t, "-15", stmt.Candidates[1].Amount.String())
}

func TestParseAccountOverride(t *testing.T) {
	stmt, err := newTestParser().Parse(context.Background(), strings.NewReader(sampleCreditCardOFX), "acc-main")
	require.NoError(t, err)

	for _, c := range stmt.Candidates {
		assert.Equal(t, "acc-main", c.AccountID)
	}
	assert.Equal(t, []string{"4111111111111111"}, stmt.Accounts, "the file's own accounts are still reported")
}

func TestParseCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestParser().Parse(ctx, strings.NewReader(sampleBankOFX), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreprocessOFX(t *testing.T) {
	input := "\n\n  <OFX>\n<SEVERITY>Info</SEVERITY>\n<CODE\n"
	got := preprocessOFX(input)

	assert.True(t, strings.HasPrefix(got, "<OFX>"))
	assert.Contains(t, got, "<SEVERITY>INFO</SEVERITY>")
	assert.Contains(t, got, "<CODE>")
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		tx       ofxgo.Transaction
		expected string
	}{
		{
			name:     "remove POS prefix",
			tx:       ofxgo.Transaction{Name: "POS PURCHASE STARBUCKS"},
			expected: "STARBUCKS",
		},
		{
			name:     "remove DEBIT CARD prefix",
			tx:       ofxgo.Transaction{Name: "DEBIT CARD PURCHASE WHOLE FOODS"},
			expected: "WHOLE FOODS",
		},
		{
			name:     "strip authorisation date",
			tx:       ofxgo.Transaction{Name: "PURCHASE AUTHORIZED ON 01/15 SHELL OIL"},
			expected: "SHELL OIL",
		},
		{
			name:     "keep clean name",
			tx:       ofxgo.Transaction{Name: "NETFLIX.COM"},
			expected: "NETFLIX.COM",
		},
		{
			name:     "trim whitespace",
			tx:       ofxgo.Transaction{Name: "  AMAZON.COM  "},
			expected: "AMAZON.COM",
		},
		{
			name:     "generic name falls back to memo",
			tx:       ofxgo.Transaction{Name: "DEBIT", Memo: "SPOTIFY STOCKHOLM"},
			expected: "SPOTIFY STOCKHOLM",
		},
		{
			name:     "payee wins",
			tx:       ofxgo.Transaction{Name: "ACH 99812", Payee: &ofxgo.Payee{Name: "City Utilities"}},
			expected: "City Utilities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractDescription(tt.tx))
		})
	}
}
