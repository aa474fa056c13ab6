package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
	"github.com/Veraticus/statement-spice/internal/storage"
)

const testStatement = `OFXHEADER:100
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
<TRNAMT>-4.50
<FITID>2024011501
<NAME>STARBUCKS STORE
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>-125.00
<FITID>2024012001
<NAME>Whole Foods Market
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

// testEnv isolates a command run from the user's config and database.
type testEnv struct {
	dbPath string
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	return &testEnv{dir: dir, dbPath: filepath.Join(dir, "spice.db")}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runWithInput(t, "", args...)
}

func (e *testEnv) runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(bytes.NewBufferString(input))
	cmd.SetArgs(append([]string{"--db", e.dbPath, "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) writeStatement(t *testing.T) string {
	t.Helper()
	path := filepath.Join(e.dir, "january.ofx")
	require.NoError(t, os.WriteFile(path, []byte(testStatement), 0600))
	return path
}

func (e *testEnv) openStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(e.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"migrate"},
		{"import"},
		{"worker"},
		{"jobs", "list"},
		{"jobs", "status"},
		{"jobs", "retry"},
		{"rules", "add"},
		{"rules", "list"},
		{"rules", "delete"},
		{"rules", "cleanup"},
		{"categories", "add"},
		{"categories", "list"},
		{"counterparties", "add"},
		{"counterparties", "list"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestMigrateStatus(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "migrate")
	require.NoError(t, err)

	out, err := env.run(t, "migrate", "--status")
	require.NoError(t, err)
	assert.Contains(t, out, "3")
}

func TestImportAndCategorize(t *testing.T) {
	env := newTestEnv(t)
	statement := env.writeStatement(t)

	_, err := env.run(t, "categories", "add", "Coffee", "--description", "Cafes and coffee bars")
	require.NoError(t, err)
	_, err = env.run(t, "categories", "add", "Groceries")
	require.NoError(t, err)

	out, err := env.run(t, "categories", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Coffee")
	assert.Contains(t, out, "Groceries")

	_, err = env.run(t, "rules", "add", "Whole Foods Market", "--match-type", "exact", "--category", "2")
	require.NoError(t, err)

	out, err = env.run(t, "import", statement)
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2")

	store := env.openStore(t)
	ctx := context.Background()
	queued, err := store.ListJobs(ctx, service.JobFilter{OwnerID: "default"})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	job := queued[0]
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Progress.TotalTransactions)
	require.NoError(t, store.Close())

	out, err = env.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, job.ID)
	assert.Contains(t, out, "PENDING")

	out, err = env.run(t, "import", statement)
	require.NoError(t, err)
	assert.Contains(t, out, "Duplicates skipped")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"[{\"id\": 1, \"description\": \"STARBUCKS STORE\", \"category\": \"Coffee\", \"reason\": \"coffee shop\"}]"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	t.Setenv("SPICE_LLM_API_KEY", "test-key")
	t.Setenv("SPICE_LLM_BASE_URL", server.URL)

	_, err = env.run(t, "worker", "--once")
	require.NoError(t, err)

	out, err = env.run(t, "jobs", "status", job.ID, "--json")
	require.NoError(t, err)

	var status struct {
		Result *model.JobResult `json:"result"`
		Status model.JobStatus  `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, model.JobStatusCompleted, status.Status)
	require.NotNil(t, status.Result)
	assert.Equal(t, 1, status.Result.SuccessfullyCategorized)

	store = env.openStore(t)
	txns, err := store.GetTransactionsByIDs(ctx, job.Progress.UnmatchedTransactionIDs)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, model.CategorizationCategorized, txns[0].CategorizationStatus)
	require.NotNil(t, txns[0].CategoryID)
	assert.Equal(t, int64(1), *txns[0].CategoryID)
}

func TestWorkerRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("SPICE_LLM_API_KEY", "")

	_, err := env.run(t, "worker", "--once")
	require.Error(t, err)
}

func TestRulesCleanupConfirmation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "categories", "add", "Travel")
	require.NoError(t, err)
	_, err = env.run(t, "rules", "add", "ryanair", "--category", "1")
	require.NoError(t, err)

	out, err := env.runWithInput(t, "n\n", "rules", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing deleted")

	out, err = env.run(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ryanair")

	out, err = env.run(t, "rules", "cleanup", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 unused rules")
}

func TestRulesListHidesPlaceholders(t *testing.T) {
	env := newTestEnv(t)
	statement := env.writeStatement(t)

	_, err := env.run(t, "categories", "add", "Groceries")
	require.NoError(t, err)
	_, err = env.run(t, "rules", "add", "Whole Foods Market", "--match-type", "exact", "--category", "1")
	require.NoError(t, err)
	_, err = env.run(t, "import", statement)
	require.NoError(t, err)

	out, err := env.run(t, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "whole foods market")
	assert.NotContains(t, out, "starbucks store")

	out, err = env.run(t, "rules", "list", "--placeholders")
	require.NoError(t, err)
	assert.Contains(t, out, "whole foods market")
	assert.Contains(t, out, "starbucks store")
}

func TestRulesAddRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "rules", "add", "shell", "--min", "ten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--min")

	_, err = env.run(t, "rules", "add", "shell", "--match-type", "fuzzy")
	require.Error(t, err)

	_, err = env.run(t, "rules", "add", "shell", "--category", "42")
	require.Error(t, err)
}

func TestJobsStatusUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "jobs", "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
