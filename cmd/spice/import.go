package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/engine"
	"github.com/Veraticus/statement-spice/internal/ofx"
	"github.com/Veraticus/statement-spice/internal/upload"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.ofx> [more files...]",
		Short: "Import OFX/QFX bank statements",
		Long: `Import one or more OFX/QFX statements.

Rows already imported by an earlier statement are skipped, the remaining rows
are matched against your rules and stored, and anything the rules could not
categorize is queued for AI categorization (run 'spice worker' to process it).`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("account", "", "Account ID to attribute rows to (default: the statement's own account)")
	cmd.Flags().Bool("dry-run", false, "Parse files and show what would be imported without saving")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	accountID, _ := cmd.Flags().GetString("account")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	logger := slog.Default()
	parser := ofx.NewParser(logger)
	processor := upload.NewProcessor(store, engine.NewEnhancer(store, logger), newOrchestrator(store), logger)

	for _, path := range args {
		stmt, err := parseStatementFile(cmd, parser, path, accountID)
		if err != nil {
			return err
		}

		if dryRun {
			printLine(out, cli.RenderBox(filepath.Base(path), cli.RenderKeyValues([][2]string{
				{"Rows", fmt.Sprint(len(stmt.Candidates))},
				{"Accounts", fmt.Sprint(stmt.Accounts)},
				{"Period", stmt.Start.Format("2006-01-02") + " to " + stmt.End.Format("2006-01-02")},
			})))
			continue
		}

		account := accountID
		if account == "" {
			if len(stmt.Accounts) != 1 {
				return fmt.Errorf("%s holds %d accounts, pass --account to choose one", path, len(stmt.Accounts))
			}
			account = stmt.Accounts[0]
		}

		summary, err := processor.Process(ctx, upload.Request{
			OwnerID:    owner(),
			AccountID:  account,
			FileID:     filepath.Base(path),
			Candidates: stmt.Candidates,
		})
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}

		printLine(out, renderImportSummary(path, summary))
	}

	return nil
}

func parseStatementFile(cmd *cobra.Command, parser *ofx.Parser, path, accountID string) (*ofx.Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	stmt, err := parser.Parse(cmd.Context(), f, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return stmt, nil
}

func renderImportSummary(path string, summary *upload.Summary) string {
	e := summary.Enhancement
	pairs := [][2]string{
		{"Rows stored", fmt.Sprint(summary.Persisted)},
		{"Duplicates skipped", fmt.Sprint(summary.DuplicatesSkipped)},
		{"Matched by rules", fmt.Sprintf("%d of %d (%s)", e.Matched, e.Total, cli.FormatPercent(e.MatchRatePct))},
	}
	if summary.Job != nil {
		pairs = append(pairs,
			[2]string{"AI job", summary.Job.JobID},
			[2]string{"Queued rows", fmt.Sprint(summary.Job.RemainingTransactions)},
			[2]string{"Estimated time", fmt.Sprintf("%.1fs", summary.Job.EstimatedCompletionSeconds)},
		)
	}
	return cli.RenderBox(cli.SuccessIcon+" "+filepath.Base(path), cli.RenderKeyValues(pairs))
}
