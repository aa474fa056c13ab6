package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/jobs"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/service"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry background jobs",
	}

	cmd.AddCommand(listJobsCmd())
	cmd.AddCommand(jobStatusCmd())
	cmd.AddCommand(retryJobCmd())

	return cmd
}

func listJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := newOrchestrator(store).List(ctx, service.JobFilter{
				OwnerID: owner(),
				Status:  model.JobStatus(strings.ToUpper(status)),
				Limit:   limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if len(list) == 0 {
				printLine(out, cli.FormatInfo("No jobs found."))
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, job := range list {
				rows = append(rows, []string{
					job.ID,
					string(job.JobType),
					cli.FormatJobStatus(job.Status),
					fmt.Sprintf("%d/%d", job.Progress.ProcessedTransactions, job.Progress.TotalTransactions),
					fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
					job.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			printLine(out, cli.RenderTable([]string{"ID", "Type", "Status", "Progress", "Retries", "Created"}, rows))
			return nil
		},
	}

	cmd.Flags().String("status", "", "Only show jobs in this status (pending, in_progress, completed, failed)")
	cmd.Flags().Int("limit", 20, "Maximum number of jobs to show")

	return cmd
}

func jobStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			asJSON, _ := cmd.Flags().GetBool("json")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status, err := newOrchestrator(store).StatusForAPI(ctx, args[0])
			if errors.Is(err, jobs.ErrJobNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			printLine(out, cli.RenderBox("Job "+status.JobID, renderJobStatus(status)))
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the status document as JSON")

	return cmd
}

func renderJobStatus(status *jobs.Status) string {
	p := status.Progress
	pairs := [][2]string{
		{"Type", string(status.JobType)},
		{"Status", cli.FormatJobStatus(status.Status)},
		{"Progress", fmt.Sprintf("%d of %d (%s)", p.ProcessedTransactions, p.TotalTransactions, cli.FormatPercent(p.CompletionPercentage))},
		{"Batch", fmt.Sprintf("%d of %d", p.CurrentBatch, p.TotalBatches)},
		{"Retries", fmt.Sprintf("%d of %d", status.RetryCount, status.MaxRetries)},
	}
	if p.RemainingTransactions > 0 {
		pairs = append(pairs, [2]string{"Estimated time", fmt.Sprintf("%.1fs", p.EstimatedCompletionSeconds)})
	}
	if r := status.Result; r != nil {
		pairs = append(pairs,
			[2]string{"Categorized", fmt.Sprint(r.SuccessfullyCategorized)},
			[2]string{"Failed", fmt.Sprint(r.FailedCategorizations)},
			[2]string{"Duration", fmt.Sprintf("%dms", r.ProcessingTimeMS)},
		)
	}
	if status.ErrorMessage != nil {
		pairs = append(pairs, [2]string{"Error", cli.ErrorStyle.Render(*status.ErrorMessage)})
	}
	return cli.RenderKeyValues(pairs)
}

func retryJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Put a failed job back in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			job, err := newOrchestrator(store).Retry(ctx, args[0])
			switch {
			case errors.Is(err, jobs.ErrRetryExhausted):
				return fmt.Errorf("job %s has no retries left", args[0])
			case errors.Is(err, jobs.ErrInvalidState):
				return fmt.Errorf("only failed jobs can be retried: %w", err)
			case err != nil:
				return err
			}

			printLine(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Job %s queued again (retry %d of %d)", job.ID, job.RetryCount, job.MaxRetries)))
			return nil
		},
	}
}
