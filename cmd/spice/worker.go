package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/engine"
	"github.com/Veraticus/statement-spice/internal/jobs"
	"github.com/Veraticus/statement-spice/internal/llm"
	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/Veraticus/statement-spice/internal/storage"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued AI categorization jobs",
		Long: `Claim queued jobs and categorize their transactions with the configured
language model. Runs until interrupted, or processes a single job with --once.`,
		RunE: runWorker,
	}

	cmd.Flags().Bool("once", false, "Process at most one job with a progress bar and exit")

	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	once, _ := cmd.Flags().GetBool("once")

	if err := appConfig.RequireLLM(); err != nil {
		return err
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	categorizer, err := newCategorizer(ctx, store)
	if err != nil {
		return err
	}
	defer categorizer.Close()

	orch := newOrchestrator(store)
	workerConfig := jobs.WorkerConfig{
		JobType:      model.JobType(appConfig.Worker.JobType),
		Count:        appConfig.Worker.Count,
		PollInterval: appConfig.Worker.PollInterval,
	}

	if !once {
		driver := newDriver(store, categorizer, orch)
		return jobs.NewWorker(orch, driver, workerConfig, slog.Default()).Run(ctx)
	}

	bar := cli.NewJobProgressBar(cmd.ErrOrStderr(), orch)
	driver := newDriver(store, categorizer, bar)
	processed, err := jobs.NewWorker(orch, driver, workerConfig, slog.Default()).RunOnce(ctx)
	bar.Finish()
	if err != nil {
		return err
	}
	if !processed {
		printLine(cmd.OutOrStdout(), cli.FormatInfo("No pending jobs"))
	}
	return nil
}

func newCategorizer(ctx context.Context, store *storage.SQLiteStorage) (*llm.Categorizer, error) {
	llmConfig := llm.Config{
		Provider:    appConfig.LLM.Provider,
		APIKey:      appConfig.LLM.APIKey,
		Model:       appConfig.LLM.Model,
		BaseURL:     appConfig.LLM.BaseURL,
		MaxRetries:  appConfig.LLM.MaxRetries,
		RetryDelay:  appConfig.LLM.RetryDelay,
		CacheTTL:    appConfig.LLM.CacheTTL,
		RateLimit:   appConfig.LLM.RateLimit,
		Temperature: appConfig.LLM.Temperature,
		MaxTokens:   appConfig.LLM.MaxTokens,
	}

	client, err := llm.NewClient(ctx, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return llm.NewCategorizer(client, store, llmConfig, slog.Default()), nil
}

func newDriver(store *storage.SQLiteStorage, categorizer engine.Categorizer, progress engine.ProgressReporter) *engine.BatchDriver {
	return engine.NewBatchDriver(store, store, categorizer, progress, engine.DriverConfig{
		BatchSize:  appConfig.Worker.BatchSize,
		BatchPause: appConfig.Worker.BatchPause,
	}, slog.Default())
}
