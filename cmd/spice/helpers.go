package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Veraticus/statement-spice/internal/config"
	"github.com/Veraticus/statement-spice/internal/jobs"
	"github.com/Veraticus/statement-spice/internal/storage"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(appConfig.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func newOrchestrator(store *storage.SQLiteStorage) *jobs.Orchestrator {
	jobConfig := jobs.DefaultConfig()
	jobConfig.MaxRetries = appConfig.Jobs.MaxRetries
	if appConfig.Jobs.StatusURLPrefix != "" {
		jobConfig.StatusURLPrefix = appConfig.Jobs.StatusURLPrefix
	}
	return jobs.NewOrchestrator(store, jobConfig, slog.Default())
}

func owner() string {
	if appConfig == nil || appConfig.Owner == "" {
		return config.DefaultOwner
	}
	return appConfig.Owner
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func printLine(w io.Writer, s string) {
	if _, err := fmt.Fprintln(w, s); err != nil {
		slog.Warn("Failed to write output", "error", err)
	}
}
