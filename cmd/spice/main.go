package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/statement-spice/internal/cli"
	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/config"
)

var (
	cfgFile string
	version = "dev"

	// v holds defaults, the config file and SPICE_* environment overrides.
	v = config.NewViper()
	// appConfig is loaded by initConfig before any subcommand runs.
	appConfig *config.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spice",
		Short: "🌶️  Bank statement enhancement pipeline",
		Long: `spice imports bank statements, applies categorization rules, skips
rows that were already imported and hands whatever the rules cannot
resolve to a background AI categorization job.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/spice/config.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console, json)")
	root.PersistentFlags().String("owner", config.DefaultOwner, "owner that imported data and rules belong to")
	root.PersistentFlags().String("db", "", "database path (overrides database.path)")

	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("owner", root.PersistentFlags().Lookup("owner"))
	_ = v.BindPFlag("database.path", root.PersistentFlags().Lookup("db"))

	root.AddCommand(migrateCmd())
	root.AddCommand(importCmd())
	root.AddCommand(workerCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(categoriesCmd())
	root.AddCommand(counterpartiesCmd())
	root.AddCommand(versionCmd())

	return root
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		var userErr *common.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintln(os.Stderr, cli.FormatError(userErr.UserMessage))
		} else {
			fmt.Fprintln(os.Stderr, cli.FormatError(err.Error()))
		}
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".config", "spice"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	appConfig = cfg

	level, err := common.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if err := common.SetupLogger(level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "spice %s\n", version)
		},
	}
}
