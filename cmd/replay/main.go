package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homework_bot/config"
	"homework_bot/internal/lifecycle"
	"homework_bot/internal/replay"
	"homework_bot/internal/repository"
	"homework_bot/internal/webhook"
	"homework_bot/pkg/db"
	"homework_bot/pkg/logger"
)

var (
	replayFile    string
	replayRun     bool
	replayErrors  string
	replayMigrate bool
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-apply exported GitHub events",
	Long: `Reads a JSON-lines export of pull request events and applies each one
through the webhook routing rules with notifications turned off.

Without --run the records are only resolved and validated. Lines that
fail are written to the errors file.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runReplay,
}

func init() {
	rootCmd.Flags().StringVarP(&replayFile, "file", "f", "", "JSON-lines event export")
	rootCmd.Flags().BoolVar(&replayRun, "run", false, "Apply changes instead of a dry run")
	rootCmd.Flags().StringVar(&replayErrors, "errors", replay.DefaultErrorsPath, "Where failed lines are written")
	rootCmd.Flags().BoolVar(&replayMigrate, "migrate", false, "Apply database migrations first")
	_ = rootCmd.MarkFlagRequired("file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	dbConfig := db.Config{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.DBName,
		SSLMode:  cfg.DB.SSLMode,
		MaxConns: cfg.DB.MaxConns,
	}
	if replayMigrate {
		if err := db.Migrate(dbConfig); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	pool, err := db.NewPool(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	f, err := os.Open(replayFile)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	users := repository.NewUserRepository(pool)
	submissions := repository.NewSubmissionRepository(pool)
	machine := lifecycle.New(submissions, nil, log)
	processor := replay.NewProcessor(
		webhook.NewRouter(users, submissions, machine, log),
		submissions,
		users,
		machine,
		log,
	)

	report, err := processor.Process(ctx, f, replay.Options{Run: replayRun, ErrorsPath: replayErrors})
	if err != nil {
		log.Error(ctx, "Replay aborted", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ok: %d, failed: %d\n", report.OK, report.Failed)
	if report.ErrorsPath != "" {
		fmt.Fprintf(out, "failed lines written to %s\n", report.ErrorsPath)
	}
	if !replayRun {
		fmt.Fprintln(out, "dry run, nothing was changed (use --run to apply)")
	}
	return nil
}
