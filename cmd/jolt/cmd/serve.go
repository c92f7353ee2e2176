package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joltmail/jolt/internal/api"
	"github.com/joltmail/jolt/internal/folders"
	"github.com/joltmail/jolt/internal/outbox"
	"github.com/joltmail/jolt/internal/remote/imapx"
	"github.com/joltmail/jolt/internal/remote/smtpx"
	"github.com/joltmail/jolt/internal/rules"
	"github.com/joltmail/jolt/internal/scheduler"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
	"github.com/joltmail/jolt/internal/thread"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run jolt as a daemon with scheduled sync",
	Long: `Run jolt as a long-running daemon:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled incremental syncs based on account config

Configure schedules in config.toml:
  [[accounts]]
  email = "you@example.com"
  schedule = "*/5 * * * *"   # every five minutes (cron format)
  enabled = true

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	if err := s.InitSchema(); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	dialer := imapx.NewDialer(imapx.WithLogger(logger))
	engine := sync.New(s, dialer).WithLogger(logger)
	transport := smtpx.NewSender(smtpx.WithLogger(logger))
	box := outbox.New(s, transport).WithLogger(logger)
	defer box.Stop()

	sched := scheduler.New(func(ctx context.Context, email string) error {
		account, err := s.GetAccountByEmail(email)
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s not found", email)
		}
		_, err = engine.Sync(ctx, account.ID)
		return err
	}).WithLogger(logger)

	added, schedErrs := sched.AddAccountsFromConfig(cfg)
	for _, e := range schedErrs {
		logger.Warn("skipping schedule", "error", e)
	}
	if added > 0 {
		sched.Start()
		defer sched.Stop()
	}

	server := api.NewServer(cfg, api.Deps{
		Store:     s,
		Engine:    engine,
		Outbox:    box,
		Folders:   folders.New(s).WithLogger(logger),
		Threads:   thread.New(s).WithLogger(logger),
		Rules:     rules.New(s).WithLogger(logger),
		Scheduler: sched,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
