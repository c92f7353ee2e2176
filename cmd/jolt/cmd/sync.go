package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joltmail/jolt/internal/remote/imapx"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [email]",
	Short: "Sync one account, or all enabled accounts",
	Long: `Incrementally sync mail from the remote server.

With an email argument only that account is synced; without one every
enabled account is synced concurrently.

Examples:
  jolt sync
  jolt sync you@example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		engine := sync.New(s, imapx.NewDialer(imapx.WithLogger(logger))).WithLogger(logger)

		if len(args) == 0 {
			results, err := engine.SyncAll(cmd.Context())
			for _, res := range results {
				printSyncResult(res)
			}
			return err
		}

		account, err := s.GetAccountByEmail(args[0])
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s not found", args[0])
		}

		result, err := engine.Sync(cmd.Context(), account.ID)
		if err != nil {
			return err
		}
		printSyncResult(result)
		return nil
	},
}

func printSyncResult(r *sync.Result) {
	status := "ok"
	if r.Partial() {
		status = "partial"
	}
	fmt.Printf("Account %d: %s, %d folders (%d failed), %d added, %d relocated, %d flag updates in %s\n",
		r.AccountID, status, r.Folders, r.FoldersFailed, r.Added, r.Relocated, r.FlagUpdates,
		r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		fmt.Printf("  warning: %s\n", e)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
