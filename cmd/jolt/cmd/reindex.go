package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/thread"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex <email>",
	Short: "Recompute thread assignments for an account",
	Long: `Recompute every thread assignment for an account from scratch by
replaying messages in chronological order.

Useful after bulk imports or when reply headers arrived out of order.
The operation is idempotent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		account, err := s.GetAccountByEmail(args[0])
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("account %s not found", args[0])
		}

		count, err := thread.New(s).WithLogger(logger).Reindex(account.ID)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		fmt.Printf("Reassigned %d messages.\n", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
