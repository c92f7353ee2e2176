package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joltmail/jolt/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the jolt database with the required schema.

This command creates all tables for accounts, folders, messages, labels,
rules and drafts. It is safe to run multiple times - tables are only created
if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabasePath()
		logger.Info("initializing database", "path", dbPath)

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", dbPath)
		fmt.Printf("  Accounts: %d\n", stats.AccountCount)
		fmt.Printf("  Folders:  %d\n", stats.FolderCount)
		fmt.Printf("  Messages: %d\n", stats.MessageCount)
		fmt.Printf("  Threads:  %d\n", stats.ThreadCount)
		fmt.Printf("  Labels:   %d\n", stats.LabelCount)
		fmt.Printf("  Rules:    %d\n", stats.RuleCount)
		fmt.Printf("  Size:     %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
