package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/joltmail/jolt/internal/store"
)

var listAccountsJSON bool

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List configured mail accounts",
	Long: `List all mail accounts known to jolt.

Examples:
  jolt list-accounts
  jolt list-accounts --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		accounts, err := s.ListAccounts()
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts found. Use 'jolt add-account <email>' to add one.")
			return nil
		}

		if listAccountsJSON {
			return outputAccountsJSON(accounts)
		}
		outputAccountsTable(accounts)
		return nil
	},
}

func outputAccountsJSON(accounts []*store.Account) error {
	type row struct {
		ID         int64  `json:"id"`
		Email      string `json:"email"`
		IMAPHost   string `json:"imap_host"`
		Enabled    bool   `json:"enabled"`
		LastSyncAt string `json:"last_sync_at,omitempty"`
		SyncError  string `json:"sync_error,omitempty"`
	}
	rows := make([]row, len(accounts))
	for i, a := range accounts {
		rows[i] = row{
			ID:       a.ID,
			Email:    a.Email,
			IMAPHost: a.IMAPHost,
			Enabled:  a.Enabled,
		}
		if a.LastSyncAt.Valid {
			rows[i].LastSyncAt = a.LastSyncAt.Time.Format("2006-01-02 15:04:05")
		}
		if a.SyncError.Valid {
			rows[i].SyncError = a.SyncError.String
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func outputAccountsTable(accounts []*store.Account) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tIMAP HOST\tENABLED\tLAST SYNC\tERROR")
	for _, a := range accounts {
		lastSync := "-"
		if a.LastSyncAt.Valid {
			lastSync = a.LastSyncAt.Time.Format("2006-01-02 15:04")
		}
		syncErr := ""
		if a.SyncError.Valid {
			syncErr = a.SyncError.String
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n",
			a.ID, a.Email, a.IMAPHost, a.Enabled, lastSync, syncErr)
	}
	w.Flush()
}

func init() {
	listAccountsCmd.Flags().BoolVar(&listAccountsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(listAccountsCmd)
}
