package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joltmail/jolt/internal/store"
)

var (
	addIMAPHost string
	addIMAPPort int
	addSMTPHost string
	addSMTPPort int
	addUsername string
	addNoTLS    bool
)

var addAccountCmd = &cobra.Command{
	Use:   "add-account <email>",
	Short: "Add a mail account",
	Long: `Add a mail account to jolt.

The password is read from the JOLT_PASSWORD environment variable if set,
otherwise prompted for interactively.

Examples:
  jolt add-account you@example.com --imap-host imap.example.com --smtp-host smtp.example.com
  jolt add-account you@fastmail.com --imap-host imap.fastmail.com --smtp-host smtp.fastmail.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		if addIMAPHost == "" || addSMTPHost == "" {
			return fmt.Errorf("--imap-host and --smtp-host are required")
		}

		password := os.Getenv("JOLT_PASSWORD")
		if password == "" {
			var err error
			password, err = promptPassword(fmt.Sprintf("Password for %s: ", email))
			if err != nil {
				return err
			}
		}

		username := addUsername
		if username == "" {
			username = email
		}

		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()
		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		existing, err := s.GetAccountByEmail(email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("account %s already exists", email)
		}

		id, err := s.CreateAccount(&store.Account{
			Email:     email,
			IMAPHost:  addIMAPHost,
			IMAPPort:  addIMAPPort,
			SMTPHost:  addSMTPHost,
			SMTPPort:  addSMTPPort,
			Username:  username,
			Password:  password,
			UseTLS:    !addNoTLS,
			SendDelay: cfg.Send.DefaultDelaySeconds,
			Enabled:   true,
		})
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		logger.Info("account added", "email", email, "id", id)
		fmt.Printf("Added account %s (id %d). Run 'jolt sync %s' to fetch mail.\n", email, id, email)
		return nil
	},
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	// Non-interactive stdin (tests, pipes)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	addAccountCmd.Flags().StringVar(&addIMAPHost, "imap-host", "", "IMAP server hostname")
	addAccountCmd.Flags().IntVar(&addIMAPPort, "imap-port", 993, "IMAP server port")
	addAccountCmd.Flags().StringVar(&addSMTPHost, "smtp-host", "", "SMTP server hostname")
	addAccountCmd.Flags().IntVar(&addSMTPPort, "smtp-port", 465, "SMTP server port")
	addAccountCmd.Flags().StringVar(&addUsername, "username", "", "login username (default: the email address)")
	addAccountCmd.Flags().BoolVar(&addNoTLS, "no-tls", false, "use STARTTLS instead of implicit TLS")
	rootCmd.AddCommand(addAccountCmd)
}
