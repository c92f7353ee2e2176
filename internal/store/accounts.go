package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Account holds credentials and connection settings for one mailbox.
type Account struct {
	ID          int64
	Email       string
	DisplayName string
	IMAPHost    string
	IMAPPort    int
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	UseTLS      bool
	SendDelay   int // seconds to hold outbound mail; 0 = send immediately
	Enabled     bool
	SyncError   sql.NullString
	LastSyncAt  sql.NullTime
}

const accountColumns = `id, email, display_name, imap_host, imap_port, smtp_host, smtp_port,
	username, password, use_tls, send_delay, enabled, sync_error, last_sync_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.IMAPHost, &a.IMAPPort,
		&a.SMTPHost, &a.SMTPPort, &a.Username, &a.Password, &a.UseTLS,
		&a.SendDelay, &a.Enabled, &a.SyncError, &a.LastSyncAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account and returns its ID.
func (s *Store) CreateAccount(a *Account) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO accounts (email, display_name, imap_host, imap_port, smtp_host, smtp_port,
			username, password, use_tls, send_delay, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Email, a.DisplayName, a.IMAPHost, a.IMAPPort, a.SMTPHost, a.SMTPPort,
		a.Username, a.Password, a.UseTLS, a.SendDelay, a.Enabled)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return result.LastInsertId()
}

// GetAccount returns an account by ID, or nil if it does not exist.
func (s *Store) GetAccount(id int64) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

// GetAccountByEmail returns an account by email address, or nil if absent.
func (s *Store) GetAccountByEmail(email string) (*Account, error) {
	row := s.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %q: %w", email, err)
	}
	return a, nil
}

// ListAccounts returns all accounts ordered by email.
func (s *Store) ListAccounts() ([]*Account, error) {
	rows, err := s.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccount updates mutable account settings.
func (s *Store) UpdateAccount(a *Account) error {
	_, err := s.db.Exec(`
		UPDATE accounts
		SET email = ?, display_name = ?, imap_host = ?, imap_port = ?,
		    smtp_host = ?, smtp_port = ?, username = ?, password = ?,
		    use_tls = ?, send_delay = ?, enabled = ?
		WHERE id = ?`,
		a.Email, a.DisplayName, a.IMAPHost, a.IMAPPort, a.SMTPHost, a.SMTPPort,
		a.Username, a.Password, a.UseTLS, a.SendDelay, a.Enabled, a.ID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", a.ID, err)
	}
	return nil
}

// DeleteAccount removes an account. Folders, messages, labels, rules and
// drafts cascade via foreign keys.
func (s *Store) DeleteAccount(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account %d: %w", id, err)
	}
	return nil
}

// SetSyncError records a visible sync error string on the account.
func (s *Store) SetSyncError(id int64, msg string) error {
	if _, err := s.db.Exec(`UPDATE accounts SET sync_error = ? WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("set sync error: %w", err)
	}
	return nil
}

// MarkSynced clears the sync error and advances the last-sync checkpoint.
func (s *Store) MarkSynced(id int64, at time.Time) error {
	if _, err := s.db.Exec(`UPDATE accounts SET sync_error = NULL, last_sync_at = ? WHERE id = ?`,
		at.UTC(), id); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}
