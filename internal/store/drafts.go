package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Draft is a locally composed, not-yet-sent message.
type Draft struct {
	ID        string
	AccountID int64
	To        []Address
	Cc        []Address
	Bcc       []Address
	Subject   string
	BodyText  string
	BodyHTML  string
	UpdatedAt time.Time
}

const draftColumns = `id, account_id, to_json, cc_json, bcc_json, subject, body_text, body_html, updated_at`

func scanDraft(row interface{ Scan(...interface{}) error }) (*Draft, error) {
	var (
		d                       Draft
		toJSON, ccJSON, bccJSON string
	)
	err := row.Scan(&d.ID, &d.AccountID, &toJSON, &ccJSON, &bccJSON,
		&d.Subject, &d.BodyText, &d.BodyHTML, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.To = unmarshalAddresses(toJSON)
	d.Cc = unmarshalAddresses(ccJSON)
	d.Bcc = unmarshalAddresses(bccJSON)
	return &d, nil
}

// SaveDraft inserts or updates a draft by ID.
func (s *Store) SaveDraft(d *Draft) error {
	_, err := s.db.Exec(`
		INSERT INTO drafts (id, account_id, to_json, cc_json, bcc_json, subject, body_text, body_html, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			to_json = excluded.to_json,
			cc_json = excluded.cc_json,
			bcc_json = excluded.bcc_json,
			subject = excluded.subject,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			updated_at = datetime('now')`,
		d.ID, d.AccountID, marshalAddresses(d.To), marshalAddresses(d.Cc), marshalAddresses(d.Bcc),
		d.Subject, d.BodyText, d.BodyHTML)
	if err != nil {
		return fmt.Errorf("save draft %s: %w", d.ID, err)
	}
	return nil
}

// GetDraft returns a draft by ID, or nil if absent.
func (s *Store) GetDraft(id string) (*Draft, error) {
	row := s.db.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	d, err := scanDraft(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %s: %w", id, err)
	}
	return d, nil
}

// ListDrafts returns an account's drafts, most recently updated first.
func (s *Store) ListDrafts(accountID int64) ([]*Draft, error) {
	rows, err := s.db.Query(`SELECT `+draftColumns+` FROM drafts
		WHERE account_id = ? ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// DeleteDraft removes a draft.
func (s *Store) DeleteDraft(id string) error {
	if _, err := s.db.Exec(`DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	return nil
}
