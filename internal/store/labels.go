package store

import (
	"database/sql"
	"fmt"
)

// Label is an account-scoped tag, many-to-many with messages.
type Label struct {
	ID        int64
	AccountID int64
	Name      string
	Color     string
	IsSystem  bool
}

const labelColumns = `id, account_id, name, color, is_system`

func scanLabel(row interface{ Scan(...interface{}) error }) (*Label, error) {
	var l Label
	if err := row.Scan(&l.ID, &l.AccountID, &l.Name, &l.Color, &l.IsSystem); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLabel inserts a label and returns its ID.
func (s *Store) CreateLabel(l *Label) (int64, error) {
	result, err := s.db.Exec(`INSERT INTO labels (account_id, name, color, is_system) VALUES (?, ?, ?, ?)`,
		l.AccountID, l.Name, l.Color, l.IsSystem)
	if err != nil {
		return 0, fmt.Errorf("insert label: %w", err)
	}
	return result.LastInsertId()
}

// GetLabel returns a label by ID, or nil if absent.
func (s *Store) GetLabel(id int64) (*Label, error) {
	row := s.db.QueryRow(`SELECT `+labelColumns+` FROM labels WHERE id = ?`, id)
	l, err := scanLabel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get label %d: %w", id, err)
	}
	return l, nil
}

// GetLabelByName returns an account's label by name, or nil if absent.
func (s *Store) GetLabelByName(accountID int64, name string) (*Label, error) {
	row := s.db.QueryRow(`SELECT `+labelColumns+` FROM labels WHERE account_id = ? AND name = ?`,
		accountID, name)
	l, err := scanLabel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get label %q: %w", name, err)
	}
	return l, nil
}

// ListLabels returns all labels for an account ordered by name.
func (s *Store) ListLabels(accountID int64) ([]*Label, error) {
	rows, err := s.db.Query(`SELECT `+labelColumns+` FROM labels WHERE account_id = ? ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var labels []*Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// UpdateLabel updates a label's name and color.
func (s *Store) UpdateLabel(l *Label) error {
	if _, err := s.db.Exec(`UPDATE labels SET name = ?, color = ? WHERE id = ?`, l.Name, l.Color, l.ID); err != nil {
		return fmt.Errorf("update label %d: %w", l.ID, err)
	}
	return nil
}

// DeleteLabel removes a label; its message assignments cascade.
func (s *Store) DeleteLabel(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM labels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete label %d: %w", id, err)
	}
	return nil
}

// AssignLabel attaches a label to a message. Assigning twice is a no-op.
func (s *Store) AssignLabel(messageID, labelID int64) error {
	_, err := s.db.Exec(`INSERT INTO message_labels (message_id, label_id) VALUES (?, ?)
		ON CONFLICT(message_id, label_id) DO NOTHING`, messageID, labelID)
	if err != nil {
		return fmt.Errorf("assign label: %w", err)
	}
	return nil
}

// UnassignLabel detaches a label from a message.
func (s *Store) UnassignLabel(messageID, labelID int64) error {
	if _, err := s.db.Exec(`DELETE FROM message_labels WHERE message_id = ? AND label_id = ?`,
		messageID, labelID); err != nil {
		return fmt.Errorf("unassign label: %w", err)
	}
	return nil
}

// MessageLabels returns the labels attached to a message, ordered by name.
func (s *Store) MessageLabels(messageID int64) ([]*Label, error) {
	rows, err := s.db.Query(`SELECT l.id, l.account_id, l.name, l.color, l.is_system
		FROM labels l JOIN message_labels ml ON ml.label_id = l.id
		WHERE ml.message_id = ? ORDER BY l.name`, messageID)
	if err != nil {
		return nil, fmt.Errorf("message labels: %w", err)
	}
	defer rows.Close()

	var labels []*Label
	for rows.Next() {
		l, err := scanLabel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// ListMessagesByLabel returns one page of messages carrying a label,
// newest-first, plus the total count.
func (s *Store) ListMessagesByLabel(labelID int64, offset, limit int) ([]*Message, int64, error) {
	var total int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM message_labels WHERE label_id = ?`, labelID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count label messages: %w", err)
	}

	rows, err := s.db.Query(`SELECT `+messageColumnsPrefixed+` FROM messages m
		JOIN message_labels ml ON ml.message_id = m.id
		WHERE ml.label_id = ? ORDER BY m.sent_at DESC, m.id DESC LIMIT ? OFFSET ?`,
		labelID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list label messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}
