package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Address is an email address with an optional display name.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String renders the address in RFC 5322 display form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return a.Name + " <" + a.Email + ">"
}

func marshalAddresses(addrs []Address) string {
	if len(addrs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalAddresses(raw string) []Address {
	if raw == "" || raw == "[]" {
		return nil
	}
	var addrs []Address
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil
	}
	return addrs
}

// Message is the local mirror of one remote message. It belongs to exactly
// one folder; moving a message reassigns folder_id, never duplicates the row.
type Message struct {
	ID             int64
	AccountID      int64
	FolderID       int64
	UID            uint32 // remote UID within folder; 0 for local-only rows
	MessageID      string
	InReplyTo      string
	ReferencesRaw  string
	ThreadID       string
	From           []Address
	To             []Address
	Cc             []Address
	Subject        string
	Snippet        string
	BodyText       string
	BodyHTML       string
	IsRead         bool
	IsStarred      bool
	IsAnswered     bool
	IsDraft        bool
	HasAttachments bool
	SizeEstimate   int64
	SentAt         sql.NullTime
}

const messageColumns = `id, account_id, folder_id, uid, message_id, in_reply_to, references_raw,
	thread_id, from_json, to_json, cc_json, subject, snippet, body_text, body_html,
	is_read, is_starred, is_answered, is_draft, has_attachments, size_estimate, sent_at`

// messageColumnsPrefixed qualifies every column with the "m" alias for joins.
const messageColumnsPrefixed = `m.id, m.account_id, m.folder_id, m.uid, m.message_id, m.in_reply_to,
	m.references_raw, m.thread_id, m.from_json, m.to_json, m.cc_json, m.subject, m.snippet,
	m.body_text, m.body_html, m.is_read, m.is_starred, m.is_answered, m.is_draft,
	m.has_attachments, m.size_estimate, m.sent_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*Message, error) {
	var (
		m                        Message
		fromJSON, toJSON, ccJSON string
	)
	err := row.Scan(&m.ID, &m.AccountID, &m.FolderID, &m.UID, &m.MessageID, &m.InReplyTo,
		&m.ReferencesRaw, &m.ThreadID, &fromJSON, &toJSON, &ccJSON, &m.Subject, &m.Snippet,
		&m.BodyText, &m.BodyHTML, &m.IsRead, &m.IsStarred, &m.IsAnswered, &m.IsDraft,
		&m.HasAttachments, &m.SizeEstimate, &m.SentAt)
	if err != nil {
		return nil, err
	}
	m.From = unmarshalAddresses(fromJSON)
	m.To = unmarshalAddresses(toJSON)
	m.Cc = unmarshalAddresses(ccJSON)
	return &m, nil
}

// InsertMessage inserts a message row and returns its ID.
func (s *Store) InsertMessage(m *Message) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO messages (account_id, folder_id, uid, message_id, in_reply_to, references_raw,
			thread_id, from_json, to_json, cc_json, subject, snippet, body_text, body_html,
			is_read, is_starred, is_answered, is_draft, has_attachments, size_estimate, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, m.FolderID, m.UID, m.MessageID, m.InReplyTo, m.ReferencesRaw,
		m.ThreadID, marshalAddresses(m.From), marshalAddresses(m.To), marshalAddresses(m.Cc),
		m.Subject, m.Snippet, m.BodyText, m.BodyHTML,
		m.IsRead, m.IsStarred, m.IsAnswered, m.IsDraft, m.HasAttachments, m.SizeEstimate, m.SentAt)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

// GetMessage returns a message by ID, or nil if absent.
func (s *Store) GetMessage(id int64) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// GetMessageByMessageID looks a message up by its protocol message identifier.
// This is the idempotent re-ingestion key: re-syncing the same remote message
// resolves to the existing row.
func (s *Store) GetMessageByMessageID(accountID int64, messageID string) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages
		WHERE account_id = ? AND message_id = ?`, accountID, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by message-id: %w", err)
	}
	return m, nil
}

// GetMessageByUID looks a message up by its remote UID within a folder.
// Used to dedupe fetched messages that carry no message identifier header.
func (s *Store) GetMessageByUID(folderID int64, uid uint32) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageColumns+` FROM messages
		WHERE folder_id = ? AND uid = ? AND uid > 0`, folderID, uid)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message by uid: %w", err)
	}
	return m, nil
}

// ListMessagesByFolder returns one page of messages newest-first plus the
// total count for the folder.
func (s *Store) ListMessagesByFolder(folderID int64, offset, limit int) ([]*Message, int64, error) {
	var total int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE folder_id = ?`, folderID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count folder messages: %w", err)
	}

	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE folder_id = ? ORDER BY sent_at DESC, id DESC LIMIT ? OFFSET ?`,
		folderID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list folder messages: %w", err)
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

// ListMessagesByThread returns all member messages of a thread oldest-first.
func (s *Store) ListMessagesByThread(accountID int64, threadID string) ([]*Message, error) {
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE account_id = ? AND thread_id = ? ORDER BY sent_at ASC, id ASC`,
		accountID, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListMessageIDs returns every message ID for an account in chronological
// order. Used by reindex and retroactive rule runs.
func (s *Store) ListMessageIDs(accountID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM messages WHERE account_id = ?
		ORDER BY sent_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMessagesChronological returns every message for an account oldest-first.
// Thread reindexing replays these in arrival order.
func (s *Store) ListMessagesChronological(accountID int64) ([]*Message, error) {
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM messages
		WHERE account_id = ? ORDER BY sent_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list messages chronological: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SetThreadID assigns a message to a thread.
func (s *Store) SetThreadID(messageID int64, threadID string) error {
	if _, err := s.db.Exec(`UPDATE messages SET thread_id = ? WHERE id = ?`, threadID, messageID); err != nil {
		return fmt.Errorf("set thread id: %w", err)
	}
	return nil
}

// ThreadAssignment pairs a message row with its recomputed thread ID.
type ThreadAssignment struct {
	MessageID int64
	ThreadID  string
}

// ReplaceThreadAssignments rewrites thread IDs for a whole account in one
// transaction, used by the reindex operation.
func (s *Store) ReplaceThreadAssignments(accountID int64, assignments []ThreadAssignment) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, a := range assignments {
			if _, err := tx.Exec(`UPDATE messages SET thread_id = ? WHERE id = ? AND account_id = ?`,
				a.ThreadID, a.MessageID, accountID); err != nil {
				return fmt.Errorf("assign thread %q to message %d: %w", a.ThreadID, a.MessageID, err)
			}
		}
		return nil
	})
}

// SetRead sets the read flag on a message.
func (s *Store) SetRead(id int64, read bool) error {
	if _, err := s.db.Exec(`UPDATE messages SET is_read = ? WHERE id = ?`, read, id); err != nil {
		return fmt.Errorf("set read: %w", err)
	}
	return nil
}

// SetStarred sets the starred flag on a message.
func (s *Store) SetStarred(id int64, starred bool) error {
	if _, err := s.db.Exec(`UPDATE messages SET is_starred = ? WHERE id = ?`, starred, id); err != nil {
		return fmt.Errorf("set starred: %w", err)
	}
	return nil
}

// SetAnswered sets the answered flag on a message.
func (s *Store) SetAnswered(id int64, answered bool) error {
	if _, err := s.db.Exec(`UPDATE messages SET is_answered = ? WHERE id = ?`, answered, id); err != nil {
		return fmt.Errorf("set answered: %w", err)
	}
	return nil
}

// MoveMessage reassigns a message to another folder. The remote UID is
// cleared; the next sync reconciles the remote placement by message-id.
func (s *Store) MoveMessage(id int64, folderID int64) error {
	if _, err := s.db.Exec(`UPDATE messages SET folder_id = ?, uid = 0 WHERE id = ?`, folderID, id); err != nil {
		return fmt.Errorf("move message %d: %w", id, err)
	}
	return nil
}

// RelocateMessage records a server-side move observed during sync: the
// message keeps its identity but picks up the new folder and UID.
func (s *Store) RelocateMessage(id int64, folderID int64, uid uint32) error {
	if _, err := s.db.Exec(`UPDATE messages SET folder_id = ?, uid = ? WHERE id = ?`, folderID, uid, id); err != nil {
		return fmt.Errorf("relocate message %d: %w", id, err)
	}
	return nil
}

// UpdateMessageFlags reconciles remote flag state onto an existing row.
func (s *Store) UpdateMessageFlags(id int64, read, starred, answered bool) error {
	_, err := s.db.Exec(`UPDATE messages SET is_read = ?, is_starred = ?, is_answered = ? WHERE id = ?`,
		read, starred, answered, id)
	if err != nil {
		return fmt.Errorf("update message flags: %w", err)
	}
	return nil
}

// DeleteMessage removes a message row.
func (s *Store) DeleteMessage(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	return nil
}

// FilterOwnedMessageIDs returns the subset of ids that belong to accountID,
// preserving input order. Batch operations use this to skip identifiers the
// caller does not own instead of failing the whole batch.
func (s *Store) FilterOwnedMessageIDs(accountID int64, ids []int64) ([]int64, error) {
	owned := make(map[int64]bool, len(ids))
	err := queryInChunks(s.db, ids, []interface{}{accountID},
		`SELECT id FROM messages WHERE account_id = ? AND id IN (%s)`,
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			owned[id] = true
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("filter owned messages: %w", err)
	}

	var result []int64
	for _, id := range ids {
		if owned[id] {
			result = append(result, id)
		}
	}
	return result, nil
}

// TouchSentAt is a helper for rows created locally (drafts, outbound copies).
func (s *Store) TouchSentAt(id int64, at time.Time) error {
	if _, err := s.db.Exec(`UPDATE messages SET sent_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch sent_at: %w", err)
	}
	return nil
}
