package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ThreadSummary is a derived aggregate over the member messages of a thread.
// It is computed at read time from current rows, never cached, so flag
// changes on members are reflected immediately.
type ThreadSummary struct {
	ThreadID       string
	Subject        string
	LatestAt       time.Time
	MessageCount   int64
	UnreadCount    int64
	AnyStarred     bool
	HasAttachments bool
	Participants   []Address
}

// Aggregate expressions like MAX(sent_at) carry no declared column type, so
// the driver returns the stored text instead of a time.Time. The layouts
// mirror the formats the sqlite driver writes and accepts.
var aggregateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseAggregateTime(s string) (time.Time, bool) {
	for _, layout := range aggregateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ThreadIDForMessageID returns the thread of an already-known message
// identifier, or "" if the identifier is not known locally.
func (s *Store) ThreadIDForMessageID(accountID int64, messageID string) (string, error) {
	var threadID string
	err := s.db.QueryRow(`SELECT thread_id FROM messages
		WHERE account_id = ? AND message_id = ? AND thread_id != ''`,
		accountID, messageID).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("thread for message-id: %w", err)
	}
	return threadID, nil
}

// ListThreadsByFolder returns one page of thread aggregates for threads with
// at least one member in the folder, newest activity first.
func (s *Store) ListThreadsByFolder(accountID, folderID int64, offset, limit int) ([]*ThreadSummary, int64, error) {
	var total int64
	err := s.db.QueryRow(`SELECT COUNT(DISTINCT thread_id) FROM messages
		WHERE folder_id = ? AND thread_id != ''`, folderID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count folder threads: %w", err)
	}

	// Aggregate over every member of each thread (not only the members in
	// this folder) so counts match the full conversation view.
	rows, err := s.db.Query(`
		SELECT m.thread_id,
		       (SELECT m2.subject FROM messages m2 WHERE m2.account_id = m.account_id AND m2.thread_id = m.thread_id
		        ORDER BY m2.sent_at ASC, m2.id ASC LIMIT 1),
		       MAX(m.sent_at),
		       COUNT(*),
		       SUM(CASE WHEN m.is_read = 0 THEN 1 ELSE 0 END),
		       MAX(m.is_starred),
		       MAX(m.has_attachments)
		FROM messages m
		WHERE m.account_id = ? AND m.thread_id != ''
		  AND m.thread_id IN (SELECT DISTINCT thread_id FROM messages WHERE folder_id = ? AND thread_id != '')
		GROUP BY m.thread_id
		ORDER BY MAX(m.sent_at) DESC
		LIMIT ? OFFSET ?`,
		accountID, folderID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list folder threads: %w", err)
	}
	defer rows.Close()

	var summaries []*ThreadSummary
	for rows.Next() {
		var (
			ts       ThreadSummary
			latest   sql.NullString
			starred  int64
			attached int64
		)
		if err := rows.Scan(&ts.ThreadID, &ts.Subject, &latest, &ts.MessageCount,
			&ts.UnreadCount, &starred, &attached); err != nil {
			return nil, 0, fmt.Errorf("scan thread summary: %w", err)
		}
		if latest.Valid {
			if t, ok := parseAggregateTime(latest.String); ok {
				ts.LatestAt = t
			}
		}
		ts.AnyStarred = starred != 0
		ts.HasAttachments = attached != 0
		summaries = append(summaries, &ts)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := s.fillThreadParticipants(accountID, summaries); err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

// GetThreadSummary computes the aggregate for a single thread, or nil when
// the thread has no members.
func (s *Store) GetThreadSummary(accountID int64, threadID string) (*ThreadSummary, error) {
	var (
		ts       ThreadSummary
		latest   sql.NullString
		subject  sql.NullString
		starred  int64
		attached int64
	)
	err := s.db.QueryRow(`
		SELECT (SELECT m2.subject FROM messages m2 WHERE m2.account_id = ? AND m2.thread_id = ?
		        ORDER BY m2.sent_at ASC, m2.id ASC LIMIT 1),
		       MAX(sent_at), COUNT(*),
		       SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END),
		       MAX(is_starred), MAX(has_attachments)
		FROM messages WHERE account_id = ? AND thread_id = ?`,
		accountID, threadID, accountID, threadID).
		Scan(&subject, &latest, &ts.MessageCount, &ts.UnreadCount, &starred, &attached)
	if err != nil {
		return nil, fmt.Errorf("thread summary: %w", err)
	}
	if ts.MessageCount == 0 {
		return nil, nil
	}
	ts.ThreadID = threadID
	ts.Subject = subject.String
	if latest.Valid {
		if t, ok := parseAggregateTime(latest.String); ok {
			ts.LatestAt = t
		}
	}
	ts.AnyStarred = starred != 0
	ts.HasAttachments = attached != 0

	summaries := []*ThreadSummary{&ts}
	if err := s.fillThreadParticipants(accountID, summaries); err != nil {
		return nil, err
	}
	return &ts, nil
}

// fillThreadParticipants computes the distinct sender set for each summary
// from current member rows.
func (s *Store) fillThreadParticipants(accountID int64, summaries []*ThreadSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	byThread := make(map[string]*ThreadSummary, len(summaries))
	threadIDs := make([]string, 0, len(summaries))
	for _, ts := range summaries {
		byThread[ts.ThreadID] = ts
		threadIDs = append(threadIDs, ts.ThreadID)
	}

	seen := make(map[string]map[string]bool, len(summaries))
	err := queryInChunks(s.db, threadIDs, []interface{}{accountID},
		`SELECT thread_id, from_json FROM messages WHERE account_id = ? AND thread_id IN (%s)
		 ORDER BY sent_at ASC, id ASC`,
		func(rows *sql.Rows) error {
			var threadID, fromJSON string
			if err := rows.Scan(&threadID, &fromJSON); err != nil {
				return err
			}
			ts, ok := byThread[threadID]
			if !ok {
				return nil
			}
			for _, addr := range unmarshalAddresses(fromJSON) {
				if seen[threadID] == nil {
					seen[threadID] = make(map[string]bool)
				}
				if seen[threadID][addr.Email] {
					continue
				}
				seen[threadID][addr.Email] = true
				ts.Participants = append(ts.Participants, addr)
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("thread participants: %w", err)
	}
	return nil
}
