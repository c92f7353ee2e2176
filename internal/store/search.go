package store

import (
	"fmt"
	"strings"

	"github.com/joltmail/jolt/internal/search"
)

// SearchMessages runs a parsed search query against an account's messages
// and returns one page of results newest-first plus the total hit count.
// Text terms use the FTS5 index when available and fall back to LIKE.
func (s *Store) SearchMessages(accountID int64, q *search.Query, offset, limit int) ([]*Message, int64, error) {
	where := []string{"m.account_id = ?"}
	args := []interface{}{accountID}

	for _, addr := range q.FromAddrs {
		where = append(where, "LOWER(m.from_json) LIKE ?")
		args = append(args, "%"+strings.ToLower(addr)+"%")
	}
	for _, addr := range q.ToAddrs {
		where = append(where, "(LOWER(m.to_json) LIKE ? OR LOWER(m.cc_json) LIKE ?)")
		like := "%" + strings.ToLower(addr) + "%"
		args = append(args, like, like)
	}
	for _, term := range q.SubjectTerms {
		where = append(where, "LOWER(m.subject) LIKE ?")
		args = append(args, "%"+strings.ToLower(term)+"%")
	}
	if q.HasAttachment != nil {
		where = append(where, "m.has_attachments = ?")
		args = append(args, *q.HasAttachment)
	}
	if q.Unread != nil {
		where = append(where, "m.is_read = ?")
		args = append(args, !*q.Unread)
	}
	if q.Starred != nil {
		where = append(where, "m.is_starred = ?")
		args = append(args, *q.Starred)
	}
	if q.BeforeDate != nil {
		where = append(where, "m.sent_at < ?")
		args = append(args, q.BeforeDate.UTC())
	}
	if q.AfterDate != nil {
		where = append(where, "m.sent_at >= ?")
		args = append(args, q.AfterDate.UTC())
	}

	from := "messages m"
	if len(q.TextTerms) > 0 {
		if s.fts5Available {
			from = "messages m JOIN messages_fts fts ON fts.rowid = m.id"
			where = append(where, "messages_fts MATCH ?")
			args = append(args, ftsMatchExpr(q.TextTerms))
		} else {
			for _, term := range q.TextTerms {
				where = append(where, "(LOWER(m.subject) LIKE ? OR LOWER(m.body_text) LIKE ?)")
				like := "%" + strings.ToLower(term) + "%"
				args = append(args, like, like)
			}
		}
	}

	whereClause := strings.Join(where, " AND ")

	var total int64
	countQuery := "SELECT COUNT(*) FROM " + from + " WHERE " + whereClause
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	listQuery := "SELECT " + messageColumnsPrefixed + " FROM " + from +
		" WHERE " + whereClause + " ORDER BY m.sent_at DESC, m.id DESC LIMIT ? OFFSET ?"
	listArgs := append(append([]interface{}{}, args...), limit, offset)

	rows, err := s.db.Query(listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search messages: %w", err)
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

// ftsMatchExpr builds an FTS5 MATCH expression from text terms. Terms are
// quoted so user input cannot inject FTS syntax.
func ftsMatchExpr(terms []string) string {
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
