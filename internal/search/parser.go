// Package search provides field-scoped search query parsing.
package search

import (
	"strings"
	"time"
)

// Query represents a parsed search query with all supported filters.
type Query struct {
	TextTerms     []string   // Full-text search terms
	FromAddrs     []string   // from: filters
	ToAddrs       []string   // to: filters
	SubjectTerms  []string   // subject: filters
	HasAttachment *bool      // has:attachment
	Unread        *bool      // is:unread / is:read
	Starred       *bool      // is:starred
	BeforeDate    *time.Time // before: filter (YYYY-MM-DD)
	AfterDate     *time.Time // after: filter (YYYY-MM-DD)
}

// IsEmpty returns true if the query has no search criteria.
func (q *Query) IsEmpty() bool {
	return len(q.TextTerms) == 0 &&
		len(q.FromAddrs) == 0 &&
		len(q.ToAddrs) == 0 &&
		len(q.SubjectTerms) == 0 &&
		q.HasAttachment == nil &&
		q.Unread == nil &&
		q.Starred == nil &&
		q.BeforeDate == nil &&
		q.AfterDate == nil
}

// operatorFn handles a parsed operator:value pair by applying it to the query.
type operatorFn func(q *Query, value string)

var operators = map[string]operatorFn{
	"from": func(q *Query, v string) {
		q.FromAddrs = append(q.FromAddrs, strings.ToLower(v))
	},
	"to": func(q *Query, v string) {
		q.ToAddrs = append(q.ToAddrs, strings.ToLower(v))
	},
	"subject": func(q *Query, v string) {
		q.SubjectTerms = append(q.SubjectTerms, v)
	},
	"has": func(q *Query, v string) {
		if low := strings.ToLower(v); low == "attachment" || low == "attachments" {
			b := true
			q.HasAttachment = &b
		}
	},
	"is": func(q *Query, v string) {
		switch strings.ToLower(v) {
		case "unread":
			b := true
			q.Unread = &b
		case "read":
			b := false
			q.Unread = &b
		case "starred":
			b := true
			q.Starred = &b
		}
	},
	"before": func(q *Query, v string) {
		if t := parseDate(v); t != nil {
			q.BeforeDate = t
		}
	},
	"after": func(q *Query, v string) {
		if t := parseDate(v); t != nil {
			q.AfterDate = t
		}
	},
}

// Parse parses a search query string into a Query.
//
// Supported operators:
//   - from:, to: - address filters (display name or address substring)
//   - subject: - subject text search
//   - has:attachment - attachment filter
//   - is:unread, is:read, is:starred - flag filters
//   - before:, after: - date filters (YYYY-MM-DD)
//   - Bare words and "quoted phrases" - full-text search
func Parse(queryStr string) *Query {
	q := &Query{}

	for _, token := range tokenize(queryStr) {
		op, value, ok := strings.Cut(token, ":")
		if ok {
			if fn, known := operators[strings.ToLower(op)]; known && value != "" {
				fn(q, strings.Trim(value, `"`))
				continue
			}
		}
		if term := strings.Trim(token, `"`); term != "" {
			q.TextTerms = append(q.TextTerms, term)
		}
	}

	return q
}

// tokenize splits a query into tokens, keeping quoted phrases together.
// `subject:"hello world"` stays one token.
func tokenize(s string) []string {
	var (
		tokens   []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ' ' && !inQuotes:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// parseDate parses a YYYY-MM-DD date string.
func parseDate(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
