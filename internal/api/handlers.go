package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joltmail/jolt/internal/search"
	"github.com/joltmail/jolt/internal/store"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// decodeJSON decodes a request body, writing a 400 response on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return false
	}
	return true
}

// urlID parses the {id} URL parameter, writing a 400 response on failure.
func urlID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "ID must be a number")
		return 0, false
	}
	return id, true
}

// pageParams extracts pagination from the query string.
func pageParams(r *http.Request) (offset, pageSize, page int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize, page
}

// timeString formats a nullable timestamp for responses, empty when unset.
func timeString(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339)
}

// MessageSummary represents a message in list responses.
type MessageSummary struct {
	ID        int64    `json:"id"`
	FolderID  int64    `json:"folder_id"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Subject   string   `json:"subject"`
	From      string   `json:"from"`
	To        []string `json:"to"`
	SentAt    string   `json:"sent_at,omitempty"`
	Snippet   string   `json:"snippet"`
	Read      bool     `json:"read"`
	Starred   bool     `json:"starred"`
	HasAttach bool     `json:"has_attachments"`
	SizeBytes int64    `json:"size_bytes"`
}

// MessageDetail represents a full message response.
type MessageDetail struct {
	MessageSummary
	Cc       []string `json:"cc,omitempty"`
	BodyText string   `json:"body_text"`
	BodyHTML string   `json:"body_html,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

func toSummary(m *store.Message) MessageSummary {
	from := ""
	if len(m.From) > 0 {
		from = m.From[0].String()
	}
	to := make([]string, len(m.To))
	for i, a := range m.To {
		to[i] = a.String()
	}
	return MessageSummary{
		ID:        m.ID,
		FolderID:  m.FolderID,
		ThreadID:  m.ThreadID,
		Subject:   m.Subject,
		From:      from,
		To:        to,
		SentAt:    timeString(m.SentAt),
		Snippet:   m.Snippet,
		Read:      m.IsRead,
		Starred:   m.IsStarred,
		HasAttach: m.HasAttachments,
		SizeBytes: m.SizeEstimate,
	}
}

func toSummaries(messages []*store.Message) []MessageSummary {
	summaries := make([]MessageSummary, len(messages))
	for i, m := range messages {
		summaries[i] = toSummary(m)
	}
	return summaries
}

// handleStats returns database statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_accounts":      stats.AccountCount,
		"total_folders":       stats.FolderCount,
		"total_messages":      stats.MessageCount,
		"total_threads":       stats.ThreadCount,
		"total_labels":        stats.LabelCount,
		"total_rules":         stats.RuleCount,
		"database_size_bytes": stats.DatabaseSize,
		"fts5_enabled":        s.deps.Store.FTS5Available(),
	})
}

// handleSearch searches an account's messages. The query string supports
// structured operators (from:, to:, subject:, has:attachment, is:unread,
// is:starred, before:, after:) alongside free text.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("q")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}

	query := search.Parse(raw)
	offset, pageSize, page := pageParams(r)

	messages, total, err := s.deps.Store.SearchMessages(accountID, query, offset, pageSize)
	if err != nil {
		s.logger.Error("search failed", "query", raw, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":     raw,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"messages":  toSummaries(messages),
	})
}

// handleSchedulerStatus returns the scheduler entries.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": s.deps.Scheduler.Entries(),
	})
}
