package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/joltmail/jolt/internal/store"
)

// handleGetMessage returns a single message with its bodies and labels.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	m, err := s.deps.Store.GetMessage(id)
	if err != nil {
		s.logger.Error("failed to get message", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve message")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}

	// Opening a message marks it read.
	if !m.IsRead {
		if err := s.deps.Store.SetRead(id, true); err != nil {
			s.logger.Error("failed to mark message read", "id", id, "error", err)
		} else {
			m.IsRead = true
		}
	}

	detail := MessageDetail{
		MessageSummary: toSummary(m),
		BodyText:       m.BodyText,
		BodyHTML:       m.BodyHTML,
	}
	for _, a := range m.Cc {
		detail.Cc = append(detail.Cc, a.String())
	}
	labels, err := s.deps.Store.MessageLabels(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve labels")
		return
	}
	for _, l := range labels {
		detail.Labels = append(detail.Labels, l.Name)
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleDeleteMessage removes a message locally.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteMessage(id); err != nil {
		s.logger.Error("failed to delete message", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetMessageFlags sets read/starred flags. Omitted flags are untouched.
func (s *Server) handleSetMessageFlags(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Read    *bool `json:"read"`
		Starred *bool `json:"starred"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Read != nil {
		if err := s.deps.Store.SetRead(id, *req.Read); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update flags")
			return
		}
	}
	if req.Starred != nil {
		if err := s.deps.Store.SetStarred(id, *req.Starred); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update flags")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMoveMessage moves a message to another folder. The message becomes
// local-only in the target folder until the next sync observes it remotely.
func (s *Server) handleMoveMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		FolderID int64 `json:"folder_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	folder, err := s.deps.Store.GetFolder(req.FolderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve folder")
		return
	}
	if folder == nil {
		writeError(w, http.StatusNotFound, "not_found", "Target folder not found")
		return
	}
	if err := s.deps.Store.MoveMessage(id, req.FolderID); err != nil {
		s.logger.Error("failed to move message", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to move message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssignLabel attaches a label to a message. Assigning an already
// assigned label is a no-op.
func (s *Server) handleAssignLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	labelID, ok := urlID(w, r, "labelID")
	if !ok {
		return
	}
	if err := s.deps.Store.AssignLabel(id, labelID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to assign label")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUnassignLabel detaches a label from a message.
func (s *Server) handleUnassignLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	labelID, ok := urlID(w, r, "labelID")
	if !ok {
		return
	}
	if err := s.deps.Store.UnassignLabel(id, labelID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to unassign label")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Batch operations.
const (
	batchOpRead   = "read"
	batchOpUnread = "unread"
	batchOpStar   = "star"
	batchOpUnstar = "unstar"
	batchOpMove   = "move"
	batchOpDelete = "delete"
	batchOpLabel  = "label"
)

// handleBatchMessages applies one operation to many messages. IDs not owned
// by the given account are skipped, not failed; the response reports how many
// were applied.
func (s *Server) handleBatchMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID int64   `json:"account_id"`
		IDs       []int64 `json:"ids"`
		Op        string  `json:"op"`
		FolderID  int64   `json:"folder_id"` // target for op "move"
		LabelID   int64   `json:"label_id"`  // target for op "label"
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "missing_ids", "At least one message ID is required")
		return
	}

	owned, err := s.deps.Store.FilterOwnedMessageIDs(req.AccountID, req.IDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to resolve messages")
		return
	}

	var apply func(id int64) error
	switch req.Op {
	case batchOpRead:
		apply = func(id int64) error { return s.deps.Store.SetRead(id, true) }
	case batchOpUnread:
		apply = func(id int64) error { return s.deps.Store.SetRead(id, false) }
	case batchOpStar:
		apply = func(id int64) error { return s.deps.Store.SetStarred(id, true) }
	case batchOpUnstar:
		apply = func(id int64) error { return s.deps.Store.SetStarred(id, false) }
	case batchOpMove:
		folder, err := s.deps.Store.GetFolder(req.FolderID)
		if err != nil || folder == nil || folder.AccountID != req.AccountID {
			writeError(w, http.StatusBadRequest, "invalid_folder", "Target folder not found for account")
			return
		}
		apply = func(id int64) error { return s.deps.Store.MoveMessage(id, req.FolderID) }
	case batchOpDelete:
		apply = func(id int64) error { return s.deps.Store.DeleteMessage(id) }
	case batchOpLabel:
		label, err := s.deps.Store.GetLabel(req.LabelID)
		if err != nil || label == nil || label.AccountID != req.AccountID {
			writeError(w, http.StatusBadRequest, "invalid_label", "Label not found for account")
			return
		}
		apply = func(id int64) error { return s.deps.Store.AssignLabel(id, req.LabelID) }
	default:
		writeError(w, http.StatusBadRequest, "invalid_op", "Unknown batch operation")
		return
	}

	for _, id := range owned {
		if err := apply(id); err != nil {
			s.logger.Error("batch operation failed", "op", req.Op, "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Batch operation failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": len(owned),
		"skipped": len(req.IDs) - len(owned),
	})
}

// handleGetThread returns a thread's summary and members oldest-first.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil || accountID == 0 {
		writeError(w, http.StatusBadRequest, "missing_account", "Query parameter 'account_id' is required")
		return
	}

	summary, err := s.deps.Store.GetThreadSummary(accountID, threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve thread")
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "not_found", "Thread not found")
		return
	}

	messages, err := s.deps.Store.ListMessagesByThread(accountID, threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve thread messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"thread":   toThreadInfo(summary),
		"messages": toSummaries(messages),
	})
}

// LabelInfo is the JSON shape of a label.
type LabelInfo struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	IsSystem  bool   `json:"is_system"`
}

func toLabelInfo(l *store.Label) LabelInfo {
	return LabelInfo{ID: l.ID, AccountID: l.AccountID, Name: l.Name, Color: l.Color, IsSystem: l.IsSystem}
}

// handleListLabels returns an account's labels.
func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	labels, err := s.deps.Store.ListLabels(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve labels")
		return
	}
	infos := make([]LabelInfo, 0, len(labels))
	for _, l := range labels {
		infos = append(infos, toLabelInfo(l))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"labels": infos})
}

// handleCreateLabel creates a label.
func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Label name is required")
		return
	}
	l := &store.Label{AccountID: accountID, Name: req.Name, Color: req.Color}
	id, err := s.deps.Store.CreateLabel(l)
	if err != nil {
		writeError(w, http.StatusConflict, "create_failed", "Label could not be created")
		return
	}
	l.ID = id
	writeJSON(w, http.StatusCreated, toLabelInfo(l))
}

// handleUpdateLabel renames or recolors a label.
func (s *Server) handleUpdateLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	l, err := s.deps.Store.GetLabel(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve label")
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, "not_found", "Label not found")
		return
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name != "" {
		l.Name = req.Name
	}
	if req.Color != "" {
		l.Color = req.Color
	}
	if err := s.deps.Store.UpdateLabel(l); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update label")
		return
	}
	writeJSON(w, http.StatusOK, toLabelInfo(l))
}

// handleDeleteLabel removes a label and all its assignments.
func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	label, err := s.deps.Store.GetLabel(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve label")
		return
	}
	if label == nil {
		writeError(w, http.StatusNotFound, "not_found", "Label not found")
		return
	}
	if label.IsSystem {
		writeError(w, http.StatusForbidden, "immutable_label", "System labels cannot be deleted")
		return
	}
	if err := s.deps.Store.DeleteLabel(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete label")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListLabelMessages returns one page of a label's messages.
func (s *Server) handleListLabelMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	offset, pageSize, page := pageParams(r)
	messages, total, err := s.deps.Store.ListMessagesByLabel(id, offset, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"messages":  toSummaries(messages),
	})
}
