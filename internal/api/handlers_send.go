package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joltmail/jolt/internal/outbox"
	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
)

// sendRequest is the outbound composition payload.
type sendRequest struct {
	AccountID    int64    `json:"account_id"`
	DraftID      string   `json:"draft_id,omitempty"`
	To           []string `json:"to"`
	Cc           []string `json:"cc,omitempty"`
	Bcc          []string `json:"bcc,omitempty"`
	Subject      string   `json:"subject"`
	BodyText     string   `json:"body_text"`
	BodyHTML     string   `json:"body_html,omitempty"`
	DelaySeconds *int     `json:"delay_seconds,omitempty"` // overrides the account default
}

func toAddresses(raw []string) []store.Address {
	addrs := make([]store.Address, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			addrs = append(addrs, store.Address{Email: r})
		}
	}
	return addrs
}

// handleSend queues an outbound message. With a positive delay the response
// carries the pending send ID and fire time; a zero delay sends immediately.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.To) == 0 {
		writeError(w, http.StatusBadRequest, "missing_recipients", "At least one recipient is required")
		return
	}

	account, err := s.deps.Store.GetAccount(req.AccountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
		return
	}

	delay := time.Duration(account.SendDelay) * time.Second
	if req.DelaySeconds != nil {
		delay = time.Duration(*req.DelaySeconds) * time.Second
	}

	msg := &remote.Outgoing{
		From:     store.Address{Name: account.DisplayName, Email: account.Email},
		To:       toAddresses(req.To),
		Cc:       toAddresses(req.Cc),
		Bcc:      toAddresses(req.Bcc),
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
	}

	id, err := s.deps.Outbox.Queue(r.Context(), account, req.DraftID, msg, delay)
	if err != nil {
		s.logger.Error("send failed", "account", account.Email, "error", err)
		if errors.Is(err, remote.ErrUnavailable) {
			writeError(w, http.StatusBadGateway, "remote_unavailable", "Outbound server unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "send_failed", "Message could not be sent")
		return
	}

	if id == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "queued",
		"id":      id,
		"fire_at": time.Now().Add(delay).UTC().Format(time.RFC3339),
	})
}

// handlePendingSends lists queued sends still inside their delay window.
func (s *Server) handlePendingSends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": s.deps.Outbox.List()})
}

// handleCancelSend aborts a queued send. Once the delay has elapsed and the
// message fired, cancellation fails with 404.
func (s *Server) handleCancelSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Outbox.Cancel(id); err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "No pending send with that ID; it may have already been sent")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to cancel send")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DraftInfo represents a draft in API responses.
type DraftInfo struct {
	DraftID   string   `json:"id"`
	AccountID int64    `json:"account_id"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Bcc       []string `json:"bcc,omitempty"`
	Subject   string   `json:"subject"`
	BodyText  string   `json:"body_text"`
	BodyHTML  string   `json:"body_html,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

func addrStrings(addrs []store.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	result := make([]string, len(addrs))
	for i, a := range addrs {
		result[i] = a.String()
	}
	return result
}

func toDraftInfo(d *store.Draft) DraftInfo {
	return DraftInfo{
		DraftID:   d.ID,
		AccountID: d.AccountID,
		To:        addrStrings(d.To),
		Cc:        addrStrings(d.Cc),
		Bcc:       addrStrings(d.Bcc),
		Subject:   d.Subject,
		BodyText:  d.BodyText,
		BodyHTML:  d.BodyHTML,
		UpdatedAt: d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// handleSaveDraft creates or updates a draft. A request without an ID gets a
// new one assigned.
func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string   `json:"id"`
		AccountID int64    `json:"account_id"`
		To        []string `json:"to"`
		Cc        []string `json:"cc"`
		Bcc       []string `json:"bcc"`
		Subject   string   `json:"subject"`
		BodyText  string   `json:"body_text"`
		BodyHTML  string   `json:"body_html"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID == 0 {
		writeError(w, http.StatusBadRequest, "missing_account", "account_id is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d := &store.Draft{
		ID:        req.ID,
		AccountID: req.AccountID,
		To:        toAddresses(req.To),
		Cc:        toAddresses(req.Cc),
		Bcc:       toAddresses(req.Bcc),
		Subject:   req.Subject,
		BodyText:  req.BodyText,
		BodyHTML:  req.BodyHTML,
		UpdatedAt: time.Now(),
	}
	if err := s.deps.Store.SaveDraft(d); err != nil {
		s.logger.Error("failed to save draft", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to save draft")
		return
	}
	writeJSON(w, http.StatusOK, toDraftInfo(d))
}

// handleGetDraft returns one draft.
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.deps.Store.GetDraft(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve draft")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not_found", "Draft not found")
		return
	}
	writeJSON(w, http.StatusOK, toDraftInfo(d))
}

// handleDeleteDraft removes a draft.
func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteDraft(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete draft")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDrafts returns an account's drafts.
func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	drafts, err := s.deps.Store.ListDrafts(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve drafts")
		return
	}
	infos := make([]DraftInfo, len(drafts))
	for i, d := range drafts {
		infos[i] = toDraftInfo(d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drafts": infos})
}
