package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
)

// AccountInfo represents an account in responses. Credentials are write-only.
type AccountInfo struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	IMAPHost    string `json:"imap_host"`
	IMAPPort    int    `json:"imap_port"`
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	UseTLS      bool   `json:"use_tls"`
	SendDelay   int    `json:"send_delay_seconds"`
	Enabled     bool   `json:"enabled"`
	LastSyncAt  string `json:"last_sync_at,omitempty"`
	SyncError   string `json:"sync_error,omitempty"`
}

// accountRequest is the create/update payload.
type accountRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IMAPHost    string `json:"imap_host"`
	IMAPPort    int    `json:"imap_port"`
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	UseTLS      *bool  `json:"use_tls"`
	SendDelay   *int   `json:"send_delay_seconds"`
	Enabled     *bool  `json:"enabled"`
}

func toAccountInfo(a *store.Account) AccountInfo {
	info := AccountInfo{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		IMAPHost:    a.IMAPHost,
		IMAPPort:    a.IMAPPort,
		SMTPHost:    a.SMTPHost,
		SMTPPort:    a.SMTPPort,
		UseTLS:      a.UseTLS,
		SendDelay:   a.SendDelay,
		Enabled:     a.Enabled,
		LastSyncAt:  timeString(a.LastSyncAt),
	}
	if a.SyncError.Valid {
		info.SyncError = a.SyncError.String
	}
	return info
}

// handleListAccounts returns all accounts.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Store.ListAccounts()
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve accounts")
		return
	}

	infos := make([]AccountInfo, len(accounts))
	for i, a := range accounts {
		infos[i] = toAccountInfo(a)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": infos})
}

// handleCreateAccount registers a new account.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.IMAPHost == "" || req.SMTPHost == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "email, imap_host and smtp_host are required")
		return
	}

	a := &store.Account{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		IMAPHost:    req.IMAPHost,
		IMAPPort:    req.IMAPPort,
		SMTPHost:    req.SMTPHost,
		SMTPPort:    req.SMTPPort,
		Username:    req.Username,
		Password:    req.Password,
		UseTLS:      true,
		SendDelay:   s.cfg.Send.DefaultDelaySeconds,
		Enabled:     true,
	}
	if a.IMAPPort == 0 {
		a.IMAPPort = 993
	}
	if a.SMTPPort == 0 {
		a.SMTPPort = 465
	}
	if a.Username == "" {
		a.Username = a.Email
	}
	if req.UseTLS != nil {
		a.UseTLS = *req.UseTLS
	}
	if req.SendDelay != nil {
		a.SendDelay = *req.SendDelay
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}

	id, err := s.deps.Store.CreateAccount(a)
	if err != nil {
		s.logger.Error("failed to create account", "email", req.Email, "error", err)
		writeError(w, http.StatusConflict, "create_failed", "Account could not be created")
		return
	}
	a.ID = id
	writeJSON(w, http.StatusCreated, toAccountInfo(a))
}

// handleGetAccount returns one account.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	a, err := s.deps.Store.GetAccount(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve account")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, toAccountInfo(a))
}

// handleUpdateAccount updates account settings. Omitted fields keep their
// current values; an empty password is never applied.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	a, err := s.deps.Store.GetAccount(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve account")
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "not_found", "Account not found")
		return
	}

	var req accountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email != "" {
		a.Email = req.Email
	}
	if req.DisplayName != "" {
		a.DisplayName = req.DisplayName
	}
	if req.IMAPHost != "" {
		a.IMAPHost = req.IMAPHost
	}
	if req.IMAPPort != 0 {
		a.IMAPPort = req.IMAPPort
	}
	if req.SMTPHost != "" {
		a.SMTPHost = req.SMTPHost
	}
	if req.SMTPPort != 0 {
		a.SMTPPort = req.SMTPPort
	}
	if req.Username != "" {
		a.Username = req.Username
	}
	if req.Password != "" {
		a.Password = req.Password
	}
	if req.UseTLS != nil {
		a.UseTLS = *req.UseTLS
	}
	if req.SendDelay != nil {
		a.SendDelay = *req.SendDelay
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}

	if err := s.deps.Store.UpdateAccount(a); err != nil {
		s.logger.Error("failed to update account", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update account")
		return
	}
	writeJSON(w, http.StatusOK, toAccountInfo(a))
}

// handleDeleteAccount removes an account and all its local data.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteAccount(id); err != nil {
		s.logger.Error("failed to delete account", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSyncAccount triggers a sync. With ?stream=1 the response is a
// newline-delimited JSON stream of progress events ending with the result;
// otherwise the call blocks and returns the result.
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}

	if r.URL.Query().Get("stream") != "" {
		s.streamSync(w, r, id)
		return
	}

	result, err := s.deps.Engine.Sync(r.Context(), id)
	if err != nil {
		s.writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSyncStream is the streaming form of handleSyncAccount.
func (s *Server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	s.streamSync(w, r, id)
}

// streamSync runs a sync while streaming progress as NDJSON. Progress events
// are buffered; a slow client loses intermediate events rather than stalling
// the sync.
func (s *Server) streamSync(w http.ResponseWriter, r *http.Request, accountID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Response writer does not support streaming")
		return
	}

	sink := sync.NewBoundedSink(64)
	type outcome struct {
		result *sync.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.deps.Engine.SyncWithProgress(r.Context(), accountID, sink)
		done <- outcome{result, err}
		sink.Close()
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	for p := range sink.Events() {
		_ = enc.Encode(p)
		flusher.Flush()
	}

	out := <-done
	if out.err != nil {
		_ = enc.Encode(map[string]string{"phase": "error", "error": out.err.Error()})
	} else {
		_ = enc.Encode(map[string]interface{}{"phase": "result", "result": out.result})
	}
	flusher.Flush()
}

// writeSyncError maps sync engine errors to HTTP statuses.
func (s *Server) writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sync.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sync.ErrAccountDisabled):
		writeError(w, http.StatusConflict, "account_disabled", err.Error())
	case errors.Is(err, sync.ErrSyncInFlight):
		writeError(w, http.StatusConflict, "sync_in_flight", err.Error())
	case errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "remote_unavailable", err.Error())
	default:
		s.logger.Error("sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync_failed", err.Error())
	}
}

// handleReindexAccount recomputes all thread assignments for an account.
func (s *Server) handleReindexAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	count, err := s.deps.Threads.Reindex(id)
	if err != nil {
		s.logger.Error("reindex failed", "account", id, "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "Thread reindex failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reindexed": count})
}
