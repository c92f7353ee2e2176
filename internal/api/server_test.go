package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joltmail/jolt/internal/api"
	"github.com/joltmail/jolt/internal/config"
	"github.com/joltmail/jolt/internal/folders"
	"github.com/joltmail/jolt/internal/outbox"
	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/rules"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
	"github.com/joltmail/jolt/internal/testutil"
	"github.com/joltmail/jolt/internal/thread"
)

type testEnv struct {
	server    *api.Server
	store     *store.Store
	mock      *remote.Mock
	transport *remote.MockTransport
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	st := testutil.NewTestStore(t)
	mock := remote.NewMock()
	transport := remote.NewMockTransport()

	cfg := &config.Config{
		Server: config.ServerConfig{APIKey: apiKey, RateLimitQPS: 1000},
		Send:   config.SendConfig{DefaultDelaySeconds: 30},
	}
	deps := api.Deps{
		Store:   st,
		Engine:  sync.New(st, mock),
		Outbox:  outbox.New(st, transport),
		Folders: folders.New(st),
		Threads: thread.New(st),
		Rules:   rules.New(st),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{
		server:    api.NewServer(cfg, deps, logger),
		store:     st,
		mock:      mock,
		transport: transport,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		testutil.MustNoErr(t, err, "encode request body")
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	testutil.MustNoErr(t, json.NewDecoder(rec.Body).Decode(dst), "decode response body")
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newTestEnv(t, "topsecret")
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "topsecret")

	rec := env.do(t, http.MethodGet, "/api/v1/stats", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: got %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{"Authorization": "Bearer topsecret"})
	if rec.Code != http.StatusOK {
		t.Errorf("bearer key: got %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stats", nil, map[string]string{"X-API-Key": "topsecret"})
	if rec.Code != http.StatusOK {
		t.Errorf("x-api-key header: got %d, want 200", rec.Code)
	}
}

func TestCreateAccountDefaults(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"email":     "user@example.com",
		"imap_host": "imap.example.com",
		"smtp_host": "smtp.example.com",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", rec.Code, rec.Body.String())
	}

	var got api.AccountInfo
	decodeBody(t, rec, &got)
	want := api.AccountInfo{
		ID:        got.ID,
		Email:     "user@example.com",
		IMAPHost:  "imap.example.com",
		IMAPPort:  993,
		SMTPHost:  "smtp.example.com",
		SMTPPort:  465,
		UseTLS:    true,
		SendDelay: 30,
		Enabled:   true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("account defaults mismatch (-want +got):\n%s", diff)
	}

	// Credentials are write-only: the stored row has them, the response not.
	a, err := env.store.GetAccount(got.ID)
	testutil.MustNoErr(t, err, "load account")
	if a.Username != "user@example.com" {
		t.Errorf("username should default to email, got %q", a.Username)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/api/v1/accounts", map[string]interface{}{
		"email": "user@example.com",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing hosts: got %d, want 400", rec.Code)
	}
}

func TestFolderCreateAndReorder(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.SeedAccount(t, env.store, "user@example.com")

	var ids []int64
	for _, name := range []string{"A", "B", "C"} {
		rec := env.do(t, http.MethodPost, "/api/v1/accounts/1/folders",
			map[string]interface{}{"name": name}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create folder %s: got %d", name, rec.Code)
		}
		var node api.FolderNode
		decodeBody(t, rec, &node)
		ids = append(ids, node.ID)
	}

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/folders/%d/reorder", ids[2]),
		map[string]interface{}{"target_id": ids[0], "position": "before"}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reorder: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/1/folders", nil, nil)
	var tree struct {
		Folders []api.FolderNode `json:"folders"`
	}
	decodeBody(t, rec, &tree)
	var names []string
	for _, n := range tree.Folders {
		names = append(names, n.Name)
	}
	testutil.AssertStrings(t, names, "C", "A", "B")
}

func TestRenameSystemFolderForbidden(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	inbox := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)

	rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/folders/%d", inbox.ID),
		map[string]interface{}{"name": "Mail"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("rename system folder: got %d, want 403", rec.Code)
	}
	_ = a
}

func TestMessageFlagsAndBatch(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	b := testutil.SeedAccount(t, env.store, "other@example.com")
	fa := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)
	fb := testutil.SeedFolder(t, env.store, b.ID, "INBOX", store.FolderInbox)

	mine := testutil.SeedMessage(t, env.store, a.ID, fa.ID, "mine")
	theirs := testutil.SeedMessage(t, env.store, b.ID, fb.ID, "theirs")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/flags", mine.ID),
		map[string]interface{}{"starred": true}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set flags: got %d", rec.Code)
	}
	got, _ := env.store.GetMessage(mine.ID)
	if !got.IsStarred || got.IsRead {
		t.Errorf("partial flag update: %+v", got)
	}

	// Batch ops skip IDs the account does not own.
	rec = env.do(t, http.MethodPost, "/api/v1/messages/batch", map[string]interface{}{
		"account_id": a.ID,
		"ids":        []int64{mine.ID, theirs.ID},
		"op":         "read",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Applied int `json:"applied"`
		Skipped int `json:"skipped"`
	}
	decodeBody(t, rec, &result)
	if result.Applied != 1 || result.Skipped != 1 {
		t.Errorf("batch result: %+v", result)
	}
	foreign, _ := env.store.GetMessage(theirs.ID)
	if foreign.IsRead {
		t.Error("batch touched a message of another account")
	}
}

func TestGetMessageMarksRead(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	f := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)
	m := testutil.SeedMessage(t, env.store, a.ID, f.ID, "unopened")

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/messages/%d", m.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get message: got %d", rec.Code)
	}
	got, _ := env.store.GetMessage(m.ID)
	if !got.IsRead {
		t.Error("opening a message should mark it read")
	}
}

func TestLabelLifecycle(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	f := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)
	m := testutil.SeedMessage(t, env.store, a.ID, f.ID, "tagged")
	other := testutil.SeedMessage(t, env.store, a.ID, f.ID, "also tagged")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/1/labels",
		map[string]interface{}{"name": "Clients", "color": "#ff8800"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create label: got %d: %s", rec.Code, rec.Body.String())
	}
	var label api.LabelInfo
	decodeBody(t, rec, &label)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/messages/%d/labels/%d", m.ID, label.ID), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign label: got %d", rec.Code)
	}

	// Batch assign covers the remaining message.
	rec = env.do(t, http.MethodPost, "/api/v1/messages/batch", map[string]interface{}{
		"account_id": a.ID,
		"ids":        []int64{other.ID},
		"op":         "label",
		"label_id":   label.ID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch label: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/labels/%d/messages", label.ID), nil, nil)
	var listing struct {
		Total int64 `json:"total"`
	}
	decodeBody(t, rec, &listing)
	if listing.Total != 2 {
		t.Errorf("labelled messages: got %d, want 2", listing.Total)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/labels/%d", label.ID), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete label: got %d", rec.Code)
	}
}

func TestSystemLabelUndeletable(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	id, err := env.store.CreateLabel(&store.Label{AccountID: a.ID, Name: "Important", IsSystem: true})
	testutil.MustNoErr(t, err, "create system label")

	rec := env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/labels/%d", id), nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("delete system label: got %d, want 403", rec.Code)
	}
	if l, _ := env.store.GetLabel(id); l == nil {
		t.Error("system label must survive the delete attempt")
	}
}

func TestSendAndCancelFlow(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.SeedAccount(t, env.store, "user@example.com")

	// A delayed send is queued, listed, and cancellable.
	rec := env.do(t, http.MethodPost, "/api/v1/send", map[string]interface{}{
		"account_id":    1,
		"to":            []string{"bob@example.com"},
		"subject":       "hold on",
		"body_text":     "wait for it",
		"delay_seconds": 3600,
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("delayed send: got %d: %s", rec.Code, rec.Body.String())
	}
	var queued struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}
	decodeBody(t, rec, &queued)
	if queued.Status != "queued" || queued.ID == "" {
		t.Fatalf("queued response: %+v", queued)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/send/pending", nil, nil)
	var pending struct {
		Pending []outbox.Pending `json:"pending"`
	}
	decodeBody(t, rec, &pending)
	if len(pending.Pending) != 1 || pending.Pending[0].ID != queued.ID {
		t.Fatalf("pending: %+v", pending)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/send/"+queued.ID, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: got %d", rec.Code)
	}
	if len(env.transport.Sent()) != 0 {
		t.Error("cancelled message must never send")
	}

	// Cancelling again fails: the send no longer exists.
	rec = env.do(t, http.MethodDelete, "/api/v1/send/"+queued.ID, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double cancel: got %d, want 404", rec.Code)
	}

	// A zero delay sends immediately.
	rec = env.do(t, http.MethodPost, "/api/v1/send", map[string]interface{}{
		"account_id":    1,
		"to":            []string{"bob@example.com"},
		"subject":       "now",
		"body_text":     "right away",
		"delay_seconds": 0,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("immediate send: got %d", rec.Code)
	}
	if sent := env.transport.Sent(); len(sent) != 1 || sent[0].Subject != "now" {
		t.Errorf("sent: %+v", sent)
	}
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	testutil.SeedAccount(t, env.store, "user@example.com")
	env.mock.AddFolder("INBOX", store.FolderInbox, 100)
	env.mock.AddMessage("INBOX", remote.Message{
		MessageID: "m1@remote.example",
		Subject:   "hello",
		BodyText:  "hi",
	})

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/1/sync", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: got %d: %s", rec.Code, rec.Body.String())
	}
	var result sync.Result
	decodeBody(t, rec, &result)
	if result.Added != 1 {
		t.Errorf("sync result: %+v", result)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/accounts/99/sync", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("sync missing account: got %d, want 404", rec.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	f := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)
	testutil.SeedMessage(t, env.store, a.ID, f.ID, "newsletter weekly")

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/1/rules", map[string]interface{}{
		"name":       "file newsletters",
		"match_type": "all",
		"conditions": []map[string]string{
			{"field": "subject", "operator": "contains", "value": "newsletter"},
		},
		"actions": []map[string]interface{}{{"type": "mark_read"}},
		"enabled": true,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: got %d: %s", rec.Code, rec.Body.String())
	}
	var rule api.RuleInfo
	decodeBody(t, rec, &rule)

	rec = env.do(t, http.MethodPost, "/api/v1/rules/1/run", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("run rule: got %d: %s", rec.Code, rec.Body.String())
	}
	var run struct {
		Affected int `json:"affected"`
	}
	decodeBody(t, rec, &run)
	if run.Affected != 1 {
		t.Errorf("affected: got %d, want 1", run.Affected)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/accounts/1/rules", map[string]interface{}{
		"name":       "bad mode",
		"match_type": "sometimes",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid match type: got %d, want 400", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	a := testutil.SeedAccount(t, env.store, "user@example.com")
	f := testutil.SeedFolder(t, env.store, a.ID, "INBOX", store.FolderInbox)
	testutil.SeedMessage(t, env.store, a.ID, f.ID, "quarterly invoice")
	testutil.SeedMessage(t, env.store, a.ID, f.ID, "lunch plans")

	rec := env.do(t, http.MethodGet, "/api/v1/accounts/1/search?q=invoice", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: got %d", rec.Code)
	}
	var result struct {
		Total    int64                `json:"total"`
		Messages []api.MessageSummary `json:"messages"`
	}
	decodeBody(t, rec, &result)
	if result.Total != 1 || len(result.Messages) != 1 || result.Messages[0].Subject != "quarterly invoice" {
		t.Errorf("search result: %+v", result)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/accounts/1/search", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query: got %d, want 400", rec.Code)
	}
}
