package sync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/sync"
	"github.com/joltmail/jolt/internal/testutil"
)

func remoteMessage(n int) remote.Message {
	return remote.Message{
		MessageID: fmt.Sprintf("msg-%d@remote.example", n),
		From:      []store.Address{{Name: "Sender", Email: "sender@remote.example"}},
		To:        []store.Address{{Email: "user@example.com"}},
		Subject:   fmt.Sprintf("message %d", n),
		BodyText:  fmt.Sprintf("body of message %d", n),
		SentAt:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute),
	}
}

func newEngine(t *testing.T) (*sync.Engine, *store.Store, *remote.Mock, *store.Account) {
	t.Helper()
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	mock := remote.NewMock()
	return sync.New(st, mock), st, mock, a
}

func TestSyncIsIdempotent(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	for n := 1; n <= 3; n++ {
		mock.AddMessage("INBOX", remoteMessage(n))
	}

	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "first sync")
	if res.Added != 3 {
		t.Fatalf("first sync added %d, want 3", res.Added)
	}

	res, err = engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "second sync")
	if res.Added != 0 {
		t.Errorf("second sync added %d, want 0", res.Added)
	}

	folder, err := st.GetFolderByRemoteName(a.ID, "INBOX")
	testutil.MustNoErr(t, err, "lookup inbox")
	if folder.LastSeenUID != 3 {
		t.Errorf("watermark: got %d, want 3", folder.LastSeenUID)
	}
	account, _ := st.GetAccount(a.ID)
	if !account.LastSyncAt.Valid || account.SyncError.Valid {
		t.Errorf("account sync state: %+v", account)
	}
}

func TestSyncFetchesOnlyAboveWatermark(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	mock.AddMessage("INBOX", remoteMessage(1))

	_, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "initial sync")

	mock.AddMessage("INBOX", remoteMessage(2))
	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "incremental sync")
	if res.Added != 1 {
		t.Errorf("incremental sync added %d, want 1", res.Added)
	}

	folder, _ := st.GetFolderByRemoteName(a.ID, "INBOX")
	_, total, err := st.ListMessagesByFolder(folder.ID, 0, 10)
	testutil.MustNoErr(t, err, "list messages")
	if total != 2 {
		t.Errorf("folder holds %d messages, want 2", total)
	}
}

func TestSyncMessagesWithoutMessageID(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	for n := 1; n <= 2; n++ {
		rm := remoteMessage(n)
		rm.MessageID = ""
		mock.AddMessage("INBOX", rm)
	}

	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "sync without message-ids")
	if res.Added != 2 || res.FoldersFailed != 0 {
		t.Fatalf("result: %+v", res)
	}

	// Re-sync falls back to the (folder, uid) key and stays idempotent.
	res, err = engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "second sync")
	if res.Added != 0 {
		t.Errorf("second sync added %d, want 0", res.Added)
	}
	folder, _ := st.GetFolderByRemoteName(a.ID, "INBOX")
	_, total, _ := st.ListMessagesByFolder(folder.ID, 0, 10)
	if total != 2 {
		t.Errorf("folder holds %d messages, want 2", total)
	}
}

func TestSyncUIDValidityResetRefetchesWithoutDuplicates(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	mock.AddMessage("INBOX", remoteMessage(1))
	mock.AddMessage("INBOX", remoteMessage(2))

	_, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "initial sync")

	// The server renumbers every UID under a new generation.
	mock.ResetFolder("INBOX", 200)
	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "sync after reset")
	if res.Added != 0 {
		t.Errorf("refetch duplicated %d messages", res.Added)
	}

	folder, _ := st.GetFolderByRemoteName(a.ID, "INBOX")
	if folder.UIDValidity != 200 {
		t.Errorf("uidvalidity: got %d, want 200", folder.UIDValidity)
	}
	_, total, _ := st.ListMessagesByFolder(folder.ID, 0, 10)
	if total != 2 {
		t.Errorf("folder holds %d messages, want 2", total)
	}
}

func TestSyncRelocatesServerSideMoves(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	mock.AddFolder("Archive", store.FolderArchive, 101)
	mock.AddMessage("INBOX", remoteMessage(1))

	_, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "initial sync")

	mock.MoveMessage("msg-1@remote.example", "INBOX", "Archive")
	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "sync after move")
	if res.Added != 0 || res.Relocated != 1 {
		t.Fatalf("move handling: added %d relocated %d", res.Added, res.Relocated)
	}

	m, err := st.GetMessageByMessageID(a.ID, "msg-1@remote.example")
	testutil.MustNoErr(t, err, "lookup moved message")
	archive, _ := st.GetFolderByRemoteName(a.ID, "Archive")
	if m.FolderID != archive.ID {
		t.Errorf("message in folder %d, want archive %d", m.FolderID, archive.ID)
	}
}

func TestSyncAppliesRulesAndThreads(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)

	_, err := st.CreateRule(&store.Rule{
		AccountID: a.ID, Name: "star senders", MatchType: store.MatchAll,
		Conditions: []store.Condition{{Field: "from", Operator: store.OpContains, Value: "sender@remote.example"}},
		Actions:    []store.Action{{Type: store.ActionStar}},
		Enabled:    true,
	})
	testutil.MustNoErr(t, err, "create rule")

	root := remoteMessage(1)
	reply := remoteMessage(2)
	reply.InReplyTo = "<" + root.MessageID + ">"
	mock.AddMessage("INBOX", root)
	mock.AddMessage("INBOX", reply)

	_, err = engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "sync")

	stored, _ := st.GetMessageByMessageID(a.ID, root.MessageID)
	storedReply, _ := st.GetMessageByMessageID(a.ID, reply.MessageID)
	if stored.ThreadID == "" || stored.ThreadID != storedReply.ThreadID {
		t.Errorf("threading: %q vs %q", stored.ThreadID, storedReply.ThreadID)
	}
	if !stored.IsStarred {
		t.Error("rule did not run on ingestion")
	}
}

func TestSyncPartialFolderFailure(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	mock.AddFolder("Broken", store.FolderCustom, 101)
	mock.AddMessage("INBOX", remoteMessage(1))
	mock.FetchErr["Broken"] = errors.New("mailbox is busy")

	res, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "partial failure should not be fatal")
	if !res.Partial() {
		t.Fatalf("expected partial result: %+v", res)
	}
	if res.Added != 1 || res.FoldersFailed != 1 {
		t.Errorf("result: %+v", res)
	}

	account, _ := st.GetAccount(a.ID)
	if !account.SyncError.Valid {
		t.Error("partial failure should be recorded on the account")
	}
}

func TestSyncDialFailure(t *testing.T) {
	engine, st, mock, a := newEngine(t)
	mock.DialErr = fmt.Errorf("connect: %w", remote.ErrUnavailable)

	_, err := engine.Sync(context.Background(), a.ID)
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	account, _ := st.GetAccount(a.ID)
	if !account.SyncError.Valid {
		t.Error("dial failure should be recorded on the account")
	}

	// The failure is recoverable: clearing it lets the next sync succeed.
	mock.DialErr = nil
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	_, err = engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "retry after dial failure")
	account, _ = st.GetAccount(a.ID)
	if account.SyncError.Valid {
		t.Error("successful retry should clear the recorded error")
	}
}

func TestSyncRejectsDisabledAndUnknownAccounts(t *testing.T) {
	engine, st, _, a := newEngine(t)

	a.Enabled = false
	testutil.MustNoErr(t, st.UpdateAccount(a), "disable account")
	if _, err := engine.Sync(context.Background(), a.ID); !errors.Is(err, sync.ErrAccountDisabled) {
		t.Errorf("disabled account: got %v", err)
	}

	if _, err := engine.Sync(context.Background(), 9999); !errors.Is(err, sync.ErrAccountNotFound) {
		t.Errorf("unknown account: got %v", err)
	}
}

// slowDialer signals when a dial starts and blocks it until released,
// keeping a sync in flight.
type slowDialer struct {
	entered chan struct{}
	release chan struct{}
	inner   remote.Dialer
}

func (d *slowDialer) Open(ctx context.Context, account *store.Account) (remote.Session, error) {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.release
	return d.inner.Open(ctx, account)
}

func TestSyncSingleFlightPerAccount(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	mock := remote.NewMock()
	mock.AddFolder("INBOX", store.FolderInbox, 100)

	dialer := &slowDialer{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		inner:   mock,
	}
	engine := sync.New(st, dialer)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background(), a.ID)
		done <- err
	}()

	// Wait until the first sync holds the slot, then race a second trigger.
	<-dialer.entered
	if _, err := engine.Sync(context.Background(), a.ID); !errors.Is(err, sync.ErrSyncInFlight) {
		t.Fatalf("concurrent trigger: got %v, want ErrSyncInFlight", err)
	}

	close(dialer.release)
	testutil.MustNoErr(t, <-done, "first sync")

	// The slot frees up once the first sync finishes.
	_, err := engine.Sync(context.Background(), a.ID)
	testutil.MustNoErr(t, err, "sync after release")
}

func TestSyncProgressEvents(t *testing.T) {
	engine, _, mock, a := newEngine(t)
	mock.AddFolder("INBOX", store.FolderInbox, 100)
	mock.AddMessage("INBOX", remoteMessage(1))

	sink := sync.NewBoundedSink(16)
	_, err := engine.SyncWithProgress(context.Background(), a.ID, sink)
	testutil.MustNoErr(t, err, "sync with progress")
	sink.Close()

	var phases []string
	for p := range sink.Events() {
		phases = append(phases, p.Phase)
	}
	if len(phases) < 3 {
		t.Fatalf("too few progress events: %v", phases)
	}
	if phases[0] != sync.PhaseConnecting || phases[len(phases)-1] != sync.PhaseDone {
		t.Errorf("phase order: %v", phases)
	}
}

func TestBoundedSinkDropsOldestUnderBackpressure(t *testing.T) {
	sink := sync.NewBoundedSink(2)
	for i := 1; i <= 5; i++ {
		sink.Emit(sync.Progress{Phase: sync.PhaseSyncing, FoldersDone: i})
	}
	sink.Close()

	var got []int
	for p := range sink.Events() {
		got = append(got, p.FoldersDone)
	}
	testutil.AssertEqualSlices(t, got, 4, 5)
}
