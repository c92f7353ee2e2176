package store_test

import (
	"testing"
	"time"

	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/testutil"
)

func TestAccountLifecycle(t *testing.T) {
	st := testutil.NewTestStore(t)

	a := testutil.SeedAccount(t, st, "user@example.com")

	got, err := st.GetAccountByEmail("user@example.com")
	testutil.MustNoErr(t, err, "get account by email")
	if got == nil || got.ID != a.ID {
		t.Fatalf("got %+v", got)
	}
	if !got.UseTLS || !got.Enabled {
		t.Errorf("defaults not persisted: %+v", got)
	}

	missing, err := st.GetAccountByEmail("nobody@example.com")
	testutil.MustNoErr(t, err, "get missing account")
	if missing != nil {
		t.Errorf("expected nil for missing account, got %+v", missing)
	}

	got.SMTPPort = 587
	testutil.MustNoErr(t, st.UpdateAccount(got), "update account")

	reloaded, err := st.GetAccount(a.ID)
	testutil.MustNoErr(t, err, "reload account")
	if reloaded.SMTPPort != 587 {
		t.Errorf("update not persisted: %+v", reloaded)
	}

	testutil.MustNoErr(t, st.DeleteAccount(a.ID), "delete account")
	gone, err := st.GetAccount(a.ID)
	testutil.MustNoErr(t, err, "get deleted account")
	if gone != nil {
		t.Error("account should be deleted")
	}
}

func TestSyncErrorRoundTrip(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")

	testutil.MustNoErr(t, st.SetSyncError(a.ID, "connection refused"), "set sync error")
	got, _ := st.GetAccount(a.ID)
	if !got.SyncError.Valid || got.SyncError.String != "connection refused" {
		t.Errorf("sync error not recorded: %+v", got.SyncError)
	}

	testutil.MustNoErr(t, st.MarkSynced(a.ID, time.Now()), "mark synced")
	got, _ = st.GetAccount(a.ID)
	if got.SyncError.Valid {
		t.Error("successful sync should clear the error")
	}
	if !got.LastSyncAt.Valid {
		t.Error("last sync time should be set")
	}
}

func TestAccountDeleteCascades(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	m := testutil.SeedMessage(t, st, a.ID, f.ID, "hello")

	testutil.MustNoErr(t, st.DeleteAccount(a.ID), "delete account")

	folder, _ := st.GetFolder(f.ID)
	if folder != nil {
		t.Error("folder should cascade on account delete")
	}
	msg, _ := st.GetMessage(m.ID)
	if msg != nil {
		t.Error("message should cascade on account delete")
	}
}

func TestFolderWatermark(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)

	testutil.MustNoErr(t, st.AdvanceFolderWatermark(f.ID, 40), "advance watermark")
	got, _ := st.GetFolder(f.ID)
	if got.LastSeenUID != 40 {
		t.Fatalf("watermark: got %d", got.LastSeenUID)
	}

	// The watermark never moves backwards.
	testutil.MustNoErr(t, st.AdvanceFolderWatermark(f.ID, 10), "advance with lower uid")
	got, _ = st.GetFolder(f.ID)
	if got.LastSeenUID != 40 {
		t.Errorf("watermark moved backwards: got %d", got.LastSeenUID)
	}

	// A UIDVALIDITY reset clears it.
	testutil.MustNoErr(t, st.ResetFolderWatermark(f.ID, 999), "reset watermark")
	got, _ = st.GetFolder(f.ID)
	if got.LastSeenUID != 0 || got.UIDValidity != 999 {
		t.Errorf("reset: got uid %d validity %d", got.LastSeenUID, got.UIDValidity)
	}
}

func TestSiblingFoldersAndPositions(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")

	var ids []int64
	for i, name := range []string{"A", "B", "C"} {
		f := &store.Folder{AccountID: a.ID, Name: name, Kind: store.FolderCustom, Position: i}
		id, err := st.CreateFolder(f)
		testutil.MustNoErr(t, err, "create folder")
		ids = append(ids, id)
	}

	// Reverse the order.
	testutil.MustNoErr(t, st.SetFolderPositions([]int64{ids[2], ids[1], ids[0]}), "set positions")

	siblings, err := st.SiblingFolders(a.ID, 0)
	testutil.MustNoErr(t, err, "sibling folders")
	var names []string
	for _, f := range siblings {
		names = append(names, f.Name)
	}
	testutil.AssertStrings(t, names, "C", "B", "A")
	for i, f := range siblings {
		if f.Position != i {
			t.Errorf("position not contiguous at %d: %d", i, f.Position)
		}
	}
}

func TestMarkFolderRead(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	testutil.SeedMessage(t, st, a.ID, f.ID, "one")
	testutil.SeedMessage(t, st, a.ID, f.ID, "two")

	affected, err := st.MarkFolderRead(f.ID)
	testutil.MustNoErr(t, err, "mark folder read")
	if affected != 2 {
		t.Errorf("affected: got %d, want 2", affected)
	}

	// Already-read messages are not counted again.
	affected, err = st.MarkFolderRead(f.ID)
	testutil.MustNoErr(t, err, "mark folder read again")
	if affected != 0 {
		t.Errorf("second pass affected: got %d, want 0", affected)
	}
}
