package thread_test

import (
	"fmt"
	"testing"

	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/testutil"
	"github.com/joltmail/jolt/internal/thread"
)

func TestAssignChain(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	rec := thread.New(st)

	root := testutil.SeedMessage(t, st, a.ID, f.ID, "planning")
	rootTID, err := rec.Assign(root)
	testutil.MustNoErr(t, err, "assign root")
	if rootTID != root.MessageID {
		t.Errorf("root should seed its own thread, got %q", rootTID)
	}

	reply := testutil.SeedMessage(t, st, a.ID, f.ID, "Re: planning",
		testutil.WithReferences("<"+root.MessageID+">", ""))
	replyTID, err := rec.Assign(reply)
	testutil.MustNoErr(t, err, "assign reply")
	if replyTID != rootTID {
		t.Errorf("reply joined %q, want %q", replyTID, rootTID)
	}

	// A deeper reply citing the whole chain also lands in the root's thread.
	deep := testutil.SeedMessage(t, st, a.ID, f.ID, "Re: Re: planning",
		testutil.WithReferences("<"+reply.MessageID+">",
			fmt.Sprintf("<%s> <%s>", root.MessageID, reply.MessageID)))
	deepTID, err := rec.Assign(deep)
	testutil.MustNoErr(t, err, "assign deep reply")
	if deepTID != rootTID {
		t.Errorf("deep reply joined %q, want %q", deepTID, rootTID)
	}
}

func TestAssignUnknownReferencesSeedsNewThread(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	rec := thread.New(st)

	m := testutil.SeedMessage(t, st, a.ID, f.ID, "Re: conversation we never saw",
		testutil.WithReferences("<never-seen@elsewhere.example>", ""))
	tid, err := rec.Assign(m)
	testutil.MustNoErr(t, err, "assign orphan reply")
	if tid != m.MessageID {
		t.Errorf("orphan reply should seed its own thread, got %q", tid)
	}
}

func TestAssignScopedToAccount(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	b := testutil.SeedAccount(t, st, "other@example.com")
	fa := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	fb := testutil.SeedFolder(t, st, b.ID, "INBOX", store.FolderInbox)
	rec := thread.New(st)

	root := testutil.SeedMessage(t, st, a.ID, fa.ID, "planning")
	rootTID, err := rec.Assign(root)
	testutil.MustNoErr(t, err, "assign root")

	// A reply in a different account never joins another account's thread.
	foreign := testutil.SeedMessage(t, st, b.ID, fb.ID, "Re: planning",
		testutil.WithReferences("<"+root.MessageID+">", ""))
	foreignTID, err := rec.Assign(foreign)
	testutil.MustNoErr(t, err, "assign foreign reply")
	if foreignTID == rootTID {
		t.Error("thread resolution leaked across accounts")
	}
}

func TestReindexRebuildsAndIsIdempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	rec := thread.New(st)

	root := testutil.SeedMessage(t, st, a.ID, f.ID, "planning")
	reply := testutil.SeedMessage(t, st, a.ID, f.ID, "Re: planning",
		testutil.WithReferences("<"+root.MessageID+">", ""))
	deep := testutil.SeedMessage(t, st, a.ID, f.ID, "Re: Re: planning",
		testutil.WithReferences("<"+reply.MessageID+">",
			fmt.Sprintf("<%s> <%s>", root.MessageID, reply.MessageID)))
	for _, m := range []*store.Message{root, reply, deep} {
		_, err := rec.Assign(m)
		testutil.MustNoErr(t, err, "assign")
	}

	// Corrupt one assignment, then rebuild.
	testutil.MustNoErr(t, st.SetThreadID(deep.ID, "wrong-thread"), "corrupt assignment")

	count, err := rec.Reindex(a.ID)
	testutil.MustNoErr(t, err, "reindex")
	if count != 3 {
		t.Errorf("reindexed count: got %d, want 3", count)
	}
	assignments := threadIDs(t, st, a.ID, root.ID, reply.ID, deep.ID)
	testutil.AssertStrings(t, assignments, root.MessageID, root.MessageID, root.MessageID)

	// A second run reproduces the same result.
	_, err = rec.Reindex(a.ID)
	testutil.MustNoErr(t, err, "reindex again")
	again := threadIDs(t, st, a.ID, root.ID, reply.ID, deep.ID)
	testutil.AssertStrings(t, again, assignments...)
}

func threadIDs(t *testing.T, st *store.Store, accountID int64, ids ...int64) []string {
	t.Helper()
	out := make([]string, len(ids))
	for i, id := range ids {
		m, err := st.GetMessage(id)
		testutil.MustNoErr(t, err, "load message")
		if m == nil || m.AccountID != accountID {
			t.Fatalf("message %d missing", id)
		}
		out[i] = m.ThreadID
	}
	return out
}
