package rules_test

import (
	"testing"

	"github.com/joltmail/jolt/internal/rules"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/testutil"
)

func seedRule(t *testing.T, st *store.Store, r *store.Rule) *store.Rule {
	t.Helper()
	if r.MatchType == "" {
		r.MatchType = store.MatchAll
	}
	r.Enabled = true
	id, err := st.CreateRule(r)
	testutil.MustNoErr(t, err, "seed rule")
	r.ID = id
	return r
}

func TestApplyMatchModes(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "any mode", MatchType: store.MatchAny,
		Conditions: []store.Condition{
			{Field: "subject", Operator: store.OpContains, Value: "URGENT"},
			{Field: "from", Operator: store.OpContains, Value: "nobody@nowhere"},
		},
		Actions: []store.Action{{Type: store.ActionStar}},
	})

	m := testutil.SeedMessage(t, st, a.ID, f.ID, "urgent: server down")
	applied, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply")
	if len(applied) != 1 {
		t.Fatalf("any-mode rule should match on one condition, applied %v", applied)
	}
	got, _ := st.GetMessage(m.ID)
	if !got.IsStarred {
		t.Error("star action not applied")
	}

	// In all mode the same conditions no longer match.
	other := testutil.SeedAccount(t, st, "all@example.com")
	of := testutil.SeedFolder(t, st, other.ID, "INBOX", store.FolderInbox)
	seedRule(t, st, &store.Rule{
		AccountID: other.ID, Name: "all mode",
		Conditions: []store.Condition{
			{Field: "subject", Operator: store.OpContains, Value: "urgent"},
			{Field: "from", Operator: store.OpContains, Value: "nobody@nowhere"},
		},
		Actions: []store.Action{{Type: store.ActionStar}},
	})
	m2 := testutil.SeedMessage(t, st, other.ID, of.ID, "urgent: server down")
	applied, err = ev.Apply(other.ID, m2)
	testutil.MustNoErr(t, err, "apply all mode")
	if len(applied) != 0 {
		t.Errorf("all-mode rule should not match, applied %v", applied)
	}
}

func TestZeroConditionsNeverMatch(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	for _, mode := range []string{store.MatchAll, store.MatchAny} {
		seedRule(t, st, &store.Rule{
			AccountID: a.ID, Name: "empty " + mode, MatchType: mode,
			Actions: []store.Action{{Type: store.ActionStar}},
		})
	}

	m := testutil.SeedMessage(t, st, a.ID, f.ID, "anything at all")
	applied, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply")
	if len(applied) != 0 {
		t.Errorf("condition-free rules must never match, applied %v", applied)
	}
}

func TestPriorityAndStopProcessing(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	cond := []store.Condition{{Field: "subject", Operator: store.OpContains, Value: "report"}}
	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "first", Priority: 1, Conditions: cond,
		Actions:        []store.Action{{Type: store.ActionStar}},
		StopProcessing: true,
	})
	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "never reached", Priority: 2, Conditions: cond,
		Actions: []store.Action{{Type: store.ActionMarkRead}},
	})

	m := testutil.SeedMessage(t, st, a.ID, f.ID, "weekly report")
	applied, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply")
	if len(applied) != 1 || applied[0].Type != store.ActionStar {
		t.Fatalf("stop-processing should halt the chain, applied %v", applied)
	}
	got, _ := st.GetMessage(m.ID)
	if got.IsRead {
		t.Error("later rule ran despite stop-processing")
	}
}

func TestInvalidRegexIsNonMatch(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "bad pattern",
		Conditions: []store.Condition{{Field: "subject", Operator: store.OpRegex, Value: "([unclosed"}},
		Actions:    []store.Action{{Type: store.ActionStar}},
	})

	m := testutil.SeedMessage(t, st, a.ID, f.ID, "anything")
	applied, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply should not fail")
	if len(applied) != 0 {
		t.Errorf("invalid regex should be a non-match, applied %v", applied)
	}
}

func TestLocationActionsLastWins(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	inbox := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	testutil.SeedFolder(t, st, a.ID, "Archive", store.FolderArchive)
	trash := testutil.SeedFolder(t, st, a.ID, "Trash", store.FolderTrash)
	ev := rules.New(st)

	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "conflicting locations",
		Conditions: []store.Condition{{Field: "subject", Operator: store.OpContains, Value: "promo"}},
		Actions: []store.Action{
			{Type: store.ActionStar},
			{Type: store.ActionArchive},
			{Type: store.ActionDelete},
		},
	})

	m := testutil.SeedMessage(t, st, a.ID, inbox.ID, "promo blast")
	_, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply")

	got, _ := st.GetMessage(m.ID)
	if got == nil {
		t.Fatal("delete means move to trash, not a hard delete")
	}
	if got.FolderID != trash.ID {
		t.Errorf("last location action should win: in folder %d, want trash %d", got.FolderID, trash.ID)
	}
	if !got.IsStarred {
		t.Error("flag actions still apply alongside a location action")
	}
}

func TestDeleteWithoutTrashFolder(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	inbox := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "purge",
		Conditions: []store.Condition{{Field: "subject", Operator: store.OpContains, Value: "spam"}},
		Actions:    []store.Action{{Type: store.ActionDelete}},
	})

	m := testutil.SeedMessage(t, st, a.ID, inbox.ID, "spam spam spam")
	_, err := ev.Apply(a.ID, m)
	testutil.MustNoErr(t, err, "apply")
	got, _ := st.GetMessage(m.ID)
	if got != nil {
		t.Error("without a trash folder the row should be removed")
	}
}

func TestRunNowRetroactive(t *testing.T) {
	st := testutil.NewTestStore(t)
	a := testutil.SeedAccount(t, st, "user@example.com")
	f := testutil.SeedFolder(t, st, a.ID, "INBOX", store.FolderInbox)
	ev := rules.New(st)

	testutil.SeedMessage(t, st, a.ID, f.ID, "newsletter issue 1")
	testutil.SeedMessage(t, st, a.ID, f.ID, "personal note")
	testutil.SeedMessage(t, st, a.ID, f.ID, "newsletter issue 2")

	rule := seedRule(t, st, &store.Rule{
		AccountID: a.ID, Name: "file newsletters",
		Conditions: []store.Condition{{Field: "subject", Operator: store.OpStartsWith, Value: "newsletter"}},
		Actions:    []store.Action{{Type: store.ActionMarkRead}},
	})

	affected, err := ev.RunNow(rule.ID)
	testutil.MustNoErr(t, err, "run now")
	if affected != 2 {
		t.Errorf("affected: got %d, want 2", affected)
	}
}
