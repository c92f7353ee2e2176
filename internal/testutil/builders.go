package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/joltmail/jolt/internal/store"
)

// SeedAccount inserts an enabled test account and returns it.
func SeedAccount(t *testing.T, st *store.Store, email string) *store.Account {
	t.Helper()
	a := &store.Account{
		Email:       email,
		DisplayName: "Test User",
		IMAPHost:    "imap.example.com",
		IMAPPort:    993,
		SMTPHost:    "smtp.example.com",
		SMTPPort:    465,
		Username:    email,
		Password:    "secret",
		UseTLS:      true,
		Enabled:     true,
	}
	id, err := st.CreateAccount(a)
	MustNoErr(t, err, "seed account")
	a.ID = id
	return a
}

// SeedFolder inserts a folder for an account and returns it.
func SeedFolder(t *testing.T, st *store.Store, accountID int64, name, kind string) *store.Folder {
	t.Helper()
	f := &store.Folder{
		AccountID:  accountID,
		Name:       name,
		RemoteName: name,
		Kind:       kind,
	}
	id, err := st.CreateFolder(f)
	MustNoErr(t, err, "seed folder")
	f.ID = id
	return f
}

// MessageOpt mutates a seeded message before insertion.
type MessageOpt func(*store.Message)

// WithReferences sets the reply headers on a seeded message.
func WithReferences(inReplyTo, referencesRaw string) MessageOpt {
	return func(m *store.Message) {
		m.InReplyTo = inReplyTo
		m.ReferencesRaw = referencesRaw
	}
}

// WithFrom sets the sender on a seeded message.
func WithFrom(name, email string) MessageOpt {
	return func(m *store.Message) {
		m.From = []store.Address{{Name: name, Email: email}}
	}
}

// WithSentAt sets the sent timestamp on a seeded message.
func WithSentAt(at time.Time) MessageOpt {
	return func(m *store.Message) {
		m.SentAt.Time = at
		m.SentAt.Valid = true
	}
}

var seedSeq uint32

// SeedMessage inserts a message with sensible defaults and returns it. The
// message identifier defaults to one derived from the subject; the sent time
// advances with every seeded message so chronological order follows seeding
// order.
func SeedMessage(t *testing.T, st *store.Store, accountID, folderID int64, subject string, opts ...MessageOpt) *store.Message {
	t.Helper()
	seedSeq++
	m := &store.Message{
		AccountID: accountID,
		FolderID:  folderID,
		UID:       seedSeq,
		MessageID: fmt.Sprintf("%s-%d@test.example", subject, seedSeq),
		From:      []store.Address{{Name: "Alice", Email: "alice@example.com"}},
		To:        []store.Address{{Email: "bob@example.com"}},
		Subject:   subject,
		BodyText:  "body of " + subject,
	}
	m.SentAt.Time = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seedSeq) * time.Minute)
	m.SentAt.Valid = true
	for _, opt := range opts {
		opt(m)
	}
	id, err := st.InsertMessage(m)
	MustNoErr(t, err, "seed message")
	m.ID = id
	return m
}
