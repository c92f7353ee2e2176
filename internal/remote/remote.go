// Package remote defines the capability boundary to remote mail systems.
// The engine consumes mailboxes and the outbound transport through the small
// interfaces here; test doubles can simulate server resets and transport
// failures without a real server.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/joltmail/jolt/internal/store"
)

// ErrUnavailable indicates the remote side could not be reached or rejected
// authentication. It is recoverable: sync records it on the account and the
// next trigger retries from scratch.
var ErrUnavailable = errors.New("remote unavailable")

// Folder is a remote mailbox as reported by the server.
type Folder struct {
	Name        string // remote mailbox name, with hierarchy delimiters
	Delimiter   string // hierarchy delimiter ("/" or "."); empty for flat
	Kind        string // store.Folder kind hint derived from attributes
	UIDValidity uint32
	UIDNext     uint32
}

// Flags carries the remote flag state of a message.
type Flags struct {
	Read     bool
	Starred  bool
	Answered bool
	Draft    bool
}

// Message is one fetched remote message with parsed headers and bodies.
type Message struct {
	UID            uint32
	MessageID      string
	InReplyTo      string
	References     string // raw References header text
	From           []store.Address
	To             []store.Address
	Cc             []store.Address
	Subject        string
	BodyText       string
	BodyHTML       string
	HasAttachments bool
	Flags          Flags
	SentAt         time.Time
	Size           int64
}

// Session is an open, authenticated connection to a remote mailbox.
type Session interface {
	// ListFolders returns every selectable remote folder.
	ListFolders(ctx context.Context) ([]Folder, error)

	// FetchSince returns the messages in a folder with UID strictly greater
	// than sinceUID, in ascending UID order. sinceUID 0 fetches everything.
	FetchSince(ctx context.Context, folder string, sinceUID uint32) ([]Message, error)

	// Close releases the connection.
	Close() error
}

// Dialer opens sessions for an account's inbound protocol settings.
type Dialer interface {
	Open(ctx context.Context, account *store.Account) (Session, error)
}

// Outgoing is a fully composed outbound message.
type Outgoing struct {
	From     store.Address
	To       []store.Address
	Cc       []store.Address
	Bcc      []store.Address
	Subject  string
	BodyText string
	BodyHTML string
}

// Transport delivers outbound messages for an account.
type Transport interface {
	Send(ctx context.Context, account *store.Account, msg *Outgoing) error
}
