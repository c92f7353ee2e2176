// Package imapx implements the remote session boundary over IMAP.
package imapx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/joltmail/jolt/internal/mime"
	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
)

// Dialer opens IMAP sessions for accounts. It implements remote.Dialer.
type Dialer struct {
	logger *slog.Logger
}

// Option is a functional option for Dialer.
type Option func(*Dialer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dialer) { d.logger = logger }
}

// NewDialer creates an IMAP dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open dials and authenticates an IMAP session for the account.
func (d *Dialer) Open(ctx context.Context, account *store.Account) (remote.Session, error) {
	addr := net.JoinHostPort(account.IMAPHost, strconv.Itoa(account.IMAPPort))
	d.logger.Debug("connecting to IMAP server", "addr", addr, "tls", account.UseTLS)

	imapOpts := &imapclient.Options{}
	var (
		conn *imapclient.Client
		err  error
	)
	if account.UseTLS {
		conn, err = imapclient.DialTLS(addr, imapOpts)
	} else {
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, remote.ErrUnavailable)
	}

	if err := conn.Login(account.Username, account.Password).Wait(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("IMAP login %s: %w", account.Username, remote.ErrUnavailable)
	}

	return &session{
		conn:   conn,
		logger: d.logger,
	}, nil
}

// session is one authenticated IMAP connection.
type session struct {
	logger *slog.Logger

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (s *session) selectMailbox(mailbox string) error {
	if s.selectedMailbox == mailbox {
		return nil
	}
	if _, err := s.conn.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	s.selectedMailbox = mailbox
	return nil
}

// ListFolders returns every selectable mailbox with its UID watermarks.
func (s *session) ListFolders(ctx context.Context) ([]remote.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("LIST: %w", err)
	}

	var folders []remote.Folder
	for _, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if hasAttr(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}

		statusData, err := s.conn.Status(item.Mailbox, &imap.StatusOptions{
			UIDValidity: true,
			UIDNext:     true,
		}).Wait()
		if err != nil {
			s.logger.Warn("STATUS failed, skipping mailbox", "mailbox", item.Mailbox, "error", err)
			continue
		}

		f := remote.Folder{
			Name:        item.Mailbox,
			Delimiter:   string(item.Delim),
			Kind:        kindFromAttrs(item.Mailbox, item.Attrs),
			UIDValidity: statusData.UIDValidity,
		}
		if statusData.UIDNext != 0 {
			f.UIDNext = uint32(statusData.UIDNext)
		}
		folders = append(folders, f)
	}
	return folders, nil
}

// FetchSince fetches messages with UID greater than sinceUID from a folder.
func (s *session) FetchSince(ctx context.Context, folder string, sinceUID uint32) ([]remote.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := s.selectMailbox(folder); err != nil {
		return nil, err
	}

	var uidSet imap.UIDSet
	uidSet.AddRange(imap.UID(sinceUID+1), 0) // 0 = "*"

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		RFC822Size:   true,
		BodySection:  []*imap.FetchItemBodySection{{}}, // empty section = entire message
	}

	msgs, err := s.conn.Fetch(uidSet, fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("UID FETCH %q: %w", folder, err)
	}

	var result []remote.Message
	for _, msgBuf := range msgs {
		// Fetching "N:*" returns the highest-UID message even when N exceeds
		// it; filter those out.
		if uint32(msgBuf.UID) <= sinceUID {
			continue
		}

		var raw []byte
		if len(msgBuf.BodySection) > 0 {
			raw = msgBuf.BodySection[0].Bytes
		}
		if len(raw) == 0 {
			s.logger.Warn("empty body section, skipping", "mailbox", folder, "uid", msgBuf.UID)
			continue
		}

		parsed, err := mime.Parse(raw)
		if err != nil {
			s.logger.Warn("MIME parse failed, skipping message", "mailbox", folder, "uid", msgBuf.UID, "error", err)
			continue
		}

		rm := remote.Message{
			UID:            uint32(msgBuf.UID),
			MessageID:      parsed.MessageID,
			InReplyTo:      parsed.InReplyTo,
			References:     rawReferences(parsed.References),
			From:           toStoreAddresses(parsed.From),
			To:             toStoreAddresses(parsed.To),
			Cc:             toStoreAddresses(parsed.Cc),
			Subject:        parsed.Subject,
			BodyText:       parsed.BodyText,
			BodyHTML:       parsed.BodyHTML,
			HasAttachments: parsed.HasAttachments,
			Size:           msgBuf.RFC822Size,
			SentAt:         parsed.Date,
		}
		if rm.SentAt.IsZero() {
			rm.SentAt = msgBuf.InternalDate
		}
		for _, flag := range msgBuf.Flags {
			switch flag {
			case imap.FlagSeen:
				rm.Flags.Read = true
			case imap.FlagFlagged:
				rm.Flags.Starred = true
			case imap.FlagAnswered:
				rm.Flags.Answered = true
			case imap.FlagDraft:
				rm.Flags.Draft = true
			}
		}
		result = append(result, rm)
	}
	return result, nil
}

// Close logs out and disconnects.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.selectedMailbox = ""
	return conn.Logout().Wait()
}

// hasAttr checks whether attr is in the attrs list.
func hasAttr(attrs []imap.MailboxAttr, attr imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}

// kindFromAttrs maps IMAP special-use attributes to local folder kinds.
func kindFromAttrs(mailbox string, attrs []imap.MailboxAttr) string {
	switch {
	case mailbox == "INBOX":
		return store.FolderInbox
	case hasAttr(attrs, imap.MailboxAttrSent):
		return store.FolderSent
	case hasAttr(attrs, imap.MailboxAttrDrafts):
		return store.FolderDrafts
	case hasAttr(attrs, imap.MailboxAttrTrash):
		return store.FolderTrash
	case hasAttr(attrs, imap.MailboxAttrJunk):
		return store.FolderSpam
	case hasAttr(attrs, imap.MailboxAttrArchive):
		return store.FolderArchive
	default:
		return store.FolderCustom
	}
}

func toStoreAddresses(addrs []mime.Address) []store.Address {
	if len(addrs) == 0 {
		return nil
	}
	result := make([]store.Address, len(addrs))
	for i, a := range addrs {
		result[i] = store.Address{Name: a.Name, Email: a.Email}
	}
	return result
}

// rawReferences joins parsed reference IDs back into header text form.
func rawReferences(ids []string) string {
	var raw string
	for i, id := range ids {
		if i > 0 {
			raw += " "
		}
		raw += "<" + id + ">"
	}
	return raw
}
