package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joltmail/jolt/internal/store"
)

// MockFolder is the in-memory state of one simulated remote folder.
type MockFolder struct {
	Kind        string
	UIDValidity uint32
	UIDNext     uint32
	Messages    []Message
}

// Mock simulates a remote mail server. It implements both Dialer and
// Session, and can inject transport failures and UIDVALIDITY resets.
type Mock struct {
	mu      sync.Mutex
	folders map[string]*MockFolder

	DialErr  error            // returned from Open when set
	FetchErr map[string]error // per-folder FetchSince failures
}

// NewMock creates an empty simulated server.
func NewMock() *Mock {
	return &Mock{
		folders:  make(map[string]*MockFolder),
		FetchErr: make(map[string]error),
	}
}

// AddFolder registers a remote folder.
func (m *Mock) AddFolder(name, kind string, uidValidity uint32) *MockFolder {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := &MockFolder{Kind: kind, UIDValidity: uidValidity, UIDNext: 1}
	m.folders[name] = f
	return f
}

// AddMessage appends a message to a folder, assigning the next UID.
func (m *Mock) AddMessage(folder string, msg Message) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[folder]
	if !ok {
		panic(fmt.Sprintf("mock folder %q not registered", folder))
	}
	msg.UID = f.UIDNext
	f.UIDNext++
	f.Messages = append(f.Messages, msg)
	return msg.UID
}

// ResetFolder simulates a server-side mailbox purge: UIDVALIDITY changes and
// all messages are renumbered from UID 1.
func (m *Mock) ResetFolder(name string, newValidity uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[name]
	if !ok {
		return
	}
	f.UIDValidity = newValidity
	f.UIDNext = 1
	renumbered := make([]Message, len(f.Messages))
	for i, msg := range f.Messages {
		msg.UID = f.UIDNext
		f.UIDNext++
		renumbered[i] = msg
	}
	f.Messages = renumbered
}

// MoveMessage relocates a message between folders by message identifier,
// simulating a server-side move.
func (m *Mock) MoveMessage(messageID, fromFolder, toFolder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst := m.folders[fromFolder], m.folders[toFolder]
	if src == nil || dst == nil {
		return
	}
	for i, msg := range src.Messages {
		if msg.MessageID == messageID {
			src.Messages = append(src.Messages[:i], src.Messages[i+1:]...)
			msg.UID = dst.UIDNext
			dst.UIDNext++
			dst.Messages = append(dst.Messages, msg)
			return
		}
	}
}

// Open implements Dialer. The mock is its own session.
func (m *Mock) Open(_ context.Context, _ *store.Account) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m, nil
}

// ListFolders implements Session.
func (m *Mock) ListFolders(_ context.Context) ([]Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.folders))
	for name := range m.folders {
		names = append(names, name)
	}
	sort.Strings(names)

	folders := make([]Folder, 0, len(names))
	for _, name := range names {
		f := m.folders[name]
		folders = append(folders, Folder{
			Name:        name,
			Delimiter:   "/",
			Kind:        f.Kind,
			UIDValidity: f.UIDValidity,
			UIDNext:     f.UIDNext,
		})
	}
	return folders, nil
}

// FetchSince implements Session.
func (m *Mock) FetchSince(_ context.Context, folder string, sinceUID uint32) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FetchErr[folder]; err != nil {
		return nil, err
	}
	f, ok := m.folders[folder]
	if !ok {
		return nil, fmt.Errorf("mock folder %q not found", folder)
	}

	var result []Message
	for _, msg := range f.Messages {
		if msg.UID > sinceUID {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result, nil
}

// Close implements Session.
func (m *Mock) Close() error { return nil }

// MockTransport records outbound sends for tests.
type MockTransport struct {
	mu      sync.Mutex
	sent    []*Outgoing
	SendErr error
}

// NewMockTransport creates an empty recording transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Send implements Transport.
func (t *MockTransport) Send(_ context.Context, _ *store.Account, msg *Outgoing) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

// Sent returns a copy of the messages delivered so far.
func (t *MockTransport) Sent() []*Outgoing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Outgoing(nil), t.sent...)
}
