// Package outbox schedules outbound messages with a per-account send delay,
// giving the sender a cancellation window before the transport fires.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/store"
)

// sendTimeout bounds one transport submission once the delay elapses.
const sendTimeout = 60 * time.Second

// ErrNotFound is returned by Cancel when no pending send has the given ID -
// including when the send already fired. Cancellation after firing is a
// failed cancellation, never an unsend.
var ErrNotFound = errors.New("no pending send with that id")

// Pending send states. Transitions are one-way: pending moves to exactly one
// of fired or cancelled, decided by a single compare-and-swap.
const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

// Pending describes one queued send for observation.
type Pending struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"account_id"`
	Subject   string    `json:"subject"`
	FireAt    time.Time `json:"fire_at"`
}

type entry struct {
	id      string
	account *store.Account
	draftID string
	msg     *remote.Outgoing
	fireAt  time.Time
	timer   *time.Timer
	state   int32
}

// Outbox holds messages during their send-delay window.
type Outbox struct {
	store     *store.Store
	transport remote.Transport
	logger    *slog.Logger

	mu      stdsync.Mutex
	pending map[string]*entry
}

// New creates an outbox delivering through the given transport.
func New(st *store.Store, transport remote.Transport) *Outbox {
	return &Outbox{
		store:     st,
		transport: transport,
		logger:    slog.Default(),
		pending:   make(map[string]*entry),
	}
}

// WithLogger sets the logger.
func (o *Outbox) WithLogger(logger *slog.Logger) *Outbox {
	o.logger = logger
	return o
}

// Queue schedules a message. With a zero or negative delay the message is
// sent synchronously and no pending entry is created; the returned ID is
// empty. draftID, when non-empty, names the backing draft row that is
// removed once the message has actually been sent.
func (o *Outbox) Queue(ctx context.Context, account *store.Account, draftID string, msg *remote.Outgoing, delay time.Duration) (string, error) {
	if delay <= 0 {
		if err := o.transport.Send(ctx, account, msg); err != nil {
			return "", fmt.Errorf("send: %w", err)
		}
		o.cleanupDraft(draftID)
		return "", nil
	}

	e := &entry{
		id:      uuid.NewString(),
		account: account,
		draftID: draftID,
		msg:     msg,
		fireAt:  time.Now().Add(delay),
	}

	// The timer is armed before the entry is visible to Cancel or List, and
	// under the same lock, so a cancel can never observe a nil timer. An
	// instant fire blocks on the mutex until the entry is published.
	o.mu.Lock()
	e.timer = time.AfterFunc(delay, func() { o.fire(e) })
	o.pending[e.id] = e
	o.mu.Unlock()

	o.logger.Debug("queued delayed send", "id", e.id, "account", account.Email, "fire_at", e.fireAt)
	return e.id, nil
}

// Cancel aborts a pending send. It succeeds only while the send has not
// fired; afterwards it returns ErrNotFound. The backing draft is kept so the
// cancelled message can be edited and re-sent.
func (o *Outbox) Cancel(id string) error {
	o.mu.Lock()
	e := o.pending[id]
	o.mu.Unlock()
	if e == nil {
		return ErrNotFound
	}

	if !atomic.CompareAndSwapInt32(&e.state, statePending, stateCancelled) {
		// Lost the race: the timer fired first.
		return ErrNotFound
	}
	e.timer.Stop()

	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()

	o.logger.Info("cancelled delayed send", "id", id, "account", e.account.Email)
	return nil
}

// List returns the sends still waiting to fire, soonest first.
func (o *Outbox) List() []Pending {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make([]Pending, 0, len(o.pending))
	for _, e := range o.pending {
		if atomic.LoadInt32(&e.state) != statePending {
			continue
		}
		result = append(result, Pending{
			ID:        e.id,
			AccountID: e.account.ID,
			Subject:   e.msg.Subject,
			FireAt:    e.fireAt,
		})
	}
	for i := 1; i < len(result); i++ {
		for j := i; j > 0 && result[j].FireAt.Before(result[j-1].FireAt); j-- {
			result[j], result[j-1] = result[j-1], result[j]
		}
	}
	return result
}

// Stop halts every pending timer without sending. Backing draft rows remain,
// so queued messages survive a restart as editable drafts.
func (o *Outbox) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, e := range o.pending {
		if atomic.CompareAndSwapInt32(&e.state, statePending, stateCancelled) {
			e.timer.Stop()
		}
		delete(o.pending, id)
	}
}

// fire delivers one entry after its delay elapsed.
func (o *Outbox) fire(e *entry) {
	if !atomic.CompareAndSwapInt32(&e.state, statePending, stateFired) {
		return // cancelled in the meantime
	}

	o.mu.Lock()
	delete(o.pending, e.id)
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := o.transport.Send(ctx, e.account, e.msg); err != nil {
		o.logger.Error("delayed send failed", "id", e.id, "account", e.account.Email, "error", err)
		return
	}
	o.cleanupDraft(e.draftID)
	o.logger.Info("delayed send delivered", "id", e.id, "account", e.account.Email)
}

func (o *Outbox) cleanupDraft(draftID string) {
	if draftID == "" {
		return
	}
	if err := o.store.DeleteDraft(draftID); err != nil {
		o.logger.Warn("removing sent draft failed", "draft", draftID, "error", err)
	}
}
