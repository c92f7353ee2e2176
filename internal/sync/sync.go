// Package sync incrementally mirrors remote mailboxes into the local store.
//
// Each folder keeps a UID watermark; a sync fetches only messages above it.
// A remote UIDVALIDITY change invalidates the watermark and forces a full
// refetch of that folder. Ingestion is idempotent: messages are keyed by
// their protocol message identifier, so re-fetching never duplicates rows and
// a message that moved folders server-side is relocated, not re-inserted.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joltmail/jolt/internal/folders"
	"github.com/joltmail/jolt/internal/mime"
	"github.com/joltmail/jolt/internal/remote"
	"github.com/joltmail/jolt/internal/rules"
	"github.com/joltmail/jolt/internal/store"
	"github.com/joltmail/jolt/internal/thread"
)

const snippetLength = 160

var (
	// ErrAccountNotFound is returned when the account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountDisabled is returned when the account is disabled.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrSyncInFlight is returned when a sync for the account is already
	// running. Triggers for a busy account are rejected, not queued.
	ErrSyncInFlight = errors.New("sync already in progress for account")
)

// Result summarizes one account sync.
type Result struct {
	AccountID     int64         `json:"account_id"`
	Folders       int           `json:"folders"`
	FoldersFailed int           `json:"folders_failed"`
	Added         int           `json:"added"`
	Relocated     int           `json:"relocated"`
	FlagUpdates   int           `json:"flag_updates"`
	Duration      time.Duration `json:"duration"`
	Errors        []string      `json:"errors,omitempty"`
}

// Partial reports whether some folders failed while others synced.
func (r *Result) Partial() bool {
	return r.FoldersFailed > 0 && r.FoldersFailed < r.Folders
}

// Engine drives account syncs. At most one sync runs per account at a time;
// different accounts sync independently.
type Engine struct {
	store   *store.Store
	dialer  remote.Dialer
	folders *folders.Manager
	threads *thread.Reconstructor
	rules   *rules.Evaluator
	logger  *slog.Logger

	mu       stdsync.Mutex
	inFlight map[int64]bool
}

// New creates a sync engine wired to the given capability boundary.
func New(st *store.Store, dialer remote.Dialer) *Engine {
	return &Engine{
		store:    st,
		dialer:   dialer,
		folders:  folders.New(st),
		threads:  thread.New(st),
		rules:    rules.New(st),
		logger:   slog.Default(),
		inFlight: make(map[int64]bool),
	}
}

// WithLogger sets the logger on the engine and its collaborators.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	e.folders.WithLogger(logger)
	e.threads.WithLogger(logger)
	e.rules.WithLogger(logger)
	return e
}

// Sync runs one incremental sync for an account.
func (e *Engine) Sync(ctx context.Context, accountID int64) (*Result, error) {
	return e.SyncWithProgress(ctx, accountID, nil)
}

// SyncWithProgress runs one incremental sync, reporting progress to sink when
// non-nil. A transport failure is recoverable: it is recorded on the account
// and returned, and the next trigger retries from scratch. A single folder
// failing does not abort the remaining folders.
func (e *Engine) SyncWithProgress(ctx context.Context, accountID int64, sink Sink) (*Result, error) {
	if !e.acquire(accountID) {
		return nil, ErrSyncInFlight
	}
	defer e.release(accountID)

	account, err := e.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	if !account.Enabled {
		return nil, fmt.Errorf("account %s: %w", account.Email, ErrAccountDisabled)
	}

	started := time.Now()
	emit(sink, Progress{Phase: PhaseConnecting})

	session, err := e.dialer.Open(ctx, account)
	if err != nil {
		return nil, e.failSync(account, fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	remoteFolders, err := session.ListFolders(ctx)
	if err != nil {
		return nil, e.failSync(account, fmt.Errorf("list folders: %w", err))
	}
	emit(sink, Progress{Phase: PhaseListing, FoldersTotal: len(remoteFolders)})

	result := &Result{AccountID: accountID, Folders: len(remoteFolders)}
	for i, rf := range remoteFolders {
		if ctx.Err() != nil {
			return result, e.failSync(account, ctx.Err())
		}
		if err := e.syncFolder(ctx, session, account, rf, result); err != nil {
			result.FoldersFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rf.Name, err))
			e.logger.Warn("folder sync failed, continuing", "account", account.Email, "folder", rf.Name, "error", err)
		}
		emit(sink, Progress{
			Phase:        PhaseSyncing,
			Folder:       rf.Name,
			FoldersTotal: len(remoteFolders),
			FoldersDone:  i + 1,
			Added:        result.Added,
		})
	}

	result.Duration = time.Since(started)
	if result.FoldersFailed == len(remoteFolders) && len(remoteFolders) > 0 {
		return result, e.failSync(account, fmt.Errorf("all folders failed: %s", strings.Join(result.Errors, "; ")))
	}
	if result.FoldersFailed > 0 {
		// Partial success: record the failures but keep the watermark gains.
		if err := e.store.SetSyncError(account.ID, strings.Join(result.Errors, "; ")); err != nil {
			return result, err
		}
	} else if err := e.store.MarkSynced(account.ID, time.Now()); err != nil {
		return result, err
	}

	emit(sink, Progress{Phase: PhaseDone, FoldersTotal: len(remoteFolders), FoldersDone: len(remoteFolders), Added: result.Added})
	e.logger.Info("sync finished",
		"account", account.Email,
		"folders", result.Folders,
		"failed", result.FoldersFailed,
		"added", result.Added,
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// SyncAll syncs every enabled account concurrently. Per-account errors are
// joined; one account failing does not stop the others.
func (e *Engine) SyncAll(ctx context.Context) (map[int64]*Result, error) {
	accounts, err := e.store.ListAccounts()
	if err != nil {
		return nil, err
	}

	var (
		mu      stdsync.Mutex
		results = make(map[int64]*Result)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, account := range accounts {
		if !account.Enabled {
			continue
		}
		account := account
		g.Go(func() error {
			res, err := e.Sync(ctx, account.ID)
			if err != nil {
				return fmt.Errorf("account %s: %w", account.Email, err)
			}
			mu.Lock()
			results[account.ID] = res
			mu.Unlock()
			return nil
		})
	}
	return results, g.Wait()
}

// syncFolder reconciles one remote folder and ingests everything above its
// watermark.
func (e *Engine) syncFolder(ctx context.Context, session remote.Session, account *store.Account, rf remote.Folder, result *Result) error {
	folder, refetch, err := e.folders.EnsureRemote(account.ID, rf)
	if err != nil {
		return fmt.Errorf("reconcile folder: %w", err)
	}

	sinceUID := folder.LastSeenUID
	if refetch {
		sinceUID = 0
	}

	messages, err := session.FetchSince(ctx, rf.Name, sinceUID)
	if err != nil {
		return fmt.Errorf("fetch since uid %d: %w", sinceUID, err)
	}

	var maxUID uint32
	for _, rm := range messages {
		if err := e.ingest(account, folder, rm, result); err != nil {
			return fmt.Errorf("ingest uid %d: %w", rm.UID, err)
		}
		if rm.UID > maxUID {
			maxUID = rm.UID
		}
	}

	if maxUID > 0 {
		if err := e.store.AdvanceFolderWatermark(folder.ID, maxUID); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	return nil
}

// ingest stores one fetched message. Known messages have their flags
// refreshed (and are relocated if they moved folders server-side); new
// messages are inserted, threaded, and run through the account's rules.
func (e *Engine) ingest(account *store.Account, folder *store.Folder, rm remote.Message, result *Result) error {
	existing, err := e.lookupExisting(account.ID, folder.ID, rm)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.FolderID != folder.ID || existing.UID != rm.UID {
			if err := e.store.RelocateMessage(existing.ID, folder.ID, rm.UID); err != nil {
				return err
			}
			result.Relocated++
		}
		if existing.IsRead != rm.Flags.Read || existing.IsStarred != rm.Flags.Starred || existing.IsAnswered != rm.Flags.Answered {
			if err := e.store.UpdateMessageFlags(existing.ID, rm.Flags.Read, rm.Flags.Starred, rm.Flags.Answered); err != nil {
				return err
			}
			result.FlagUpdates++
		}
		return nil
	}

	m := &store.Message{
		AccountID:      account.ID,
		FolderID:       folder.ID,
		UID:            rm.UID,
		MessageID:      rm.MessageID,
		InReplyTo:      rm.InReplyTo,
		ReferencesRaw:  rm.References,
		From:           rm.From,
		To:             rm.To,
		Cc:             rm.Cc,
		Subject:        rm.Subject,
		Snippet:        mime.Snippet(rm.BodyText, snippetLength),
		BodyText:       rm.BodyText,
		BodyHTML:       rm.BodyHTML,
		IsRead:         rm.Flags.Read,
		IsStarred:      rm.Flags.Starred,
		IsAnswered:     rm.Flags.Answered,
		IsDraft:        rm.Flags.Draft,
		HasAttachments: rm.HasAttachments,
		SizeEstimate:   rm.Size,
	}
	if !rm.SentAt.IsZero() {
		m.SentAt.Time = rm.SentAt
		m.SentAt.Valid = true
	}

	if _, err := e.store.InsertMessage(m); err != nil {
		return err
	}
	if _, err := e.threads.Assign(m); err != nil {
		return fmt.Errorf("assign thread: %w", err)
	}
	if _, err := e.rules.Apply(account.ID, m); err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}
	result.Added++
	return nil
}

// lookupExisting resolves a fetched message to a local row. The message
// identifier is the primary key across folders; messages without one fall
// back to the (folder, UID) pair.
func (e *Engine) lookupExisting(accountID, folderID int64, rm remote.Message) (*store.Message, error) {
	if rm.MessageID != "" {
		return e.store.GetMessageByMessageID(accountID, rm.MessageID)
	}
	return e.store.GetMessageByUID(folderID, rm.UID)
}

// failSync records a recoverable sync failure on the account and wraps it.
func (e *Engine) failSync(account *store.Account, err error) error {
	if setErr := e.store.SetSyncError(account.ID, err.Error()); setErr != nil {
		e.logger.Error("recording sync error failed", "account", account.Email, "error", setErr)
	}
	return fmt.Errorf("sync account %s: %w", account.Email, err)
}

func (e *Engine) acquire(accountID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[accountID] {
		return false
	}
	e.inFlight[accountID] = true
	return true
}

func (e *Engine) release(accountID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, accountID)
}

func emit(sink Sink, p Progress) {
	if sink != nil {
		sink.Emit(p)
	}
}
