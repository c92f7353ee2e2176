// Package scheduler runs account syncs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joltmail/jolt/internal/config"
)

// SyncFunc is invoked when a scheduled sync should run, with the account
// email to sync.
type SyncFunc func(ctx context.Context, email string) error

// Entry describes one scheduled account.
type Entry struct {
	Email     string    `json:"email"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler triggers per-account syncs from cron expressions. Overlapping
// runs for the same account are suppressed here; the sync engine additionally
// enforces single-flight, so a manual trigger racing a scheduled one loses
// cleanly.
type Scheduler struct {
	cron     *cron.Cron
	syncFunc SyncFunc
	logger   *slog.Logger

	mu        sync.Mutex
	jobs      map[string]cron.EntryID
	schedules map[string]string
	running   map[string]bool
	lastRun   map[string]time.Time
	lastErr   map[string]error
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler with the given sync callback.
func New(syncFunc SyncFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		syncFunc:  syncFunc,
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddAccount schedules sync for an account. A previous schedule for the same
// account is replaced.
func (s *Scheduler) AddAccount(email, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[email]; exists {
		s.cron.Remove(entryID)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[email] {
			s.mu.Unlock()
			return
		}
		s.running[email] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runSync(email)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.jobs[email] = entryID
	s.schedules[email] = cronExpr
	s.logger.Info("scheduled sync", "email", email, "schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddAccountsFromConfig schedules every enabled account from the config and
// returns how many were added plus per-account failures.
func (s *Scheduler) AddAccountsFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	added := 0
	for _, acc := range cfg.ScheduledAccounts() {
		if err := s.AddAccount(acc.Email, acc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acc.Email, err))
			continue
		}
		added++
	}
	return added, errs
}

// RemoveAccount drops an account's schedule.
func (s *Scheduler) RemoveAccount(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, exists := s.jobs[email]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, email)
		delete(s.schedules, email)
		s.logger.Info("removed schedule", "email", email)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling, signals running syncs to cancel, and waits for them
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()
	<-cronCtx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Entries returns the status of every scheduled account.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	for email, entryID := range s.jobs {
		e := Entry{
			Email:    email,
			Schedule: s.schedules[email],
			NextRun:  s.cron.Entry(entryID).Next,
			LastRun:  s.lastRun[email],
		}
		if err := s.lastErr[email]; err != nil {
			e.LastError = err.Error()
		}
		entries = append(entries, e)
	}
	return entries
}

// runSync executes one scheduled sync. Caller has marked the account running
// and incremented the wait group.
func (s *Scheduler) runSync(email string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[email] = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.syncFunc(s.ctx, email)

	s.mu.Lock()
	s.lastErr[email] = err
	if err == nil {
		s.lastRun[email] = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled sync failed", "email", email, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("scheduled sync completed", "email", email, "duration", time.Since(start))
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
