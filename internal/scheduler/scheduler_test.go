package scheduler_test

import (
	"context"
	"testing"

	"github.com/joltmail/jolt/internal/config"
	"github.com/joltmail/jolt/internal/scheduler"
)

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"*/5 * * * *", "0 9 * * 1-5", "30 2 1 * *"}
	for _, expr := range valid {
		if err := scheduler.ValidateCronExpr(expr); err != nil {
			t.Errorf("ValidateCronExpr(%q) = %v", expr, err)
		}
	}

	invalid := []string{"", "not a cron", "* * * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := scheduler.ValidateCronExpr(expr); err == nil {
			t.Errorf("ValidateCronExpr(%q) should fail", expr)
		}
	}
}

func TestAddAccountRejectsInvalidExpression(t *testing.T) {
	s := scheduler.New(func(ctx context.Context, email string) error { return nil })
	defer s.Stop()

	if err := s.AddAccount("user@example.com", "bogus"); err == nil {
		t.Error("invalid expression should fail")
	}
	if entries := s.Entries(); len(entries) != 0 {
		t.Errorf("failed add should not register a job: %+v", entries)
	}
}

func TestAddAccountReplacesSchedule(t *testing.T) {
	s := scheduler.New(func(ctx context.Context, email string) error { return nil })
	defer s.Stop()

	if err := s.AddAccount("user@example.com", "*/5 * * * *"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddAccount("user@example.com", "0 * * * *"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 || entries[0].Schedule != "0 * * * *" {
		t.Errorf("entries: %+v", entries)
	}

	s.RemoveAccount("user@example.com")
	if entries := s.Entries(); len(entries) != 0 {
		t.Errorf("entries after remove: %+v", entries)
	}
}

func TestAddAccountsFromConfig(t *testing.T) {
	s := scheduler.New(func(ctx context.Context, email string) error { return nil })
	defer s.Stop()

	cfg := &config.Config{Accounts: []config.AccountSchedule{
		{Email: "a@example.com", Schedule: "*/5 * * * *", Enabled: true},
		{Email: "b@example.com", Schedule: "garbage", Enabled: true},
		{Email: "c@example.com", Schedule: "0 * * * *", Enabled: false},
	}}

	added, errs := s.AddAccountsFromConfig(cfg)
	if added != 1 {
		t.Errorf("added: got %d, want 1", added)
	}
	if len(errs) != 1 {
		t.Errorf("errors: %v", errs)
	}
}
