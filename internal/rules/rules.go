// Package rules evaluates user-defined filters against messages and applies
// their actions.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/joltmail/jolt/internal/store"
)

// Evaluator applies an account's rule set to messages.
type Evaluator struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a rule evaluator.
func New(st *store.Store) *Evaluator {
	return &Evaluator{store: st, logger: slog.Default()}
}

// WithLogger sets the logger.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// Apply runs the account's enabled rules against one message in priority
// order and applies the actions of every matching rule, stopping early when a
// matching rule has stop-processing set. It returns the actions that took
// effect.
func (e *Evaluator) Apply(accountID int64, m *store.Message) ([]store.Action, error) {
	ruleSet, err := e.store.ListRules(accountID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return e.applyRules(ruleSet, m)
}

// RunNow applies a single rule retroactively to every existing message of its
// account, in chronological order, and returns how many messages it changed.
func (e *Evaluator) RunNow(ruleID int64) (int, error) {
	rule, err := e.store.GetRule(ruleID)
	if err != nil {
		return 0, err
	}
	if rule == nil {
		return 0, fmt.Errorf("rule %d: %w", ruleID, store.ErrNotFound)
	}

	ids, err := e.store.ListMessageIDs(rule.AccountID)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}

	affected := 0
	for _, id := range ids {
		m, err := e.store.GetMessage(id)
		if err != nil {
			return affected, err
		}
		if m == nil {
			continue // deleted by an earlier iteration's delete action
		}
		if !e.matches(rule, m) {
			continue
		}
		if err := e.applyActions(rule.Actions, m); err != nil {
			return affected, err
		}
		affected++
	}
	e.logger.Info("ran rule retroactively", "rule", rule.Name, "affected", affected)
	return affected, nil
}

// applyRules evaluates an already-loaded rule set against one message.
func (e *Evaluator) applyRules(ruleSet []*store.Rule, m *store.Message) ([]store.Action, error) {
	var applied []store.Action
	for _, rule := range ruleSet {
		if !rule.Enabled {
			continue
		}
		if !e.matches(rule, m) {
			continue
		}
		if err := e.applyActions(rule.Actions, m); err != nil {
			return applied, fmt.Errorf("apply rule %q: %w", rule.Name, err)
		}
		applied = append(applied, rule.Actions...)
		if rule.StopProcessing {
			break
		}
	}
	return applied, nil
}

// matches reports whether a rule's conditions hold for a message. A rule
// with no conditions never matches, regardless of match mode.
func (e *Evaluator) matches(rule *store.Rule, m *store.Message) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, cond := range rule.Conditions {
		ok := e.evalCondition(cond, m)
		if rule.MatchType == store.MatchAny {
			if ok {
				return true
			}
		} else if !ok {
			return false
		}
	}
	return rule.MatchType != store.MatchAny
}

// evalCondition evaluates one predicate. String operators compare
// case-insensitively; regex matches the field text as-is, and a pattern that
// fails to compile is logged and treated as a non-match rather than aborting
// the evaluation.
func (e *Evaluator) evalCondition(cond store.Condition, m *store.Message) bool {
	text := fieldText(cond.Field, m)

	switch cond.Operator {
	case store.OpContains:
		return strings.Contains(strings.ToLower(text), strings.ToLower(cond.Value))
	case store.OpEquals:
		return strings.EqualFold(text, cond.Value)
	case store.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(text), strings.ToLower(cond.Value))
	case store.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(text), strings.ToLower(cond.Value))
	case store.OpRegex:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			e.logger.Warn("invalid rule regex", "pattern", cond.Value, "error", err)
			return false
		}
		return re.MatchString(text)
	default:
		e.logger.Warn("unknown rule operator", "operator", cond.Operator)
		return false
	}
}

// fieldText extracts the comparable text for a condition field. Address
// fields compare against the formatted "Name <addr>" form, so conditions can
// match either the display name or the address.
func fieldText(field string, m *store.Message) string {
	switch field {
	case "from":
		return joinAddresses(m.From)
	case "to":
		return joinAddresses(m.To)
	case "cc":
		return joinAddresses(m.Cc)
	case "subject":
		return m.Subject
	case "body":
		return m.BodyText
	default:
		return ""
	}
}

func joinAddresses(addrs []store.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// applyActions executes a matching rule's actions against the message.
// Flag and label actions apply in order; location actions (move, archive,
// delete) conflict with each other, so only the last one listed takes effect.
func (e *Evaluator) applyActions(actions []store.Action, m *store.Message) error {
	var location *store.Action
	for i := range actions {
		a := actions[i]
		switch a.Type {
		case store.ActionStar:
			if err := e.store.SetStarred(m.ID, true); err != nil {
				return err
			}
			m.IsStarred = true
		case store.ActionMarkRead:
			if err := e.store.SetRead(m.ID, true); err != nil {
				return err
			}
			m.IsRead = true
		case store.ActionLabel:
			if err := e.store.AssignLabel(m.ID, a.Arg); err != nil {
				return err
			}
		case store.ActionMove, store.ActionArchive, store.ActionDelete:
			location = &actions[i]
		default:
			e.logger.Warn("unknown rule action", "type", a.Type)
		}
	}

	if location == nil {
		return nil
	}
	switch location.Type {
	case store.ActionMove:
		if err := e.store.MoveMessage(m.ID, location.Arg); err != nil {
			return err
		}
		m.FolderID = location.Arg
	case store.ActionArchive:
		return e.moveToKind(m, store.FolderArchive)
	case store.ActionDelete:
		return e.moveToKind(m, store.FolderTrash)
	}
	return nil
}

// moveToKind relocates a message to the account's folder of the given system
// kind. Delete means "move to trash"; the row is removed outright only when
// the account has no trash folder.
func (e *Evaluator) moveToKind(m *store.Message, kind string) error {
	f, err := e.store.GetFolderByKind(m.AccountID, kind)
	if err != nil {
		return err
	}
	if f == nil {
		if kind == store.FolderTrash {
			return e.store.DeleteMessage(m.ID)
		}
		e.logger.Warn("account has no folder of kind, skipping action", "account", m.AccountID, "kind", kind)
		return nil
	}
	if err := e.store.MoveMessage(m.ID, f.ID); err != nil {
		return err
	}
	m.FolderID = f.ID
	return nil
}
