package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Rule match modes.
const (
	MatchAll = "all" // every condition must hold
	MatchAny = "any" // at least one condition must hold
)

// Condition operators.
const (
	OpContains   = "contains"
	OpEquals     = "equals"
	OpStartsWith = "startswith"
	OpEndsWith   = "endswith"
	OpRegex      = "regex"
)

// Action types.
const (
	ActionLabel    = "label"
	ActionMove     = "move"
	ActionStar     = "star"
	ActionMarkRead = "mark_read"
	ActionArchive  = "archive"
	ActionDelete   = "delete"
)

// Condition is one field/operator/value predicate of a rule.
type Condition struct {
	Field    string `json:"field"` // from, to, cc, subject, body
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Action is one effect a matching rule applies to a message. Arg carries the
// target for label/move actions (a label or folder ID).
type Action struct {
	Type string `json:"type"`
	Arg  int64  `json:"arg,omitempty"`
}

// Rule is a user-defined filter applied to incoming or existing messages.
type Rule struct {
	ID             int64
	AccountID      int64
	Name           string
	Priority       int
	MatchType      string
	Conditions     []Condition
	Actions        []Action
	StopProcessing bool
	Enabled        bool
}

const ruleColumns = `id, account_id, name, priority, match_type, conditions, actions, stop_processing, enabled`

func scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	var (
		r                    Rule
		condJSON, actionJSON string
	)
	err := row.Scan(&r.ID, &r.AccountID, &r.Name, &r.Priority, &r.MatchType,
		&condJSON, &actionJSON, &r.StopProcessing, &r.Enabled)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(condJSON), &r.Conditions); err != nil {
		return nil, fmt.Errorf("decode rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode rule actions: %w", err)
	}
	return &r, nil
}

func (r *Rule) encode() (conditions, actions string, err error) {
	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("encode rule conditions: %w", err)
	}
	actionJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return "", "", fmt.Errorf("encode rule actions: %w", err)
	}
	return string(condJSON), string(actionJSON), nil
}

// CreateRule inserts a rule and returns its ID.
func (s *Store) CreateRule(r *Rule) (int64, error) {
	condJSON, actionJSON, err := r.encode()
	if err != nil {
		return 0, err
	}
	result, err := s.db.Exec(`
		INSERT INTO rules (account_id, name, priority, match_type, conditions, actions, stop_processing, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AccountID, r.Name, r.Priority, r.MatchType, condJSON, actionJSON, r.StopProcessing, r.Enabled)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return result.LastInsertId()
}

// GetRule returns a rule by ID, or nil if absent.
func (s *Store) GetRule(id int64) (*Rule, error) {
	row := s.db.QueryRow(`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return r, nil
}

// ListRules returns an account's rules ordered by ascending priority.
// Evaluation order follows this ordering exactly.
func (s *Store) ListRules(accountID int64) ([]*Rule, error) {
	rows, err := s.db.Query(`SELECT `+ruleColumns+` FROM rules
		WHERE account_id = ? ORDER BY priority ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpdateRule updates all mutable rule fields.
func (s *Store) UpdateRule(r *Rule) error {
	condJSON, actionJSON, err := r.encode()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE rules SET name = ?, priority = ?, match_type = ?, conditions = ?, actions = ?,
			stop_processing = ?, enabled = ?
		WHERE id = ?`,
		r.Name, r.Priority, r.MatchType, condJSON, actionJSON, r.StopProcessing, r.Enabled, r.ID)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return nil
}
