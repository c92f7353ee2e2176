package api

import (
	"net/http"

	"github.com/joltmail/jolt/internal/store"
)

// RuleInfo represents a rule in API responses and requests.
type RuleInfo struct {
	ID             int64             `json:"id,omitempty"`
	Name           string            `json:"name"`
	Priority       int               `json:"priority"`
	MatchType      string            `json:"match_type"`
	Conditions     []store.Condition `json:"conditions"`
	Actions        []store.Action    `json:"actions"`
	StopProcessing bool              `json:"stop_processing"`
	Enabled        bool              `json:"enabled"`
}

func toRuleInfo(r *store.Rule) RuleInfo {
	return RuleInfo{
		ID:             r.ID,
		Name:           r.Name,
		Priority:       r.Priority,
		MatchType:      r.MatchType,
		Conditions:     r.Conditions,
		Actions:        r.Actions,
		StopProcessing: r.StopProcessing,
		Enabled:        r.Enabled,
	}
}

func validMatchType(mt string) bool {
	return mt == store.MatchAll || mt == store.MatchAny
}

// handleListRules returns an account's rules in evaluation order.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	ruleSet, err := s.deps.Store.ListRules(accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve rules")
		return
	}
	infos := make([]RuleInfo, len(ruleSet))
	for i, rule := range ruleSet {
		infos[i] = toRuleInfo(rule)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": infos})
}

// handleCreateRule creates a rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	accountID, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	var req RuleInfo
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_name", "Rule name is required")
		return
	}
	if !validMatchType(req.MatchType) {
		writeError(w, http.StatusBadRequest, "invalid_match_type", "match_type must be \"all\" or \"any\"")
		return
	}

	rule := &store.Rule{
		AccountID:      accountID,
		Name:           req.Name,
		Priority:       req.Priority,
		MatchType:      req.MatchType,
		Conditions:     req.Conditions,
		Actions:        req.Actions,
		StopProcessing: req.StopProcessing,
		Enabled:        req.Enabled,
	}
	id, err := s.deps.Store.CreateRule(rule)
	if err != nil {
		s.logger.Error("failed to create rule", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create rule")
		return
	}
	rule.ID = id
	writeJSON(w, http.StatusCreated, toRuleInfo(rule))
}

// handleUpdateRule updates a rule.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	rule, err := s.deps.Store.GetRule(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve rule")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "not_found", "Rule not found")
		return
	}

	var req RuleInfo
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MatchType != "" && !validMatchType(req.MatchType) {
		writeError(w, http.StatusBadRequest, "invalid_match_type", "match_type must be \"all\" or \"any\"")
		return
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.MatchType != "" {
		rule.MatchType = req.MatchType
	}
	rule.Priority = req.Priority
	rule.Conditions = req.Conditions
	rule.Actions = req.Actions
	rule.StopProcessing = req.StopProcessing
	rule.Enabled = req.Enabled

	if err := s.deps.Store.UpdateRule(rule); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update rule")
		return
	}
	writeJSON(w, http.StatusOK, toRuleInfo(rule))
}

// handleDeleteRule removes a rule.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteRule(id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunRule applies a rule retroactively to all existing messages.
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r, "id")
	if !ok {
		return
	}
	affected, err := s.deps.Rules.RunNow(id)
	if err != nil {
		s.logger.Error("failed to run rule", "rule", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to run rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"affected": affected})
}
