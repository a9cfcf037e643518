/*
Package factory provides JSON to Go alert-rule conversion.

PURPOSE:
  Converts JSON rule definitions into engine.AlertRule objects. This
  enables threshold configuration without code changes - store managers
  can define alert rules in JSON, and the factory creates the proper Go
  structs with validation and defaults applied.

WHY JSON?
  - Non-developers can adjust thresholds
  - Easy integration with admin UI
  - Version control for rule definitions
  - Database storage of rule configs

JSON SCHEMA:
  {
    "id": "rule-near-expiry-7d",
    "rule_name": "One week warning",
    "days_before_expiry": 7,
    "active": true
  }

KEY FEATURES:
  - Validates JSON structure and threshold range
  - Sets sensible defaults (active=true, generated id)
  - Round-trips rules back to JSON for API responses

USAGE:
  factory := NewRuleFactory()

  // From JSON string
  rule, err := factory.ParseRule(jsonString)

  // Seed a standard set on first boot
  rules := factory.DefaultRuleSet()

SEE ALSO:
  - engine/types.go: AlertRule type definition
  - engine/alerts.go: How rules drive evaluation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yoamart/shelflife/engine"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an alert rule.
type RuleJSON struct {
	ID               string `json:"id,omitempty"`
	RuleName         string `json:"rule_name"`
	DaysBeforeExpiry *int   `json:"days_before_expiry"`
	Active           *bool  `json:"active,omitempty"` // Default true
}

// RuleSetJSON is a list of rules, the shape config files use.
type RuleSetJSON struct {
	Rules []RuleJSON `json:"rules"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// MaxDaysBeforeExpiry bounds thresholds to something a shelf-life
// window can plausibly contain. A typo like 700 should fail loudly.
const MaxDaysBeforeExpiry = 365

// RuleFactory converts JSON rules to Go structs.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into an AlertRule.
func (f *RuleFactory) ParseRule(jsonStr string) (*engine.AlertRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// ParseRuleSet parses a JSON document containing a list of rules.
func (f *RuleFactory) ParseRuleSet(jsonStr string) ([]engine.AlertRule, error) {
	var rs RuleSetJSON
	if err := json.Unmarshal([]byte(jsonStr), &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set JSON: %w", err)
	}

	var rules []engine.AlertRule
	for i, rj := range rs.Rules {
		rule, err := f.FromJSON(rj)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// FromJSON converts RuleJSON to engine.AlertRule, applying defaults.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*engine.AlertRule, error) {
	if rj.RuleName == "" {
		return nil, fmt.Errorf("rule_name is required")
	}
	if rj.DaysBeforeExpiry == nil {
		return nil, fmt.Errorf("days_before_expiry is required")
	}
	days := *rj.DaysBeforeExpiry
	if days < 0 || days > MaxDaysBeforeExpiry {
		return nil, fmt.Errorf("days_before_expiry must be between 0 and %d, got %d", MaxDaysBeforeExpiry, days)
	}

	rule := &engine.AlertRule{
		ID:               engine.RuleID(rj.ID),
		RuleName:         rj.RuleName,
		DaysBeforeExpiry: days,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if rule.ID == "" {
		rule.ID = engine.NewRuleID()
	}
	if rj.Active != nil {
		rule.Active = *rj.Active
	}
	return rule, nil
}

// ToJSON converts an AlertRule to RuleJSON.
func (f *RuleFactory) ToJSON(rule engine.AlertRule) RuleJSON {
	days := rule.DaysBeforeExpiry
	active := rule.Active
	return RuleJSON{
		ID:               string(rule.ID),
		RuleName:         rule.RuleName,
		DaysBeforeExpiry: &days,
		Active:           &active,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultRuleSet returns the standard two-tier warning ladder seeded on
// first boot: a week-out heads-up and a last-call three days before.
func (f *RuleFactory) DefaultRuleSet() []engine.AlertRule {
	now := time.Now().UTC()
	return []engine.AlertRule{
		{
			ID:               "rule-near-expiry-7d",
			RuleName:         "One week warning",
			DaysBeforeExpiry: 7,
			Active:           true,
			CreatedAt:        now,
		},
		{
			ID:               "rule-near-expiry-3d",
			RuleName:         "Last call",
			DaysBeforeExpiry: 3,
			Active:           true,
			CreatedAt:        now,
		},
	}
}
