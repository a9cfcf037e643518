package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoamart/shelflife/engine"
	"github.com/yoamart/shelflife/factory"
)

func TestParseRule_Valid(t *testing.T) {
	// GIVEN: A complete JSON rule definition
	// THEN: All fields land as written

	f := factory.NewRuleFactory()
	rule, err := f.ParseRule(`{
		"id": "rule-near-expiry-5d",
		"rule_name": "Five day warning",
		"days_before_expiry": 5,
		"active": false
	}`)
	require.NoError(t, err)

	assert.Equal(t, engine.RuleID("rule-near-expiry-5d"), rule.ID)
	assert.Equal(t, "Five day warning", rule.RuleName)
	assert.Equal(t, 5, rule.DaysBeforeExpiry)
	assert.False(t, rule.Active)
}

func TestParseRule_Defaults(t *testing.T) {
	// Active defaults to true and a missing id gets generated.
	f := factory.NewRuleFactory()
	rule, err := f.ParseRule(`{"rule_name": "Heads up", "days_before_expiry": 7}`)
	require.NoError(t, err)

	assert.True(t, rule.Active)
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
}

func TestParseRule_MissingName_Rejected(t *testing.T) {
	f := factory.NewRuleFactory()
	_, err := f.ParseRule(`{"days_before_expiry": 7}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule_name")
}

func TestParseRule_MissingDays_Rejected(t *testing.T) {
	// A pointer field distinguishes absent from zero: zero is a legal
	// threshold (fire on the expiry day itself), absent is not.
	f := factory.NewRuleFactory()
	_, err := f.ParseRule(`{"rule_name": "Broken"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "days_before_expiry")
}

func TestParseRule_ZeroDays_Allowed(t *testing.T) {
	f := factory.NewRuleFactory()
	rule, err := f.ParseRule(`{"rule_name": "Expiry day", "days_before_expiry": 0}`)
	require.NoError(t, err)
	assert.Equal(t, 0, rule.DaysBeforeExpiry)
}

func TestParseRule_OutOfRangeDays_Rejected(t *testing.T) {
	f := factory.NewRuleFactory()

	_, err := f.ParseRule(`{"rule_name": "Typo", "days_before_expiry": 700}`)
	assert.Error(t, err)

	_, err = f.ParseRule(`{"rule_name": "Negative", "days_before_expiry": -1}`)
	assert.Error(t, err)
}

func TestParseRule_MalformedJSON_Rejected(t *testing.T) {
	f := factory.NewRuleFactory()
	_, err := f.ParseRule(`{"rule_name": `)
	assert.Error(t, err)
}

func TestParseRuleSet(t *testing.T) {
	f := factory.NewRuleFactory()
	rules, err := f.ParseRuleSet(`{
		"rules": [
			{"rule_name": "One week warning", "days_before_expiry": 7},
			{"rule_name": "Last call", "days_before_expiry": 3}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 7, rules[0].DaysBeforeExpiry)
	assert.Equal(t, 3, rules[1].DaysBeforeExpiry)
}

func TestParseRuleSet_BadEntry_NamesTheIndex(t *testing.T) {
	f := factory.NewRuleFactory()
	_, err := f.ParseRuleSet(`{
		"rules": [
			{"rule_name": "Fine", "days_before_expiry": 7},
			{"rule_name": "Broken"}
		]
	}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule 1")
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewRuleFactory()
	rule := engine.AlertRule{ID: "rule-x", RuleName: "X", DaysBeforeExpiry: 4, Active: false}

	rj := f.ToJSON(rule)
	back, err := f.FromJSON(rj)
	require.NoError(t, err)

	assert.Equal(t, rule.ID, back.ID)
	assert.Equal(t, rule.DaysBeforeExpiry, back.DaysBeforeExpiry)
	assert.Equal(t, rule.Active, back.Active)
}

func TestDefaultRuleSet(t *testing.T) {
	f := factory.NewRuleFactory()
	rules := f.DefaultRuleSet()

	require.Len(t, rules, 2)
	assert.Equal(t, engine.RuleID("rule-near-expiry-7d"), rules[0].ID)
	assert.Equal(t, 7, rules[0].DaysBeforeExpiry)
	assert.Equal(t, engine.RuleID("rule-near-expiry-3d"), rules[1].ID)
	assert.Equal(t, 3, rules[1].DaysBeforeExpiry)
	for _, r := range rules {
		assert.True(t, r.Active)
	}
}
