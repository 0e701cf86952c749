// Package ruleconfig loads the YAML-shaped rule/scheduler configuration the
// rule engine, scheduler, and deviation store are parameterized by. This is
// an explicit value threaded through constructors, never read ambiently.
package ruleconfig

import (
	"os"

	perr "aginosd/internal/platform/errors"

	"gopkg.in/yaml.v3"
)

// NightWindow is the configured night-activity window for R-002
type NightWindow struct {
	StartLocalTime string `yaml:"start_local_time"`
	EndLocalTime   string `yaml:"end_local_time"`
}

// RuleParams is the free-form per-rule parameter bag; individual rules type
// assert the keys they understand (e.g. R-002's night_window)
type RuleParams map[string]any

// Rule is one entry under `rules.<id>`
type Rule struct {
	EnabledInScheduler *bool      `yaml:"enabled_in_scheduler"`
	LookbackMinutes    *int       `yaml:"lookback_minutes"`
	ExpireAfterMinutes *int       `yaml:"expire_after_minutes"`
	Params             RuleParams `yaml:"params"`
}

// Scheduler holds the top-level `scheduler` block
type Scheduler struct {
	IntervalMinutes    int    `yaml:"interval_minutes"`
	DefaultSubjectKey  string `yaml:"default_subject_key"`
	ProposalsMinerHour int    `yaml:"proposals_miner_interval_hours"`
	ExpirySweepMinutes int    `yaml:"expiry_sweep_interval_minutes"`
}

// Defaults holds the top-level `defaults` block
type Defaults struct {
	LookbackMinutes    int `yaml:"lookback_minutes"`
	ExpireAfterMinutes int `yaml:"expire_after_minutes"`
}

// RuleConfig is the parsed document, grounded on
// original_source/backend/config/rule_config.py's RuleConfig dataclass, with
// its accessor methods ported 1:1.
type RuleConfig struct {
	Scheduler Scheduler       `yaml:"scheduler"`
	Defaults  Defaults        `yaml:"defaults"`
	Rules     map[string]Rule `yaml:"rules"`
}

// Load reads and parses the YAML document at path
func Load(path string) (*RuleConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeDB, "ruleconfig: read %s", path)
	}
	var cfg RuleConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "ruleconfig: parse %s", path)
	}
	if cfg.Scheduler.IntervalMinutes == 0 {
		cfg.Scheduler.IntervalMinutes = 1
	}
	if cfg.Scheduler.DefaultSubjectKey == "" {
		cfg.Scheduler.DefaultSubjectKey = "default"
	}
	if cfg.Scheduler.ProposalsMinerHour == 0 {
		cfg.Scheduler.ProposalsMinerHour = 24
	}
	if cfg.Scheduler.ExpirySweepMinutes == 0 {
		cfg.Scheduler.ExpirySweepMinutes = 10
	}
	if cfg.Defaults.LookbackMinutes == 0 {
		cfg.Defaults.LookbackMinutes = 60
	}
	if cfg.Defaults.ExpireAfterMinutes == 0 {
		cfg.Defaults.ExpireAfterMinutes = 60
	}
	return &cfg, nil
}

func (c *RuleConfig) rule(ruleID string) Rule {
	if c.Rules == nil {
		return Rule{}
	}
	return c.Rules[ruleID]
}

// RuleEnabledInScheduler defaults to false when unset, matching the original
func (c *RuleConfig) RuleEnabledInScheduler(ruleID string) bool {
	r := c.rule(ruleID)
	return r.EnabledInScheduler != nil && *r.EnabledInScheduler
}

// RuleLookbackMinutes falls back to Defaults.LookbackMinutes
func (c *RuleConfig) RuleLookbackMinutes(ruleID string) int {
	r := c.rule(ruleID)
	if r.LookbackMinutes != nil {
		return *r.LookbackMinutes
	}
	return c.Defaults.LookbackMinutes
}

// RuleExpireAfterMinutes falls back to Defaults.ExpireAfterMinutes
func (c *RuleConfig) RuleExpireAfterMinutes(ruleID string) int {
	r := c.rule(ruleID)
	if r.ExpireAfterMinutes != nil {
		return *r.ExpireAfterMinutes
	}
	return c.Defaults.ExpireAfterMinutes
}

// RuleParams returns the rule's params bag, never nil
func (c *RuleConfig) RuleParams(ruleID string) RuleParams {
	r := c.rule(ruleID)
	if r.Params == nil {
		return RuleParams{}
	}
	return r.Params
}

// NightWindowFor extracts the night_window sub-struct from a rule's params,
// defaulting to the original's hardcoded 23:00->06:00 when absent.
func (c *RuleConfig) NightWindowFor(ruleID string) NightWindow {
	params := c.RuleParams(ruleID)
	nw := NightWindow{StartLocalTime: "23:00", EndLocalTime: "06:00"}
	raw, ok := params["night_window"]
	if !ok {
		return nw
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nw
	}
	if v, ok := m["start_local_time"].(string); ok && v != "" {
		nw.StartLocalTime = v
	}
	if v, ok := m["end_local_time"].(string); ok && v != "" {
		nw.EndLocalTime = v
	}
	return nw
}

// FollowupMinutesFor extracts rules.<id>.params.followup_minutes, defaulting
// to 10 (the original's FOLLOWUP_MINUTES) when absent or not numeric.
func (c *RuleConfig) FollowupMinutesFor(ruleID string) int {
	const def = 10
	params := c.RuleParams(ruleID)
	raw, ok := params["followup_minutes"]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
