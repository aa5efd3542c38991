package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ryanuber/go-glob"
	"gopkg.in/yaml.v3"

	"github.com/kenneth/djbf-gateway/internal/djbf"
)

// Rule overrides encode options for assets whose names match one of its
// glob patterns.
type Rule struct {
	ID       string   `yaml:"id"`
	Patterns []string `yaml:"patterns"` // Glob patterns for asset names
	Profile  string   `yaml:"profile,omitempty"`
	Version  string   `yaml:"version,omitempty"`
	Flags    string   `yaml:"flags,omitempty"`
}

// RuleSet manages loading and matching conversion rules.
type RuleSet struct {
	rules []*Rule
	mu    sync.RWMutex
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{
		rules: make([]*Rule, 0),
	}
}

// Load replaces the rules with those found in files matching the patterns.
// Files are read in glob order and the first matching rule wins.
func (rs *RuleSet) Load(patterns []string) error {
	rules := make([]*Rule, 0)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
		}

		for _, match := range matches {
			data, err := os.ReadFile(match)
			if err != nil {
				return fmt.Errorf("failed to read rule file %s: %w", match, err)
			}

			var rule Rule
			if err := yaml.Unmarshal(data, &rule); err != nil {
				return fmt.Errorf("failed to parse rule file %s: %w", match, err)
			}
			if err := rule.validate(); err != nil {
				return fmt.Errorf("rule file %s: %w", match, err)
			}

			rules = append(rules, &rule)
		}
	}

	rs.mu.Lock()
	rs.rules = rules
	rs.mu.Unlock()
	return nil
}

// Len returns the number of loaded rules.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

// Match returns the first rule with a pattern matching name, or nil.
func (rs *RuleSet) Match(name string) *Rule {
	if rs == nil {
		return nil
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	for _, rule := range rs.rules {
		for _, pattern := range rule.Patterns {
			if glob.Glob(pattern, name) {
				return rule
			}
		}
	}
	return nil
}

// Resolve returns base with the overrides of the rule matching name applied.
func (rs *RuleSet) Resolve(name string, base EncodeConfig) EncodeConfig {
	if rule := rs.Match(name); rule != nil {
		return rule.Apply(base)
	}
	return base
}

// Apply overrides the fields the rule sets.
func (r *Rule) Apply(base EncodeConfig) EncodeConfig {
	out := base
	if r.Profile != "" {
		out.Profile = r.Profile
	}
	if r.Version != "" {
		out.Version = r.Version
	}
	if r.Flags != "" {
		out.Flags = r.Flags
	}
	return out
}

func (r *Rule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule must have an ID")
	}
	if len(r.Patterns) == 0 {
		return fmt.Errorf("rule %s must specify at least one pattern", r.ID)
	}
	if r.Version != "" {
		if _, err := djbf.ParseVersion(r.Version); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	if r.Flags != "" {
		if _, err := djbf.ParseFlags(r.Flags); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}
