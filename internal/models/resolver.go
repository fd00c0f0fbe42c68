// Package models resolves caller-facing model names to upstream model ids via
// prioritized pattern rules.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrUnsupportedModel means no enabled mapping accepts the input.
var ErrUnsupportedModel = errors.New("unsupported model")

// Match types, in decreasing specificity by convention: exact rules carry the
// highest priorities, substring rules are the low-priority family buckets.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchRegex    MatchType = "regex"
	MatchContains MatchType = "contains"
)

// Mapping is one resolution rule. Higher priority wins; ties keep the order
// of the rule set.
type Mapping struct {
	ExternalPattern string    `json:"externalPattern"`
	InternalID      string    `json:"internalId"`
	MatchType       MatchType `json:"matchType"`
	Priority        int       `json:"priority"`
	Enabled         bool      `json:"enabled"`
}

type compiledRule struct {
	Mapping
	re *regexp.Regexp
}

type ruleSet struct {
	rules []compiledRule
}

// Resolver evaluates mapping rules against incoming model names. The rule
// set is an atomic snapshot: request handlers resolve against whatever set
// was current when they entered, and Load swaps in a full replacement.
type Resolver struct {
	snapshot atomic.Pointer[ruleSet]
}

// NewResolver creates a resolver with an empty rule set.
func NewResolver() *Resolver {
	r := &Resolver{}
	r.snapshot.Store(&ruleSet{})
	return r
}

// Load compiles and atomically installs a new rule set. Regex rules must
// match the whole input; compile failures reject the whole load so a bad
// admin edit never half-applies.
func (r *Resolver) Load(mappings []Mapping) error {
	rules := make([]compiledRule, 0, len(mappings))
	for _, m := range mappings {
		rule := compiledRule{Mapping: m}
		if m.MatchType == MatchRegex {
			re, err := regexp.Compile("^(?:" + m.ExternalPattern + ")$")
			if err != nil {
				return fmt.Errorf("mapping %q: %w", m.ExternalPattern, err)
			}
			rule.re = re
		}
		rules = append(rules, rule)
	}
	// Stable sort keeps rule-set order for equal priorities.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	r.snapshot.Store(&ruleSet{rules: rules})
	return nil
}

// Mappings returns the current rule set in evaluation order.
func (r *Resolver) Mappings() []Mapping {
	set := r.snapshot.Load()
	out := make([]Mapping, 0, len(set.rules))
	for _, rule := range set.rules {
		out = append(out, rule.Mapping)
	}
	return out
}

// Resolve returns the internal id of the first matching enabled rule.
func (r *Resolver) Resolve(model string) (string, error) {
	set := r.snapshot.Load()
	for _, rule := range set.rules {
		if !rule.Enabled {
			continue
		}
		if rule.matches(model) {
			return rule.InternalID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, model)
}

func (c *compiledRule) matches(model string) bool {
	switch c.MatchType {
	case MatchExact:
		return model == c.ExternalPattern
	case MatchRegex:
		return c.re != nil && c.re.MatchString(model)
	case MatchContains:
		return strings.Contains(strings.ToLower(model), strings.ToLower(c.ExternalPattern))
	default:
		return false
	}
}
