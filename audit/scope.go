package audit

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/andybalholm/cascadia"
)

var identRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Scope restricts an audit to page subtrees and to a rule set.
type Scope struct {
	// Include lists CSS selectors of subtrees to audit. Empty means the whole page.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// Tags keeps rules carrying at least one of the tags, e.g. wcag2a.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// Rules keeps only the named rules.
	Rules        []string `json:"rules,omitempty" yaml:"rules,omitempty"`
	DisableRules []string `json:"disableRules,omitempty" yaml:"disableRules,omitempty"`
}

// InvalidAuditScopeError reports a malformed Scope.
type InvalidAuditScopeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAuditScopeError) Error() string {
	return fmt.Sprintf("invalid audit scope: %s %q: %s", e.Field, e.Value, e.Reason)
}

// Validate checks every selector, tag and rule id in s.
func (s Scope) Validate() error {
	for field, sels := range map[string][]string{"include": s.Include, "exclude": s.Exclude} {
		for _, sel := range sels {
			if _, err := cascadia.Compile(sel); err != nil {
				return &InvalidAuditScopeError{Field: field, Value: sel, Reason: err.Error()}
			}
		}
	}
	for _, tag := range s.Tags {
		if !identRe.MatchString(tag) {
			return &InvalidAuditScopeError{Field: "tags", Value: tag, Reason: "not a rule tag"}
		}
	}
	for _, lists := range []struct {
		field string
		ids   []string
	}{{"rules", s.Rules}, {"disableRules", s.DisableRules}} {
		for _, id := range lists.ids {
			if !identRe.MatchString(id) {
				return &InvalidAuditScopeError{Field: lists.field, Value: id, Reason: "not a rule id"}
			}
		}
	}
	for _, id := range s.Rules {
		if slices.Contains(s.DisableRules, id) {
			return &InvalidAuditScopeError{Field: "rules", Value: id, Reason: "rule is both enabled and disabled"}
		}
	}
	return nil
}

// Allows reports whether a rule with the given id and tags is in scope.
func (s Scope) Allows(ruleID string, tags []string) bool {
	if slices.Contains(s.DisableRules, ruleID) {
		return false
	}
	if len(s.Rules) > 0 && !slices.Contains(s.Rules, ruleID) {
		return false
	}
	if len(s.Tags) > 0 && !slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(s.Tags, t) }) {
		return false
	}
	return true
}
