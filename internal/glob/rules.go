package glob

import (
	"fmt"

	"github.com/danieljhkim/stagerun/internal/config"
)

// RuleMatch pairs a configured rule with the staged paths it selected.
type RuleMatch struct {
	// Index is the rule's position in the configuration.
	Index int

	Rule  config.Rule
	Paths []string
}

// MatchRules compiles every rule's pattern and filters paths through it.
//
// All patterns are compiled before any path is matched so a malformed pattern
// anywhere in the table fails the whole call. Rules that match nothing are
// omitted; the remaining matches keep configuration order.
func MatchRules(rules []config.Rule, paths []string) ([]RuleMatch, error) {
	compiled := make([]*Pattern, len(rules))
	for i, rule := range rules {
		p, err := Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		compiled[i] = p
	}

	matches := make([]RuleMatch, 0, len(rules))
	for i, p := range compiled {
		selected := p.Filter(paths)
		if len(selected) == 0 {
			continue
		}
		matches = append(matches, RuleMatch{Index: i, Rule: rules[i], Paths: selected})
	}

	return matches, nil
}

// Union returns every path selected by at least one match, in first-seen order.
func Union(matches []RuleMatch) []string {
	seen := make(map[string]bool)
	var union []string
	for _, m := range matches {
		for _, p := range m.Paths {
			if !seen[p] {
				seen[p] = true
				union = append(union, p)
			}
		}
	}
	return union
}
