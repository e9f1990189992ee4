// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/zipdoctor

package zipdoctor

import (
	"fmt"

	"github.com/woozymasta/pathrules"
)

// pathMatcher holds compiled path rules for entry or file selection.
type pathMatcher struct {
	matcher *pathrules.Matcher
}

// newPathMatcher compiles path rules. It returns nil matcher for an empty rule set.
func newPathMatcher(rules []pathrules.Rule, opts pathrules.MatcherOptions) (*pathMatcher, error) {
	rules = normalizePathRules(rules)
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidPathRules, err)
	}

	return &pathMatcher{matcher: matcher}, nil
}

// normalizePathRules normalizes rule patterns and drops empty patterns.
func normalizePathRules(rules []pathrules.Rule) []pathrules.Rule {
	normalized := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		pattern := normalizePathForMatching(rule.Pattern)
		if pattern == "" {
			continue
		}

		normalized = append(normalized, pathrules.Rule{
			Action:  rule.Action,
			Pattern: pattern,
		})
	}

	return normalized
}

// Match reports whether path is included by the rule set.
// A nil matcher matches nothing.
func (m *pathMatcher) Match(p string, isDir bool) bool {
	if m == nil || m.matcher == nil {
		return false
	}

	candidate := NormalizePath(p)
	if candidate == "" {
		return false
	}

	return m.matcher.Included(candidate, isDir)
}

// selects reports whether a filter keeps path. A nil filter keeps everything.
func (m *pathMatcher) selects(p string, isDir bool) bool {
	if m == nil {
		return true
	}

	return m.Match(p, isDir)
}
