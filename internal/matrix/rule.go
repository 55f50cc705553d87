// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"fmt"
	"regexp"
)

type (
	// Target is a flat attribute set describing one candidate combination.
	// A nil value means the attribute is present but unset.
	Target map[string]*string

	// Rule matches Targets key by key. A nil value requires the key to be
	// absent (or nil) in the target; a non-nil value is a regular
	// expression that must match the entire target value.
	Rule map[string]*string
)

// Match reports whether every key of rule matches target. A rule with no
// keys matches everything. Regexp values are anchored at both ends: the
// pattern must consume the whole target value, not a substring.
func Match(target Target, rule Rule) (bool, error) {
	for key, pattern := range rule {
		value, present := target[key]

		if pattern == nil {
			if present && value != nil {
				return false, nil
			}
			continue
		}

		if !present || value == nil {
			return false, nil
		}

		re, err := regexp.Compile(`\A(?:` + *pattern + `)\z`)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q for key %q: %w", *pattern, key, err)
		}
		if !re.MatchString(*value) {
			return false, nil
		}
	}
	return true, nil
}

// String returns a pointer to s. Convenience for building rules and targets.
func String(s string) *string {
	return &s
}
