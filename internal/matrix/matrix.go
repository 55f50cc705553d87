// SPDX-License-Identifier: MPL-2.0

// Package matrix expands a declarative requirement matrix into the concrete
// set of environment combinations to materialize. Exclude rules drop
// combinations, include rules add extra ones, and explicitly selected
// interpreter versions are never silently dropped.
package matrix

import (
	"fmt"
	"runtime"
	"sort"

	"github.com/charmbracelet/log"
)

type (
	// Combination is one accepted cell of the expanded matrix: an
	// interpreter version plus the requirement set to install. Requirement
	// values may be empty, meaning the dependency is present but unpinned.
	Combination struct {
		Python       string
		Requirements map[string]string
	}

	// KindResolver looks up the environment kind (tool name) that would be
	// used for the given interpreter version. Resolution may be expensive;
	// Expand memoizes it per version within one call.
	KindResolver func(python string) (string, error)

	// Options drives one expansion.
	Options struct {
		// EnvironmentType fixes the environment kind for every
		// combination. When empty, ResolveKind is consulted per version.
		EnvironmentType string
		// Pythons lists the interpreter versions to expand.
		Pythons []string
		// Axes maps each dependency name to its candidate values. An
		// empty value list is normalized to [""], meaning the axis is
		// present but unpinned.
		Axes map[string][]string
		// Exclude rules drop matching combinations.
		Exclude []Rule
		// Include entries append extra requirement sets. Each must name a
		// "python" version; platform keys inside an entry act as match
		// rules against the current platform.
		Include []map[string]*string
		// ExplicitSelection marks the interpreter versions as explicitly
		// requested: a version whose matrix is entirely excluded still
		// yields a bare combination, and include rules are skipped.
		ExplicitSelection bool
		// ResolveKind resolves the environment kind when EnvironmentType
		// is empty. Lookup failures skip the version with a warning.
		ResolveKind KindResolver
		// SysPlatform overrides the platform key. Defaults to
		// runtime.GOOS.
		SysPlatform string
		// Logger receives warnings about skipped versions. Defaults to
		// the package-level logger.
		Logger *log.Logger
	}

	// ConfigError reports a malformed matrix configuration, such as an
	// include rule without an interpreter version.
	ConfigError struct {
		Msg string
	}
)

func (e *ConfigError) Error() string { return e.Msg }

const (
	pythonKey   = "python"
	envTypeKey  = "environment_type"
	platformKey = "sys_platform"
)

// Expand produces the ordered list of combinations accepted by the matrix.
// For each interpreter version it takes the cartesian product across all
// axes, drops combinations matched by an exclude rule, then (unless the
// selection was explicit) appends include entries matching the current
// platform.
func Expand(opts Options) ([]Combination, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	sysPlatform := opts.SysPlatform
	if sysPlatform == "" {
		sysPlatform = runtime.GOOS
	}

	// Environment kind lookups can be expensive, and several combinations
	// share the same interpreter version.
	kindCache := map[string]string{}
	kindErrs := map[string]error{}
	resolveKind := func(python string) (string, error) {
		if kind, ok := kindCache[python]; ok {
			return kind, nil
		}
		if err, ok := kindErrs[python]; ok {
			return "", err
		}
		if opts.ResolveKind == nil {
			err := fmt.Errorf("no environment kind resolver for python %q", python)
			kindErrs[python] = err
			return "", err
		}
		kind, err := opts.ResolveKind(python)
		if err != nil {
			kindErrs[python] = err
			return "", err
		}
		kindCache[python] = kind
		return kind, nil
	}

	keys := make([]string, 0, len(opts.Axes))
	for key := range opts.Axes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := make([][]string, len(keys))
	for i, key := range keys {
		axis := opts.Axes[key]
		if len(axis) == 0 {
			axis = []string{""}
		}
		values[i] = axis
	}

	var out []Combination

	for _, python := range opts.Pythons {
		emptyMatrix := true

		for combo := range cartesian(values) {
			target := Target{
				pythonKey:   String(python),
				platformKey: String(sysPlatform),
			}
			requirements := make(map[string]string, len(keys))
			for i, key := range keys {
				target[key] = String(combo[i])
				requirements[key] = combo[i]
			}

			if opts.EnvironmentType != "" {
				target[envTypeKey] = String(opts.EnvironmentType)
			} else {
				kind, err := resolveKind(python)
				if err != nil {
					logger.Warn("skipping version, no usable environment kind",
						"python", python, "err", err)
					continue
				}
				target[envTypeKey] = String(kind)
			}

			excluded, err := matchAny(target, opts.Exclude)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}

			emptyMatrix = false
			out = append(out, Combination{Python: python, Requirements: requirements})
		}

		// An explicitly requested interpreter is never silently dropped,
		// even when every matrix cell is excluded.
		if emptyMatrix && opts.ExplicitSelection {
			out = append(out, Combination{Python: python, Requirements: map[string]string{}})
		}
	}

	if opts.ExplicitSelection {
		return out, nil
	}

	for _, include := range opts.Include {
		combo, matched, err := processInclude(include, opts.EnvironmentType, sysPlatform, resolveKind, logger)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, combo)
		}
	}

	return out, nil
}

// processInclude evaluates one include entry. Platform keys inside the entry
// form a match rule against the current platform; the remaining keys (minus
// nil values) become the emitted requirement set.
func processInclude(include map[string]*string, envType, sysPlatform string,
	resolveKind KindResolver, logger *log.Logger,
) (Combination, bool, error) {
	pythonVal, ok := include[pythonKey]
	if !ok || pythonVal == nil {
		return Combination{}, false, &ConfigError{
			Msg: fmt.Sprintf("include rule %v does not specify a python version", formatInclude(include)),
		}
	}
	python := *pythonVal

	target := Target{platformKey: String(sysPlatform)}
	if envType != "" {
		target[envTypeKey] = String(envType)
	} else {
		kind, err := resolveKind(python)
		if err != nil {
			logger.Warn("skipping include, no usable environment kind",
				"python", python, "err", err)
			return Combination{}, false, nil
		}
		target[envTypeKey] = String(kind)
	}

	rule := Rule{}
	requirements := make(map[string]string)
	for key, value := range include {
		switch key {
		case envTypeKey, platformKey:
			rule[key] = value
		case pythonKey:
			// carried on the combination itself
		default:
			if value != nil {
				requirements[key] = *value
			}
		}
	}

	matched, err := Match(target, rule)
	if err != nil {
		return Combination{}, false, err
	}
	if !matched {
		return Combination{}, false, nil
	}
	return Combination{Python: python, Requirements: requirements}, true, nil
}

func matchAny(target Target, rules []Rule) (bool, error) {
	for _, rule := range rules {
		matched, err := Match(target, rule)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// cartesian yields every combination of one value per axis, in axis order.
// With no axes it yields a single empty combination.
func cartesian(values [][]string) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		indices := make([]int, len(values))
		for {
			combo := make([]string, len(values))
			for i, idx := range indices {
				combo[i] = values[i][idx]
			}
			if !yield(combo) {
				return
			}

			pos := len(indices) - 1
			for pos >= 0 {
				indices[pos]++
				if indices[pos] < len(values[pos]) {
					break
				}
				indices[pos] = 0
				pos--
			}
			if pos < 0 {
				return
			}
		}
	}
}

func formatInclude(include map[string]*string) string {
	keys := make([]string, 0, len(include))
	for key := range include {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	s := "{"
	for i, key := range keys {
		if i > 0 {
			s += ", "
		}
		if include[key] == nil {
			s += key + ": null"
		} else {
			s += fmt.Sprintf("%s: %q", key, *include[key])
		}
	}
	return s + "}"
}
