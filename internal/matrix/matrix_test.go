// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"testing"
)

func TestExpandAppliesExcludes(t *testing.T) {
	t.Parallel()

	got, err := Expand(Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.12"},
		Axes: map[string][]string{
			"A": {"1", "2"},
			"B": {},
		},
		Exclude: []Rule{{"A": String("1")}},
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	want := []Combination{
		{Python: "3.12", Requirements: map[string]string{"A": "2", "B": ""}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand() = %+v, want %+v", got, want)
	}
}

func TestExpandBareFallbackOnExplicitSelection(t *testing.T) {
	t.Parallel()

	opts := Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.12"},
		Axes:            map[string][]string{"A": {"1"}},
		Exclude:         []Rule{{"python": String(".*")}},
	}

	got, err := Expand(opts)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fully excluded matrix yielded %+v, want none", got)
	}

	opts.ExplicitSelection = true
	got, err = Expand(opts)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	want := []Combination{{Python: "3.12", Requirements: map[string]string{}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand() = %+v, want bare fallback %+v", got, want)
	}
}

func TestExpandCartesianProduct(t *testing.T) {
	t.Parallel()

	got, err := Expand(Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.11", "3.12"},
		Axes: map[string][]string{
			"numpy": {"1.26", "2.0"},
			"six":   {""},
		},
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("Expand() yielded %d combinations, want 4", len(got))
	}

	var summary []string
	for _, combo := range got {
		summary = append(summary, fmt.Sprintf("%s/numpy=%s", combo.Python, combo.Requirements["numpy"]))
	}
	sort.Strings(summary)
	want := []string{"3.11/numpy=1.26", "3.11/numpy=2.0", "3.12/numpy=1.26", "3.12/numpy=2.0"}
	if !reflect.DeepEqual(summary, want) {
		t.Errorf("combinations = %v, want %v", summary, want)
	}
}

func TestExpandIncludeRequiresPython(t *testing.T) {
	t.Parallel()

	_, err := Expand(Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.12"},
		Include:         []map[string]*string{{"numpy": String("2.0")}},
	})

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expand() error = %v, want *ConfigError", err)
	}
}

func TestExpandIncludePlatformKeysActAsRules(t *testing.T) {
	t.Parallel()

	include := map[string]*string{
		"python":       String("3.12"),
		"sys_platform": String("linux"),
		"numpy":        String("2.0"),
		"scipy":        nil,
	}

	got, err := Expand(Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.12"},
		Include:         []map[string]*string{include},
		SysPlatform:     "linux",
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	// One cell from the (empty) matrix plus the include.
	if len(got) != 2 {
		t.Fatalf("Expand() yielded %d combinations, want 2", len(got))
	}
	last := got[len(got)-1]
	if last.Python != "3.12" || last.Requirements["numpy"] != "2.0" {
		t.Errorf("include combination = %+v", last)
	}
	if _, ok := last.Requirements["scipy"]; ok {
		t.Error("nil-valued include key was not pruned")
	}
	if _, ok := last.Requirements["sys_platform"]; ok {
		t.Error("platform key leaked into requirements")
	}

	// A non-matching platform drops the include.
	got, err = Expand(Options{
		EnvironmentType: "venv",
		Pythons:         []string{"3.12"},
		Include:         []map[string]*string{include},
		SysPlatform:     "windows",
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("include matched on wrong platform: %+v", got)
	}
}

func TestExpandIncludesSkippedOnExplicitSelection(t *testing.T) {
	t.Parallel()

	got, err := Expand(Options{
		EnvironmentType:   "venv",
		Pythons:           []string{"3.12"},
		Include:           []map[string]*string{{"python": String("3.12"), "numpy": String("2.0")}},
		ExplicitSelection: true,
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("includes processed despite explicit selection: %+v", got)
	}
}

func TestExpandResolverMemoizedAndFailureSkips(t *testing.T) {
	t.Parallel()

	calls := map[string]int{}
	resolver := func(python string) (string, error) {
		calls[python]++
		if python == "3.11" {
			return "", errors.New("no usable tool")
		}
		return "venv", nil
	}

	got, err := Expand(Options{
		Pythons:     []string{"3.11", "3.12"},
		Axes:        map[string][]string{"numpy": {"1.26", "2.0"}},
		ResolveKind: resolver,
	})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	// 3.11 skipped with a warning, 3.12 fully expanded.
	if len(got) != 2 {
		t.Fatalf("Expand() yielded %d combinations, want 2", len(got))
	}
	for _, combo := range got {
		if combo.Python != "3.12" {
			t.Errorf("unexpected python %q in results", combo.Python)
		}
	}

	// One lookup per version regardless of matrix size.
	if calls["3.11"] != 1 || calls["3.12"] != 1 {
		t.Errorf("resolver calls = %v, want one per version", calls)
	}
}
