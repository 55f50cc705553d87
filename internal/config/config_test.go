// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"project": "demo",
		"repo": "https://example.org/demo.git",
		"pythons": ["3.11", "3.12"],
		"matrix": {
			"numpy": ["1.26", "2.0"],
			"six": []
		},
		"exclude": [{"python": "3.11", "numpy": "2.0"}],
		"install_timeout": 120
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Project != "demo" {
		t.Errorf("Project = %q", cfg.Project)
	}
	if !reflect.DeepEqual(cfg.Pythons, []string{"3.11", "3.12"}) {
		t.Errorf("Pythons = %v", cfg.Pythons)
	}
	if !reflect.DeepEqual(cfg.Matrix["numpy"], []string{"1.26", "2.0"}) {
		t.Errorf("Matrix[numpy] = %v", cfg.Matrix["numpy"])
	}
	if len(cfg.Matrix["six"]) != 0 {
		t.Errorf("Matrix[six] = %v, want empty axis", cfg.Matrix["six"])
	}
	if cfg.InstallTimeoutSeconds != 120 {
		t.Errorf("InstallTimeoutSeconds = %d", cfg.InstallTimeoutSeconds)
	}
	// Defaults fill unspecified fields.
	if cfg.EnvDir != "env" || cfg.BuildCacheSize != 2 {
		t.Errorf("defaults not applied: env_dir=%q build_cache_size=%d", cfg.EnvDir, cfg.BuildCacheSize)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0]["numpy"] == nil || *cfg.Exclude[0]["numpy"] != "2.0" {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
}

func TestLoadScalarShorthand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"project": "demo",
		"repo": ".",
		"pythons": "3.12",
		"matrix": {"numpy": "1.26"},
		"build_command": "python setup.py build"
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.Pythons, []string{"3.12"}) {
		t.Errorf("Pythons = %v, want scalar promoted to list", cfg.Pythons)
	}
	if !reflect.DeepEqual(cfg.Matrix["numpy"], []string{"1.26"}) {
		t.Errorf("Matrix[numpy] = %v", cfg.Matrix["numpy"])
	}
	if !reflect.DeepEqual(cfg.BuildCommand, []string{"python setup.py build"}) {
		t.Errorf("BuildCommand = %v", cfg.BuildCommand)
	}
}

func TestLoadNullRuleValue(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"project": "demo",
		"repo": ".",
		"exclude": [{"numpy": null}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	value, ok := cfg.Exclude[0]["numpy"]
	if !ok {
		t.Fatal("null-valued rule key dropped during decode")
	}
	if value != nil {
		t.Errorf("rule value = %q, want nil", *value)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "missing project", content: `{"repo": "."}`},
		{name: "missing repo", content: `{"project": "demo"}`},
		{name: "zero timeout", content: `{"project": "demo", "repo": ".", "install_timeout": 0}`},
		{name: "negative cache size", content: `{"project": "demo", "repo": ".", "build_cache_size": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("Load() on missing file succeeded")
	}
}
