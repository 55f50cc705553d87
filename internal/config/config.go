// SPDX-License-Identifier: MPL-2.0

// Package config loads the revbench project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ConfigFileName is the default config file searched in the working
// directory.
const ConfigFileName = "revbench.conf.json"

// Config describes the benchmarked project and its environment matrix.
type Config struct {
	// Project is the installable name of the benchmarked project.
	Project string `mapstructure:"project" json:"project"`
	// Repo is the location of the project's git repository.
	Repo string `mapstructure:"repo" json:"repo"`
	// RepoSubdir is the package root inside the repository, when it is
	// not the repository root.
	RepoSubdir string `mapstructure:"repo_subdir" json:"repo_subdir"`
	// EnvDir is the parent directory holding all environments.
	EnvDir string `mapstructure:"env_dir" json:"env_dir"`
	// EnvironmentType fixes the environment kind ("venv", "existing").
	// Empty autodetects per interpreter version.
	EnvironmentType string `mapstructure:"environment_type" json:"environment_type"`
	// Pythons lists the interpreter versions to benchmark with.
	Pythons []string `mapstructure:"pythons" json:"pythons"`
	// Matrix maps dependency names to candidate versions. A scalar value
	// is treated as a one-element list, an empty list as "axis present
	// but unpinned".
	Matrix map[string][]string `mapstructure:"matrix" json:"matrix"`
	// Exclude rules drop matrix combinations.
	Exclude []map[string]*string `mapstructure:"exclude" json:"exclude"`
	// Include entries add extra combinations.
	Include []map[string]*string `mapstructure:"include" json:"include"`
	// BuildCommand, InstallCommand and UninstallCommand override the
	// default pip-based project commands. nil keeps the default; an
	// explicit empty list disables the step.
	BuildCommand     []string `mapstructure:"build_command" json:"build_command"`
	InstallCommand   []string `mapstructure:"install_command" json:"install_command"`
	UninstallCommand []string `mapstructure:"uninstall_command" json:"uninstall_command"`
	// InstallTimeoutSeconds bounds every build/install/uninstall command.
	InstallTimeoutSeconds int `mapstructure:"install_timeout" json:"install_timeout"`
	// BuildCacheSize bounds the number of cached builds kept per
	// environment.
	BuildCacheSize int `mapstructure:"build_cache_size" json:"build_cache_size"`
}

// DefaultConfig returns the built-in defaults applied under any loaded file.
func DefaultConfig() *Config {
	return &Config{
		EnvDir:                "env",
		InstallTimeoutSeconds: 600,
		BuildCacheSize:        2,
	}
}

// Load reads the configuration from path, or from ./revbench.conf.json when
// path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("env_dir", defaults.EnvDir)
	v.SetDefault("install_timeout", defaults.InstallTimeoutSeconds)
	v.SetDefault("build_cache_size", defaults.BuildCacheSize)

	if path == "" {
		path = ConfigFileName
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s not found: %w", path, err)
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(scalarToSliceHook())); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks constraints the decoder cannot express.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("missing required field %q", "project")
	}
	if c.Repo == "" {
		return fmt.Errorf("missing required field %q", "repo")
	}
	if c.EnvDir == "" {
		return fmt.Errorf("field %q must not be empty", "env_dir")
	}
	if c.InstallTimeoutSeconds <= 0 {
		return fmt.Errorf("field %q must be positive", "install_timeout")
	}
	if c.BuildCacheSize < 0 {
		return fmt.Errorf("field %q must not be negative", "build_cache_size")
	}
	return nil
}

// AbsEnvDir resolves the environment parent directory against the working
// directory.
func (c *Config) AbsEnvDir() (string, error) {
	if filepath.IsAbs(c.EnvDir) {
		return c.EnvDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve env_dir: %w", err)
	}
	return filepath.Join(cwd, c.EnvDir), nil
}

// scalarToSliceHook lets config authors write a single string where a list
// of strings is expected, matching the matrix and command shorthand forms.
func scalarToSliceHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String {
			return data, nil
		}
		if to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		return []string{data.(string)}, nil
	}
}
