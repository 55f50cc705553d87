// SPDX-License-Identifier: MPL-2.0

// Command revbench manages per-revision benchmark environments: it expands
// the configured environment matrix, provisions isolated interpreter
// environments and installs project revisions into them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"revbench-cli/internal/config"
	"revbench-cli/internal/environ"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"

	// verbose enables debug-level logging
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "revbench",
		Short: "Per-revision benchmark environment manager",
		Long: `revbench provisions isolated Python environments for benchmarking a
project across its revision history. The configured requirement matrix is
expanded into concrete environments, each identified by its tool kind,
interpreter version and pinned dependency set, and project revisions are
built once per revision and installed from a shared build cache.

Configuration lives in ` + config.ConfigFileName + ` in the working directory.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.ConfigFileName+")")

	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(configCmd)
}

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "revbench",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// loadDeps loads the configuration and assembles the collaborator bundle
// shared by every environment of this invocation.
func loadDeps() (environ.Deps, error) {
	path := cfgFile
	if path == "" {
		path = config.ConfigFileName
	}

	cfg, err := config.Load(path)
	if err != nil {
		return environ.Deps{}, err
	}

	confDir, err := os.Getwd()
	if err != nil {
		return environ.Deps{}, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	return environ.Deps{
		Config:  cfg,
		ConfDir: confDir,
		Logger:  newLogger(),
	}, nil
}

// resolveEnvironments turns CLI env specifiers into concrete environments,
// failing when nothing matches.
func resolveEnvironments(ctx context.Context, deps environ.Deps, specifiers []string) ([]*environ.Environment, error) {
	registry := environ.DefaultRegistry()
	envs, err := environ.GetEnvironments(ctx, deps, registry, specifiers)
	if err != nil {
		return nil, err
	}
	if len(envs) == 0 {
		return nil, errors.New("no environments matched; check pythons, matrix and environment_type in the configuration")
	}
	return envs, nil
}
