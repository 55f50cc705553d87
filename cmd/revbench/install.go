// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/spf13/cobra"

	"revbench-cli/internal/environ"
	"revbench-cli/internal/repository"
)

var (
	// installEnvs narrows the install to selected environments.
	installEnvs []string

	installCmd = &cobra.Command{
		Use:   "install <revision>...",
		Short: "Build and install project revisions into the environments",
		Long: `Build and install the given project revisions into every selected
environment. Each revision is built at most once; subsequent installs reuse
the cached build. Installing a revision that is already installed is a
no-op unless the install configuration changed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInstall,
	}
)

func init() {
	installCmd.Flags().StringSliceVarP(&installEnvs, "env", "E", nil, "environment specifier (repeatable)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	deps, err := loadDeps()
	if err != nil {
		return err
	}

	envs, err := resolveEnvironments(cmd.Context(), deps, installEnvs)
	if err != nil {
		return err
	}
	if environ.IsExistingOnly(envs) {
		deps.Logger.Warn("all selected environments are pass-through, nothing to install")
		return nil
	}

	repo, err := repository.NewGit(deps.Config.Repo)
	if err != nil {
		return err
	}

	for _, env := range envs {
		if err := env.Create(cmd.Context()); err != nil {
			return err
		}
		for _, revision := range args {
			if err := env.InstallProject(cmd.Context(), repo, revision); err != nil {
				return err
			}
		}
	}
	return nil
}
