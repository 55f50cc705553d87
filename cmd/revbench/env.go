// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// createParallel bounds how many environments are provisioned at once.
	createParallel int

	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Inspect and provision benchmark environments",
	}

	envListCmd = &cobra.Command{
		Use:   "list [specifier...]",
		Short: "List the environments the configuration expands to",
		Long: `List the environments the requirement matrix expands to.

Specifiers narrow the listing: "venv" expands one kind over the configured
interpreter versions, "venv:3.12" names a single combination, and a full
environment name selects exactly that environment.`,
		RunE: runEnvList,
	}

	envCreateCmd = &cobra.Command{
		Use:   "create [specifier...]",
		Short: "Provision the selected environments",
		RunE:  runEnvCreate,
	}
)

func init() {
	envCreateCmd.Flags().IntVarP(&createParallel, "parallel", "j", 4, "number of environments to provision concurrently")

	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envCreateCmd)
}

func runEnvList(cmd *cobra.Command, args []string) error {
	deps, err := loadDeps()
	if err != nil {
		return err
	}

	envs, err := resolveEnvironments(cmd.Context(), deps, args)
	if err != nil {
		return err
	}

	for _, env := range envs {
		present := "absent"
		if env.CheckPresence(cmd.Context()) {
			present = "present"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", env.Name(), formatRequirements(env.Requirements()), present)
	}
	return nil
}

func runEnvCreate(cmd *cobra.Command, args []string) error {
	deps, err := loadDeps()
	if err != nil {
		return err
	}

	envs, err := resolveEnvironments(cmd.Context(), deps, args)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(createParallel)
	for _, env := range envs {
		g.Go(func() error {
			deps.Logger.Info("creating environment", "env", env.Name())
			if err := env.Create(ctx); err != nil {
				return err
			}
			deps.Logger.Info("environment ready", "env", env.Name(), "dir", env.Path())
			return nil
		})
	}
	return g.Wait()
}

func formatRequirements(requirements map[string]string) string {
	if len(requirements) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(requirements))
	for key := range requirements {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if version := requirements[key]; version != "" {
			parts = append(parts, key+"="+version)
		} else {
			parts = append(parts, key)
		}
	}
	return strings.Join(parts, ",")
}
