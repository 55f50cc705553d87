// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"revbench-cli/internal/buildcache"
	"revbench-cli/internal/config"
	"revbench-cli/internal/matrix"
)

// GetEnvironments resolves environment specifiers into concrete
// Environments, expanding the requirement matrix where needed.
//
// A specifier takes one of the forms "", "<kind>", "<kind>:<python>",
// ":<python>", or the full name of an environment in the matrix. An empty
// specifier expands the configured environment type over the configured
// interpreter versions. Combinations that cannot be provisioned on this
// machine are skipped with a warning.
func GetEnvironments(ctx context.Context, deps Deps, registry *Registry, specifiers []string) ([]*Environment, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg := deps.Config

	// All environments of a run share one build cache so a revision is
	// built at most once across them.
	if deps.Cache == nil {
		envDir, err := cfg.AbsEnvDir()
		if err != nil {
			return nil, err
		}
		deps.Cache = buildcache.New(filepath.Join(envDir, buildCacheDirName), cfg.BuildCacheSize, logger)
	}

	var byName map[string]*Environment
	if len(specifiers) == 0 {
		specifiers = []string{cfg.EnvironmentType}
		if cfg.EnvironmentType == "" {
			logger.Warn("no environment_type specified in configuration")
		}
	} else {
		// Named lookups resolve against the full default matrix.
		all, err := GetEnvironments(ctx, deps, registry, nil)
		if err != nil {
			return nil, err
		}
		byName = make(map[string]*Environment, len(all))
		for _, env := range all {
			byName[env.Name()] = env
		}
	}

	var out []*Environment
	for _, specifier := range specifiers {
		if env, ok := byName[specifier]; ok {
			out = append(out, env)
			continue
		}

		envs, err := environmentsForSpecifier(ctx, deps, registry, specifier, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, envs...)
	}
	return out, nil
}

func environmentsForSpecifier(ctx context.Context, deps Deps, registry *Registry, specifier string, logger *log.Logger) ([]*Environment, error) {
	cfg := deps.Config

	envType := specifier
	var pythons []string
	explicit := false

	if kind, python, found := strings.Cut(specifier, ":"); found {
		envType = kind
		pythons = []string{python}
		explicit = true
	} else if envType == existingToolKind {
		pythons = []string{"same"}
		explicit = true
	} else {
		pythons = cfg.Pythons
	}

	var combos []matrix.Combination
	if envType == existingToolKind {
		// Pass-through environments ignore the requirement matrix.
		for _, python := range pythons {
			combos = append(combos, matrix.Combination{Python: python, Requirements: map[string]string{}})
		}
	} else {
		var err error
		combos, err = matrix.Expand(matrix.Options{
			EnvironmentType:   envType,
			Pythons:           pythons,
			Axes:              cfg.Matrix,
			Exclude:           toRules(cfg.Exclude),
			Include:           cfg.Include,
			ExplicitSelection: explicit,
			ResolveKind:       registry.ResolveKind(cfg),
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
	}

	var out []*Environment
	for _, combo := range combos {
		factory, err := factoryForCombo(registry, cfg, envType, combo.Python)
		if err == nil {
			var env *Environment
			env, err = factory.Construct(ctx, deps, combo.Python, combo.Requirements)
			if err == nil {
				out = append(out, env)
				continue
			}
		}
		if errors.Is(err, ErrEnvironmentUnavailable) {
			logger.Warn("skipping unavailable environment",
				"python", combo.Python, "type", envType, "err", err)
			continue
		}
		return nil, err
	}
	return out, nil
}

func factoryForCombo(registry *Registry, cfg *config.Config, envType, python string) (Factory, error) {
	if envType != "" {
		return registry.Get(envType)
	}
	return registry.FactoryFor(cfg, python)
}

// IsExistingOnly reports whether every environment in the list is a
// pass-through one, i.e. none of them can install project revisions.
func IsExistingOnly(envs []*Environment) bool {
	for _, env := range envs {
		if env.CanInstallProject() {
			return false
		}
	}
	return true
}

func toRules(rules []map[string]*string) []matrix.Rule {
	out := make([]matrix.Rule, len(rules))
	for i, rule := range rules {
		out[i] = matrix.Rule(rule)
	}
	return out
}
