// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"context"
	"errors"

	"revbench-cli/internal/procutil"
)

// ErrEnvironmentUnavailable marks a tool kind / interpreter combination that
// cannot be provisioned on this machine. Callers iterating over candidate
// kinds treat it as "try the next one", never as a fatal error.
var ErrEnvironmentUnavailable = errors.New("environment unavailable")

type (
	// Tool is the closed capability interface behind every environment
	// kind. Implementations provision and probe one kind of environment;
	// the Environment aggregate drives the lifecycle around them.
	Tool interface {
		// Kind returns the tool kind tag ("venv", "existing").
		Kind() string
		// CheckPresence probes whether the environment is already
		// materialized and healthy.
		CheckPresence(ctx context.Context, env *Environment) bool
		// Setup materializes the environment on disk and installs its
		// requirement set.
		Setup(ctx context.Context, env *Environment) error
		// FindExecutable resolves an executable inside the environment.
		FindExecutable(env *Environment, name string) (string, error)
		// Run executes an environment executable with the environment's
		// variable namespace applied.
		Run(ctx context.Context, env *Environment, name string, args []string, opts procutil.Options) (string, error)
		// CanInstallProject reports whether project revisions can be
		// installed into this kind of environment.
		CanInstallProject() bool
	}

	// Factory constructs environments of one tool kind. Factories are
	// registered explicitly in a Registry at startup; there is no global
	// plugin discovery.
	Factory interface {
		// ToolKind returns the kind tag this factory handles.
		ToolKind() string
		// Matches reports whether this factory can handle the given
		// interpreter specifier.
		Matches(pythonSpec string) bool
		// Construct builds the Environment for the given specifier and
		// requirement set. Returns an error wrapping
		// ErrEnvironmentUnavailable when the combination cannot be
		// provisioned here.
		Construct(ctx context.Context, deps Deps, pythonSpec string, requirements map[string]string) (*Environment, error)
	}
)
