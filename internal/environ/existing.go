// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"revbench-cli/internal/procutil"
)

// existingToolKind tags pass-through environments wrapping a host
// interpreter. Nothing is provisioned and project revisions cannot be
// installed.
const existingToolKind = "existing"

type (
	// ExistingTool wraps an already-installed host interpreter.
	ExistingTool struct {
		executable string
		version    string
	}

	// ExistingFactory constructs pass-through environments from an
	// executable name or path, or the "same" shorthand.
	ExistingFactory struct{}
)

var _ Tool = (*ExistingTool)(nil)
var _ Factory = (*ExistingFactory)(nil)

// ToolKind implements Factory.
func (f *ExistingFactory) ToolKind() string { return existingToolKind }

// Matches accepts "same" and any interpreter resolvable on PATH.
func (f *ExistingFactory) Matches(pythonSpec string) bool {
	if pythonSpec == "same" {
		return true
	}
	_, err := exec.LookPath(pythonSpec)
	return err == nil
}

// Construct resolves the host interpreter and probes its version. An
// unresolvable or unresponsive interpreter makes the combination
// unavailable.
func (f *ExistingFactory) Construct(ctx context.Context, deps Deps, pythonSpec string, requirements map[string]string) (*Environment, error) {
	spec := pythonSpec
	if spec == "same" {
		spec = "python3"
	}
	executable, err := exec.LookPath(spec)
	if err != nil {
		return nil, fmt.Errorf("interpreter %q not found: %w", pythonSpec, ErrEnvironmentUnavailable)
	}
	executable, err = filepath.Abs(executable)
	if err != nil {
		return nil, fmt.Errorf("interpreter %q not resolvable: %w", pythonSpec, ErrEnvironmentUnavailable)
	}

	version, err := probeInterpreterVersion(ctx, executable)
	if err != nil {
		return nil, fmt.Errorf("interpreter %q did not respond: %w", pythonSpec, ErrEnvironmentUnavailable)
	}

	tool := &ExistingTool{executable: executable, version: version}

	// The executable path, not the version, identifies the environment:
	// two interpreters of the same version are still distinct
	// environments.
	namePython := strings.ReplaceAll(executable, string(os.PathSeparator), "_")
	return NewEnvironment(deps, tool, namePython, map[string]string{})
}

// Kind implements Tool.
func (t *ExistingTool) Kind() string { return existingToolKind }

// CheckPresence implements Tool. A host interpreter that constructed
// successfully is present by definition.
func (t *ExistingTool) CheckPresence(ctx context.Context, env *Environment) bool { return true }

// Setup implements Tool as a no-op.
func (t *ExistingTool) Setup(ctx context.Context, env *Environment) error { return nil }

// CanInstallProject implements Tool: revisions cannot be installed into an
// environment revbench does not own.
func (t *ExistingTool) CanInstallProject() bool { return false }

// Version returns the interpreter version detected at construction.
func (t *ExistingTool) Version() string { return t.version }

// Executable returns the wrapped interpreter path.
func (t *ExistingTool) Executable() string { return t.executable }

// FindExecutable resolves "python" to the wrapped interpreter and anything
// else against the host PATH.
func (t *ExistingTool) FindExecutable(env *Environment, name string) (string, error) {
	if name == "python" {
		return t.executable, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("executable %q not found: %w", name, os.ErrNotExist)
	}
	return path, nil
}

// Run executes a host executable with the environment's variables applied.
func (t *ExistingTool) Run(ctx context.Context, env *Environment, name string, args []string, opts procutil.Options) (string, error) {
	exe, err := t.FindExecutable(env, name)
	if err != nil {
		return "", err
	}

	base := opts.Env
	if base == nil {
		base = os.Environ()
	}
	opts.Env = procutil.MergeEnv(base, env.EnvVars())

	return procutil.CheckOutput(ctx, exe, args, opts)
}

// probeInterpreterVersion asks the interpreter for its major.minor version.
func probeInterpreterVersion(ctx context.Context, executable string) (string, error) {
	out, err := procutil.CheckOutput(ctx, executable, []string{
		"-c",
		`import sys; print(str(sys.version_info[0]) + "." + str(sys.version_info[1]))`,
	}, procutil.Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
