// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"revbench-cli/internal/procutil"
)

// venvToolKind tags environments backed by the standard library venv module.
const venvToolKind = "venv"

var versionSpecRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}$`)

type (
	// VenvTool provisions environments with "python -m venv" and installs
	// the requirement set with pip.
	VenvTool struct{}

	// VenvFactory constructs venv-backed environments for plain version
	// specifiers such as "3.12".
	VenvFactory struct{}
)

var _ Tool = (*VenvTool)(nil)
var _ Factory = (*VenvFactory)(nil)

// ToolKind implements Factory.
func (f *VenvFactory) ToolKind() string { return venvToolKind }

// Matches accepts interpreter version specifiers like "3", "3.12" or
// "3.12.1".
func (f *VenvFactory) Matches(pythonSpec string) bool {
	if !versionSpecRe.MatchString(pythonSpec) {
		return false
	}
	_, err := semver.NewVersion(pythonSpec)
	return err == nil
}

// Construct implements Factory. The combination is unavailable when no
// matching base interpreter is on PATH.
func (f *VenvFactory) Construct(ctx context.Context, deps Deps, pythonSpec string, requirements map[string]string) (*Environment, error) {
	if !f.Matches(pythonSpec) {
		return nil, fmt.Errorf("venv cannot handle python spec %q: %w", pythonSpec, ErrEnvironmentUnavailable)
	}
	if _, err := findBaseInterpreter(pythonSpec); err != nil {
		return nil, fmt.Errorf("no python %s interpreter found: %w", pythonSpec, ErrEnvironmentUnavailable)
	}
	return NewEnvironment(deps, &VenvTool{}, pythonSpec, requirements)
}

// Kind implements Tool.
func (t *VenvTool) Kind() string { return venvToolKind }

// CheckPresence implements Tool with the standard on-disk layout probe.
func (t *VenvTool) CheckPresence(ctx context.Context, env *Environment) bool {
	return env.checkPresenceDefault(ctx)
}

// CanInstallProject implements Tool.
func (t *VenvTool) CanInstallProject() bool { return true }

// Setup creates the virtual environment and installs the requirement set.
func (t *VenvTool) Setup(ctx context.Context, env *Environment) error {
	base, err := findBaseInterpreter(env.Python())
	if err != nil {
		return fmt.Errorf("no python %s interpreter found: %w", env.Python(), ErrEnvironmentUnavailable)
	}

	timeout := time.Duration(env.deps.Config.InstallTimeoutSeconds) * time.Second
	if _, err := procutil.CheckOutput(ctx, base, []string{"-m", "venv", env.Path()}, procutil.Options{
		Timeout: timeout,
	}); err != nil {
		return fmt.Errorf("failed to create venv: %w", err)
	}

	specs := requirementSpecs(env.Requirements())
	if len(specs) == 0 {
		return nil
	}
	args := append([]string{"-mpip", "install", "--upgrade"}, specs...)
	if _, err := t.Run(ctx, env, "python", args, procutil.Options{Timeout: timeout}); err != nil {
		return fmt.Errorf("failed to install requirements: %w", err)
	}
	return nil
}

// FindExecutable resolves an executable from the environment's bin
// directories only; the host PATH is not consulted.
func (t *VenvTool) FindExecutable(env *Environment, name string) (string, error) {
	return procutil.Which(name, binDirs(env.Path()))
}

// Run executes an environment executable with the environment's variables
// set, its bin directories prepended to PATH, and pip forced out of user
// mode (--user from a pip config file is incompatible with virtualenvs).
func (t *VenvTool) Run(ctx context.Context, env *Environment, name string, args []string, opts procutil.Options) (string, error) {
	exe, err := t.FindExecutable(env, name)
	if err != nil {
		return "", err
	}

	base := opts.Env
	if base == nil {
		base = os.Environ()
	}
	merged := procutil.MergeEnv(base, env.EnvVars())
	merged = procutil.PrependPath(merged, binDirs(env.Path()))
	merged = append(merged, "PIP_USER=false")
	opts.Env = merged

	return procutil.CheckOutput(ctx, exe, args, opts)
}

// requirementSpecs renders a requirement set as pip install arguments, in
// sorted order for reproducible installs.
func requirementSpecs(requirements map[string]string) []string {
	keys := make([]string, 0, len(requirements))
	for key := range requirements {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	specs := make([]string, 0, len(keys))
	for _, key := range keys {
		if value := requirements[key]; value != "" {
			specs = append(specs, key+"=="+value)
		} else {
			specs = append(specs, key)
		}
	}
	return specs
}

// findBaseInterpreter locates a host interpreter for the version spec. Only
// version-qualified executables are accepted: a "3.12.1" spec resolves
// "python3.12.1" or "python3.12", never a plain "python".
func findBaseInterpreter(pythonSpec string) (string, error) {
	candidates := []string{"python" + pythonSpec}
	if v, err := semver.NewVersion(pythonSpec); err == nil {
		short := fmt.Sprintf("python%d.%d", v.Major(), v.Minor())
		if short != candidates[0] {
			candidates = append(candidates, short)
		}
	}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no interpreter matching %q on PATH", pythonSpec)
}

// binDirs returns the executable directories of a standard venv layout.
func binDirs(envPath string) []string {
	if runtime.GOOS == "windows" {
		return []string{
			envPath,
			envPath + string(os.PathSeparator) + "Scripts",
			envPath + string(os.PathSeparator) + "bin",
		}
	}
	return []string{envPath + string(os.PathSeparator) + "bin"}
}
