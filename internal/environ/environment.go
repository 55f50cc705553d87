// SPDX-License-Identifier: MPL-2.0

package environ

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"revbench-cli/internal/buildcache"
	"revbench-cli/internal/config"
	"revbench-cli/internal/interp"
	"revbench-cli/internal/jsonfile"
	"revbench-cli/internal/procutil"
)

const (
	// envPrefix prefixes every environment variable the lifecycle exposes
	// to build, install and uninstall commands.
	envPrefix = "REVBENCH_"
	// markerVar is set to "true" in every command's environment so
	// project build scripts can detect they run under revbench.
	markerVar = "REVBENCH"

	infoFileName   = "revbench-env-info.json"
	statusFileName = "revbench-install-status.json"

	infoSchemaVersion   = 1
	statusSchemaVersion = 1

	buildCacheDirName = "build-cache"
)

type (
	// Deps bundles the collaborators an Environment needs. One Deps value
	// is shared by every environment of a run so that they share the
	// build cache.
	Deps struct {
		Config *config.Config
		// Cache is the revision-keyed build cache shared across all
		// environments of the project.
		Cache *buildcache.Cache
		// ConfDir is the invoking working directory, exposed to
		// commands. Defaults to os.Getwd.
		ConfDir string
		Logger  *log.Logger
	}

	// Repository is the version-control collaborator used to materialize
	// project revisions.
	Repository interface {
		// Checkout places the working tree of the revision into dir.
		Checkout(ctx context.Context, dir, commitHash string) error
		// DecoratedHash returns a short display string for the revision.
		DecoratedHash(ctx context.Context, commitHash string, length int) (string, error)
	}

	// envInfo is the persisted environment descriptor.
	envInfo struct {
		ToolKind     string            `json:"tool_kind"`
		Python       string            `json:"python"`
		Requirements map[string]string `json:"requirements"`
	}

	// installStatus records which revision is installed and under which
	// configuration checksum. A checksum mismatch voids the record.
	installStatus struct {
		CommitHash      string `json:"commit_hash"`
		InstallChecksum string `json:"install_checksum"`
	}

	// Environment is a single isolated execution environment: a tool
	// kind, an interpreter version and a pinned requirement set, rooted
	// at a directory derived from its identity hash.
	Environment struct {
		deps      Deps
		tool      Tool
		python    string
		reqs      map[string]string
		name      string
		hash      string
		path      string
		envDir    string
		buildRoot string
		envVars   map[string]string
		isSetup   bool
		logger    *log.Logger
	}
)

// NewEnvironment assembles an Environment for the given tool, interpreter
// specifier and requirement set. Nothing is materialized on disk until
// Create.
func NewEnvironment(deps Deps, tool Tool, python string, requirements map[string]string) (*Environment, error) {
	if requirements == nil {
		requirements = map[string]string{}
	}
	envDir, err := deps.Config.AbsEnvDir()
	if err != nil {
		return nil, err
	}
	confDir := deps.ConfDir
	if confDir == "" {
		confDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	name := EnvName(tool.Kind(), python, requirements)
	hash := HashName(name)
	path := filepath.Join(envDir, hash)

	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	if deps.Cache == nil {
		deps.Cache = buildcache.New(filepath.Join(envDir, buildCacheDirName), deps.Config.BuildCacheSize, logger)
	}

	env := &Environment{
		deps:      deps,
		tool:      tool,
		python:    python,
		reqs:      requirements,
		name:      name,
		hash:      hash,
		path:      path,
		envDir:    envDir,
		buildRoot: filepath.Join(path, "project"),
		logger:    logger,
	}

	env.envVars = map[string]string{
		markerVar:               "true",
		envPrefix + "PROJECT":   deps.Config.Project,
		envPrefix + "CONF_DIR":  confDir,
		envPrefix + "ENV_NAME":  name,
		envPrefix + "ENV_DIR":   path,
		envPrefix + "ENV_TYPE":  tool.Kind(),
	}

	// Pick up a surviving installation from an earlier run.
	env.setCommitHash(env.installedCommitHash())

	return env, nil
}

// Name returns the unique human-readable environment name.
func (e *Environment) Name() string { return e.name }

// Hash returns the identity digest naming the environment directory.
func (e *Environment) Hash() string { return e.hash }

// Path returns the environment's directory.
func (e *Environment) Path() string { return e.path }

// Python returns the interpreter version specifier.
func (e *Environment) Python() string { return e.python }

// ToolKind returns the environment kind tag.
func (e *Environment) ToolKind() string { return e.tool.Kind() }

// Requirements returns the pinned requirement set.
func (e *Environment) Requirements() map[string]string { return e.reqs }

// BuildRoot returns the directory revisions are checked out into.
func (e *Environment) BuildRoot() string { return e.buildRoot }

// CanInstallProject reports whether project revisions can be installed.
func (e *Environment) CanInstallProject() bool { return e.tool.CanInstallProject() }

// InstalledCommitHash returns the revision currently recorded as installed,
// or "" when nothing valid is installed.
func (e *Environment) InstalledCommitHash() string { return e.installedCommitHash() }

// CheckPresence reports whether the environment already exists on disk and
// is healthy.
func (e *Environment) CheckPresence(ctx context.Context) bool {
	return e.tool.CheckPresence(ctx, e)
}

// checkPresenceDefault is the stock presence probe used by tools with a
// standard on-disk layout: the persisted descriptor must match the expected
// identity, and the interpreter must resolve and respond.
func (e *Environment) checkPresenceDefault(ctx context.Context) bool {
	if info, err := os.Stat(e.envDir); err != nil || !info.IsDir() {
		return false
	}

	var info envInfo
	if err := jsonfile.Load(filepath.Join(e.path, infoFileName), &info, infoSchemaVersion); err != nil {
		return false
	}
	if info.ToolKind != e.tool.Kind() || info.Python != e.python || !sameRequirements(info.Requirements, e.reqs) {
		return false
	}

	for _, executable := range []string{"pip", "python"} {
		if _, err := e.tool.FindExecutable(e, executable); err != nil {
			return false
		}
	}
	if _, err := e.tool.Run(ctx, e, "python", []string{"-c", "pass"}, procutil.Options{}); err != nil {
		return false
	}
	return true
}

// Create materializes the environment on disk. A second call on an already
// set-up Environment is a no-op. When the presence check fails, any existing
// directory is destroyed and the environment is provisioned from scratch;
// setup failure removes the partial directory and propagates.
func (e *Environment) Create(ctx context.Context) error {
	if e.isSetup {
		return nil
	}

	if !e.CheckPresence(ctx) {
		if _, err := os.Stat(e.path); err == nil {
			if err := os.RemoveAll(e.path); err != nil {
				return fmt.Errorf("failed to remove stale environment %s: %w", e.name, err)
			}
		}

		// Several environments share the parent directory and may be
		// created in parallel; MkdirAll tolerates the concurrent-mkdir
		// race.
		if err := os.MkdirAll(e.envDir, 0o755); err != nil {
			return fmt.Errorf("failed to create environment parent directory: %w", err)
		}

		if err := e.tool.Setup(ctx, e); err != nil {
			e.logger.Error("failure creating environment", "env", e.name)
			if rmErr := os.RemoveAll(e.path); rmErr != nil {
				e.logger.Warn("failed to remove partial environment", "env", e.name, "err", rmErr)
			}
			return fmt.Errorf("failed to set up environment %s: %w", e.name, err)
		}
	}

	// Pass-through environments own no directory; there is nothing to
	// describe on disk.
	if e.tool.CanInstallProject() {
		if err := e.saveInfoFile(); err != nil {
			return err
		}
	}
	e.isSetup = true
	return nil
}

// InstallProject builds and installs the given revision of the benchmarked
// project into the environment, uninstalling any previous copy first. When
// the persisted install status already names the revision (and the install
// configuration is unchanged), nothing is done.
func (e *Environment) InstallProject(ctx context.Context, repo Repository, commitHash string) error {
	if !e.tool.CanInstallProject() {
		return nil
	}

	buildDir := e.buildRoot
	if sub := e.deps.Config.RepoSubdir; sub != "" {
		buildDir = filepath.Join(e.buildRoot, sub)
	}

	if installed := e.installedCommitHash(); installed == commitHash && installed != "" {
		e.setCommitHash(installed)
		e.setBuildDirs("", "")
		return nil
	}

	// Checkout first so that uninstall commands can reach the build tree
	// (Makefile-driven projects need it).
	if err := e.checkoutProject(ctx, repo, commitHash); err != nil {
		return err
	}
	e.setBuildDirs(buildDir, "")

	if err := e.uninstallProject(ctx); err != nil {
		return err
	}

	cacheDir, ok := e.deps.Cache.Get(commitHash)
	var staging string
	if ok {
		e.setBuildDirs(buildDir, cacheDir)
	} else {
		var err error
		staging, err = e.deps.Cache.Create(commitHash)
		if err != nil {
			return err
		}
		e.setBuildDirs(buildDir, staging)
		if err := e.buildProject(ctx, repo, commitHash, buildDir); err != nil {
			return err
		}
	}

	if err := e.installProjectCommands(ctx, repo, commitHash, buildDir); err != nil {
		return err
	}

	// Only a completed install promotes this builder's staging dir.
	if staging != "" {
		if err := e.deps.Cache.Finalize(commitHash, staging); err != nil {
			return err
		}
	}

	return e.setInstalledCommitHash(commitHash)
}

// checkoutProject places the revision's working tree into the build root.
func (e *Environment) checkoutProject(ctx context.Context, repo Repository, commitHash string) error {
	e.setCommitHash(commitHash)
	if err := repo.Checkout(ctx, e.buildRoot, commitHash); err != nil {
		return fmt.Errorf("failed to check out %s: %w", commitHash, err)
	}
	return nil
}

func (e *Environment) buildProject(ctx context.Context, repo Repository, commitHash, buildDir string) error {
	commands := e.deps.Config.BuildCommand
	if commands == nil {
		commands = []string{
			"python setup.py build",
			"PIP_NO_BUILD_ISOLATION=false python -mpip wheel --no-deps --no-index -w {build_cache_dir} {build_dir}",
		}
	}
	if len(commands) == 0 {
		return nil
	}
	e.logger.Info("building project", "commit", e.decoratedHash(ctx, repo, commitHash), "env", e.name)
	return e.runCommands(ctx, commands, buildDir)
}

func (e *Environment) installProjectCommands(ctx context.Context, repo Repository, commitHash, buildDir string) error {
	commands := e.deps.Config.InstallCommand
	if commands == nil {
		// pip runs via python -m to avoid the shebang length limit.
		commands = []string{"python -mpip install {wheel_file}"}
	}
	if len(commands) == 0 {
		return nil
	}
	e.logger.Info("installing project", "commit", e.decoratedHash(ctx, repo, commitHash), "env", e.name)
	return e.runCommands(ctx, commands, buildDir)
}

// uninstallProject removes any installed copy of the project. The install
// status is voided before the commands run: a crash mid-uninstall or
// mid-install must never be mistaken for a completed installation.
func (e *Environment) uninstallProject(ctx context.Context) error {
	if err := e.setInstalledCommitHash(""); err != nil {
		return err
	}

	commands := e.deps.Config.UninstallCommand
	if commands == nil {
		// Uninstalling a never-installed project is fine, so any exit
		// code is accepted.
		commands = []string{"return-code=any python -mpip uninstall -y {project}"}
	}
	if len(commands) == 0 {
		return nil
	}
	e.logger.Info("uninstalling project", "env", e.name)
	return e.runCommands(ctx, commands, e.envDir)
}

// InterpolationVariables returns the variable namespace visible to command
// templates: every exposed environment variable, prefix-stripped and
// lowercased, plus wheel_file when the bound build cache dir holds exactly
// one wheel.
func (e *Environment) InterpolationVariables() map[string]string {
	vars := make(map[string]string, len(e.envVars)+1)
	for key, value := range e.envVars {
		if key == markerVar {
			continue
		}
		vars[strings.ToLower(strings.TrimPrefix(key, envPrefix))] = value
	}

	if cacheDir, ok := vars["build_cache_dir"]; ok {
		if wheel, ok := findSingleWheel(cacheDir); ok {
			vars["wheel_file"] = wheel
		}
	}
	return vars
}

// runCommands interpolates and executes a command list inside the
// environment, applying the install timeout and per-command overrides.
func (e *Environment) runCommands(ctx context.Context, templates []string, cwd string) error {
	commands, err := interp.Interpolate(templates, e.InterpolationVariables())
	if err != nil {
		return err
	}

	timeout := time.Duration(e.deps.Config.InstallTimeoutSeconds) * time.Second
	for _, cmd := range commands {
		env := procutil.MergeEnv(os.Environ(), cmd.Env)
		_, err := e.tool.Run(ctx, e, cmd.Argv[0], cmd.Argv[1:], procutil.Options{
			Timeout:   timeout,
			Dir:       cwd,
			Env:       env,
			ExitCodes: cmd.ExitCodes,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RunExecutable runs an executable from this environment with the
// environment's variable namespace applied.
func (e *Environment) RunExecutable(ctx context.Context, name string, args []string, opts procutil.Options) (string, error) {
	return e.tool.Run(ctx, e, name, args, opts)
}

// EnvVars returns a copy of the variables the environment exposes to
// commands.
func (e *Environment) EnvVars() map[string]string {
	out := make(map[string]string, len(e.envVars))
	for key, value := range e.envVars {
		out[key] = value
	}
	return out
}

func (e *Environment) setCommitHash(commitHash string) {
	if commitHash == "" {
		delete(e.envVars, envPrefix+"COMMIT")
		return
	}
	e.envVars[envPrefix+"COMMIT"] = commitHash
}

func (e *Environment) setBuildDirs(buildDir, cacheDir string) {
	if buildDir == "" {
		delete(e.envVars, envPrefix+"BUILD_DIR")
	} else {
		e.envVars[envPrefix+"BUILD_DIR"] = buildDir
	}
	if cacheDir == "" {
		delete(e.envVars, envPrefix+"BUILD_CACHE_DIR")
	} else {
		e.envVars[envPrefix+"BUILD_CACHE_DIR"] = cacheDir
	}
}

// installChecksum fingerprints every configuration field that affects
// install correctness. A changed checksum voids the persisted install
// status regardless of what is physically on disk.
func (e *Environment) installChecksum() string {
	type checksumInput struct {
		RepoSubdir string   `json:"repo_subdir"`
		Timeout    int      `json:"install_timeout"`
		Project    string   `json:"project"`
		Build      []string `json:"build_command"`
		Install    []string `json:"install_command"`
		Uninstall  []string `json:"uninstall_command"`
	}
	cfg := e.deps.Config
	payload, _ := json.Marshal(checksumInput{ //nolint:errcheck // fixed shape, cannot fail
		RepoSubdir: cfg.RepoSubdir,
		Timeout:    cfg.InstallTimeoutSeconds,
		Project:    cfg.Project,
		Build:      cfg.BuildCommand,
		Install:    cfg.InstallCommand,
		Uninstall:  cfg.UninstallCommand,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (e *Environment) setInstalledCommitHash(commitHash string) error {
	status := installStatus{
		CommitHash:      commitHash,
		InstallChecksum: e.installChecksum(),
	}
	if err := jsonfile.Write(filepath.Join(e.path, statusFileName), status, statusSchemaVersion); err != nil {
		return fmt.Errorf("failed to record install status for %s: %w", e.name, err)
	}
	return nil
}

func (e *Environment) installedCommitHash() string {
	var status installStatus
	if err := jsonfile.Load(filepath.Join(e.path, statusFileName), &status, statusSchemaVersion); err != nil {
		return ""
	}
	if status.InstallChecksum != e.installChecksum() {
		return ""
	}
	return status.CommitHash
}

func (e *Environment) saveInfoFile() error {
	info := envInfo{
		ToolKind:     e.tool.Kind(),
		Python:       e.python,
		Requirements: e.reqs,
	}
	if err := jsonfile.Write(filepath.Join(e.path, infoFileName), info, infoSchemaVersion); err != nil {
		return fmt.Errorf("failed to save environment descriptor for %s: %w", e.name, err)
	}
	return nil
}

func (e *Environment) decoratedHash(ctx context.Context, repo Repository, commitHash string) string {
	if decorated, err := repo.DecoratedHash(ctx, commitHash, 8); err == nil {
		return decorated
	}
	if len(commitHash) > 8 {
		return commitHash[:8]
	}
	return commitHash
}

// findSingleWheel returns the only *.whl file in dir. An absent directory
// or an ambiguous match reports ok=false, leaving wheel_file unresolved.
func findSingleWheel(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var wheel string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".whl") {
			continue
		}
		if wheel != "" {
			return "", false
		}
		wheel = filepath.Join(dir, entry.Name())
	}
	return wheel, wheel != ""
}

func sameRequirements(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if other, ok := b[key]; !ok || other != value {
			return false
		}
	}
	return true
}
