// SPDX-License-Identifier: MPL-2.0

// Package procutil runs external executables with captured output, a
// deadline, and an accepted set of exit codes.
package procutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

type (
	// ExitCodes is the set of exit codes treated as success for one command.
	// The zero value accepts only exit code 0.
	ExitCodes struct {
		// Any accepts every exit code when true.
		Any bool
		// Codes lists the accepted exit codes. Empty means {0}.
		Codes []int
	}

	// Options controls how a command is spawned.
	Options struct {
		// Timeout bounds the command's runtime. Zero means no deadline
		// beyond the caller's context.
		Timeout time.Duration
		// Dir is the working directory. Empty inherits the caller's.
		Dir string
		// Env is the full environment for the command. Nil inherits the
		// caller's environment.
		Env []string
		// ExitCodes is the accepted exit code set.
		ExitCodes ExitCodes
	}

	// ProcessError reports a command that exited with a non-accepted code
	// or failed to spawn at all.
	ProcessError struct {
		Argv     []string
		ExitCode int
		Output   string
		Err      error
	}
)

func (e *ProcessError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	if e.Err != nil {
		return fmt.Sprintf("command %q failed: %v", cmd, e.Err)
	}
	return fmt.Sprintf("command %q exited with code %d", cmd, e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Accepts reports whether the given exit code is in the accepted set.
func (c ExitCodes) Accepts(code int) bool {
	if c.Any {
		return true
	}
	if len(c.Codes) == 0 {
		return code == 0
	}
	for _, accepted := range c.Codes {
		if code == accepted {
			return true
		}
	}
	return false
}

// CheckOutput runs exe with args and returns its combined stdout. A
// non-accepted exit code, a spawn failure, or an exceeded deadline returns a
// *ProcessError carrying the captured output.
func CheckOutput(ctx context.Context, exe string, args []string, opts Options) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return output, &ProcessError{Argv: argv(exe, args), ExitCode: code, Output: output, Err: ctxErr}
			}
			if opts.ExitCodes.Accepts(code) {
				return output, nil
			}
			return output, &ProcessError{
				Argv:     argv(exe, args),
				ExitCode: code,
				Output:   output + stderr.String(),
			}
		}
		return output, &ProcessError{Argv: argv(exe, args), ExitCode: -1, Output: output, Err: err}
	}

	if !opts.ExitCodes.Accepts(0) {
		return output, &ProcessError{Argv: argv(exe, args), ExitCode: 0, Output: output}
	}
	return output, nil
}

// Which searches for an executable in the given directories, falling back to
// PATH when dirs is empty. The returned error wraps os.ErrNotExist when the
// executable cannot be found.
func Which(name string, dirs []string) (string, error) {
	if len(dirs) == 0 {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("executable %q not found: %w", name, os.ErrNotExist)
		}
		return path, nil
	}

	candidates := []string{name}
	if runtime.GOOS == "windows" && !strings.Contains(name, ".") {
		candidates = []string{name + ".exe", name + ".bat", name + ".cmd"}
	}

	for _, dir := range dirs {
		for _, candidate := range candidates {
			path := filepath.Join(dir, candidate)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
				continue
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("executable %q not found in %s: %w",
		name, strings.Join(dirs, string(os.PathListSeparator)), os.ErrNotExist)
}

// MergeEnv appends overrides to a base "KEY=VALUE" environment slice.
// Later entries win when a key repeats, so overrides take precedence.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}
	return out
}

// PrependPath returns env with dirs inserted at the front of PATH.
func PrependPath(env []string, dirs []string) []string {
	sep := string(os.PathListSeparator)
	joined := strings.Join(dirs, sep)

	out := make([]string, 0, len(env)+1)
	found := false
	for _, entry := range env {
		if strings.HasPrefix(entry, "PATH=") {
			out = append(out, "PATH="+joined+sep+strings.TrimPrefix(entry, "PATH="))
			found = true
			continue
		}
		out = append(out, entry)
	}
	if !found {
		out = append(out, "PATH="+joined)
	}
	return out
}

func argv(exe string, args []string) []string {
	return append([]string{exe}, args...)
}
