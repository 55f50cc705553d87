// SPDX-License-Identifier: MPL-2.0

// Package repository provides the version-control collaborator used to
// materialize project revisions into build directories.
package repository

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"revbench-cli/internal/procutil"
)

// Git checks out revisions of a git repository using the git CLI.
type Git struct {
	// URL is the clone source: a remote URL or a local path.
	URL string
}

// NewGit returns a Git repository handle for the given source.
func NewGit(url string) (*Git, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git executable not found: %w", err)
	}
	return &Git{URL: url}, nil
}

// Checkout places the clean working tree of the revision into dir. The
// first call clones into dir; later calls reuse the clone, fetch as needed,
// and force-checkout the revision, discarding local modifications and
// build leftovers.
func (g *Git) Checkout(ctx context.Context, dir, commitHash string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkout dir: %w", err)
		}
		if _, err := g.run(ctx, "", "clone", "--shared", g.URL, dir); err != nil {
			return fmt.Errorf("failed to clone %s: %w", g.URL, err)
		}
	}

	if _, err := g.run(ctx, dir, "checkout", "-f", commitHash); err != nil {
		// The revision may be missing from a stale clone.
		if _, fetchErr := g.run(ctx, dir, "fetch", "origin"); fetchErr != nil {
			return fmt.Errorf("failed to fetch %s: %w", g.URL, fetchErr)
		}
		if _, err := g.run(ctx, dir, "checkout", "-f", commitHash); err != nil {
			return fmt.Errorf("failed to check out %s: %w", commitHash, err)
		}
	}

	if _, err := g.run(ctx, dir, "clean", "-fdx"); err != nil {
		return fmt.Errorf("failed to clean checkout of %s: %w", commitHash, err)
	}
	return nil
}

// DecoratedHash returns a short display string for the revision: the
// truncated hash plus any tags pointing at it.
func (g *Git) DecoratedHash(ctx context.Context, commitHash string, length int) (string, error) {
	short, err := g.run(ctx, "", "rev-parse", fmt.Sprintf("--short=%d", length), commitHash)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", commitHash, err)
	}
	short = strings.TrimSpace(short)

	tags, err := g.run(ctx, "", "tag", "--points-at", commitHash)
	if err != nil || strings.TrimSpace(tags) == "" {
		return short, nil
	}
	names := strings.Fields(tags)
	return fmt.Sprintf("%s <%s>", short, strings.Join(names, ", ")), nil
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	} else if g.isLocal() {
		full = append([]string{"-C", g.URL}, args...)
	}
	return procutil.CheckOutput(ctx, "git", full, procutil.Options{})
}

// isLocal reports whether the clone source is a local path, in which case
// revision queries can run against it directly.
func (g *Git) isLocal() bool {
	_, err := os.Stat(g.URL)
	return err == nil
}
