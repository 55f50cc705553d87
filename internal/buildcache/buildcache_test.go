// SPDX-License-Identifier: MPL-2.0

package buildcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 2, nil)

	// Absent before any create.
	if dir, ok := cache.Get("rev1"); ok {
		t.Fatalf("Get() before Create returned %q", dir)
	}

	// Absent while building.
	staging, err := cache.Create("rev1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "demo-1.0-py3-none-any.whl"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	if dir, ok := cache.Get("rev1"); ok {
		t.Fatalf("Get() mid-build returned %q", dir)
	}

	// Present and stable after finalize.
	if err := cache.Finalize("rev1", staging); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	dir, ok := cache.Get("rev1")
	if !ok {
		t.Fatal("Get() after Finalize returned absent")
	}
	if _, err := os.Stat(filepath.Join(dir, "demo-1.0-py3-none-any.whl")); err != nil {
		t.Errorf("finalized entry missing artifact: %v", err)
	}
	again, ok := cache.Get("rev1")
	if !ok || again != dir {
		t.Errorf("Get() = %q, want stable %q", again, dir)
	}
}

func TestCreateAfterFinalizeDiscardsOldArtifact(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 2, nil)

	staging, err := cache.Create("rev1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "old.whl"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cache.Finalize("rev1", staging); err != nil {
		t.Fatal(err)
	}

	// A second build for the same commit starts from an empty dir.
	fresh, err := cache.Create("rev1")
	if err != nil {
		t.Fatalf("Create() after Finalize error = %v", err)
	}
	entries, err := os.ReadDir(fresh)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh build dir not empty: %v", entries)
	}
	if _, ok := cache.Get("rev1"); ok {
		t.Error("old artifact still served after Create")
	}
}

func TestFinalizeWithoutCreateIsNoop(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 2, nil)
	if err := cache.Finalize("rev1", filepath.Join(cache.root, "nowhere")); err != nil {
		t.Fatalf("Finalize() without Create error = %v", err)
	}
	if _, ok := cache.Get("rev1"); ok {
		t.Error("Finalize() without Create produced an entry")
	}
}

func TestEvictionLeastRecentlyFinalized(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 2, nil)

	for _, rev := range []string{"rev1", "rev2", "rev3"} {
		staging, err := cache.Create(rev)
		if err != nil {
			t.Fatal(err)
		}
		if err := cache.Finalize(rev, staging); err != nil {
			t.Fatal(err)
		}
		// Modification times order the eviction queue.
		time.Sleep(10 * time.Millisecond)
	}

	if _, ok := cache.Get("rev1"); ok {
		t.Error("oldest entry rev1 not evicted")
	}
	if _, ok := cache.Get("rev2"); !ok {
		t.Error("rev2 evicted, want kept")
	}
	if _, ok := cache.Get("rev3"); !ok {
		t.Error("rev3 evicted, want kept")
	}
}

func TestEvictionSparesBuildingEntries(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 1, nil)

	staging, err := cache.Create("building")
	if err != nil {
		t.Fatal(err)
	}

	for _, rev := range []string{"rev1", "rev2"} {
		dir, err := cache.Create(rev)
		if err != nil {
			t.Fatal(err)
		}
		if err := cache.Finalize(rev, dir); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := os.Stat(staging); err != nil {
		t.Errorf("building entry was evicted: %v", err)
	}
	if err := cache.Finalize("building", staging); err != nil {
		t.Errorf("Finalize() of spared entry error = %v", err)
	}
	if _, ok := cache.Get("building"); !ok {
		t.Error("spared entry not served after finalize")
	}
}

func TestFinalizeIgnoresSupersededStaging(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir(), 2, nil)

	// First builder starts and produces its artifact.
	first, err := cache.Create("rev1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(first, "demo-1.0-py3-none-any.whl"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A second builder re-creates the entry, superseding the first staging.
	second, err := cache.Create("rev1")
	if err != nil {
		t.Fatal(err)
	}

	// The superseded builder's finalize must not promote the second
	// builder's mid-build staging.
	if err := cache.Finalize("rev1", first); err != nil {
		t.Fatalf("Finalize() of superseded staging error = %v", err)
	}
	if dir, ok := cache.Get("rev1"); ok {
		t.Fatalf("Get() after superseded Finalize returned %q, want absent", dir)
	}
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("active staging dir disturbed: %v", err)
	}

	// The owning builder still finalizes normally.
	if err := os.WriteFile(filepath.Join(second, "demo-1.0-py3-none-any.whl"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cache.Finalize("rev1", second); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	dir, ok := cache.Get("rev1")
	if !ok {
		t.Fatal("Get() after owning Finalize returned absent")
	}
	if _, err := os.Stat(filepath.Join(dir, "demo-1.0-py3-none-any.whl")); err != nil {
		t.Errorf("finalized entry missing artifact: %v", err)
	}
}
