package refalias

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/juju/clock"
)

func newTestLinker() *Linker {
	l := NewLinker(clock.WallClock)
	l.delay = time.Millisecond
	return l
}

func setup(t *testing.T) (root, target, alias string) {
	t.Helper()
	root = t.TempDir()
	target = filepath.Join(root, "Backup_2024-01-01")
	if err := os.MkdirAll(filepath.Join(target, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "docs", "a.txt"), []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}
	return root, target, filepath.Join(root, "PreviousBackup")
}

func skipWithoutSymlinks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		link := filepath.Join(t.TempDir(), "link")
		if err := os.Symlink(t.TempDir(), link); err != nil {
			t.Skipf("symlinks not permitted: %v", err)
		}
	}
}

func TestLinkAndUnlink(t *testing.T) {
	skipWithoutSymlinks(t)
	_, target, alias := setup(t)
	l := newTestLinker()

	if err := l.Link(alias, target); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(alias, "docs", "a.txt")); err != nil {
		t.Errorf("expected alias to resolve to the target: %v", err)
	}

	if err := l.Unlink(alias); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if aliasPresent(alias) {
		t.Error("expected alias to be gone")
	}
	if _, err := os.Stat(filepath.Join(target, "docs", "a.txt")); err != nil {
		t.Errorf("Unlink must never touch the target: %v", err)
	}
}

func TestLinkReplacesStaleAlias(t *testing.T) {
	skipWithoutSymlinks(t)
	root, target, alias := setup(t)
	other := filepath.Join(root, "Backup_2023-12-31")
	if err := os.Mkdir(other, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(other, alias); err != nil {
		t.Fatal(err)
	}

	if err := newTestLinker().Link(alias, target); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	dest, err := os.Readlink(alias)
	if err != nil {
		t.Fatal(err)
	}
	if dest != target {
		t.Errorf("expected alias to point to %s, got %s", target, dest)
	}
}

func TestUnlinkMissingAlias(t *testing.T) {
	alias := filepath.Join(t.TempDir(), "PreviousBackup")
	if err := newTestLinker().Unlink(alias); err != nil {
		t.Errorf("expected no error for a missing alias, got %v", err)
	}
}

func TestUnlinkStaleDirectory(t *testing.T) {
	alias := filepath.Join(t.TempDir(), "PreviousBackup")
	if err := os.MkdirAll(filepath.Join(alias, "leftover"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := newTestLinker().Unlink(alias); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if aliasPresent(alias) {
		t.Error("expected stale directory to be removed")
	}
}

func TestLinkFailureIsLinkError(t *testing.T) {
	_, target, alias := setup(t)
	l := newTestLinker()
	l.symlink = func(oldname, newname string) error {
		return errors.New("privilege not held")
	}

	err := l.Link(alias, target)
	linkErr, ok := errors.AsType[*LinkError](err)
	if !ok {
		t.Fatalf("expected *LinkError, got %T: %v", err, err)
	}
	if linkErr.Op != "link" || linkErr.Path != alias {
		t.Errorf("unexpected LinkError fields: %+v", linkErr)
	}
	if aliasPresent(alias) {
		t.Error("a failed link must not leave an alias behind")
	}
}

func TestUnlinkRetriesTransientFailures(t *testing.T) {
	alias := filepath.Join(t.TempDir(), "PreviousBackup")
	if err := os.Mkdir(alias, 0755); err != nil {
		t.Fatal(err)
	}

	l := newTestLinker()
	calls := 0
	l.removeAll = func(path string) error {
		calls++
		if calls < 2 {
			return errors.New("file in use")
		}
		return os.RemoveAll(path)
	}

	if err := l.Unlink(alias); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 removal attempts, got %d", calls)
	}
}

func TestUnlinkGivesUp(t *testing.T) {
	alias := filepath.Join(t.TempDir(), "PreviousBackup")
	if err := os.Mkdir(alias, 0755); err != nil {
		t.Fatal(err)
	}

	l := newTestLinker()
	busy := errors.New("file in use")
	l.removeAll = func(string) error { return busy }

	err := l.Unlink(alias)
	linkErr, ok := errors.AsType[*LinkError](err)
	if !ok {
		t.Fatalf("expected *LinkError, got %T: %v", err, err)
	}
	if linkErr.Op != "unlink" || !errors.Is(err, busy) {
		t.Errorf("expected unlink error wrapping the last failure, got %v", err)
	}
}

func aliasPresent(alias string) bool {
	_, err := os.Lstat(alias)
	return err == nil
}
