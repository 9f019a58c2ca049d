package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/snapshot"
)

type memRecorder struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (r *memRecorder) Record(msg string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.lines = append(r.lines, msg+" "+fmt.Sprint(args...))
	return nil
}

// makeSnapshots creates one directory per name under root; the first name
// gets the newest creation time.
func makeSnapshots(t *testing.T, root string, names ...string) []snapshot.Snapshot {
	t.Helper()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var out []snapshot.Snapshot
	for i, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Join(path, "docs"), 0755); err != nil {
			t.Fatal(err)
		}
		out = append(out, snapshot.Snapshot{Name: name, Path: path, CreationTime: base.Add(-time.Duration(i) * time.Hour)})
	}
	return out
}

func newTestPruner(rec Recorder, snaps []snapshot.Snapshot) *Pruner {
	p := NewPruner(rec)
	p.list = func(string) ([]snapshot.Snapshot, error) { return snaps, nil }
	return p
}

func snapNames(s []snapshot.Snapshot) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Name
	}
	return out
}

func TestSelectVictims(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	// t1 > t2 > t3 > t4, deliberately shuffled and with names that disagree.
	snaps := []snapshot.Snapshot{
		{Name: "c", CreationTime: base.Add(2 * time.Hour)}, // t2
		{Name: "a", CreationTime: base.Add(4 * time.Hour)}, // t1
		{Name: "d", CreationTime: base},                    // t4
		{Name: "b", CreationTime: base.Add(1 * time.Hour)}, // t3
	}

	testCases := []struct {
		name        string
		keep        int
		wantKept    []string
		wantVictims []string
	}{
		{name: "Keep two", keep: 2, wantKept: []string{"a", "c"}, wantVictims: []string{"b", "d"}},
		{name: "Keep all", keep: 4, wantKept: []string{"a", "c", "b", "d"}},
		{name: "Keep more than exist", keep: 10000, wantKept: []string{"a", "c", "b", "d"}},
		{name: "Keep one", keep: 1, wantKept: []string{"a"}, wantVictims: []string{"c", "b", "d"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kept, victims := SelectVictims(snaps, tc.keep)
			if got := snapNames(kept); !slices.Equal(got, tc.wantKept) {
				t.Errorf("kept: expected %v, got %v", tc.wantKept, got)
			}
			if got := snapNames(victims); !slices.Equal(got, tc.wantVictims) && !(len(got) == 0 && len(tc.wantVictims) == 0) {
				t.Errorf("victims: expected %v, got %v", tc.wantVictims, got)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	t.Run("Deletes oldest beyond keep and records each deletion first", func(t *testing.T) {
		root := t.TempDir()
		snaps := makeSnapshots(t, root, "Backup_2024-06-04", "Backup_2024-06-03", "Backup_2024-06-02", "Backup_2024-06-01")
		rec := &memRecorder{}

		res, err := newTestPruner(rec, snaps).Prune(context.Background(), root, Plan{Keep: 2})
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if got := snapNames(res.Deleted); !slices.Equal(got, []string{"Backup_2024-06-02", "Backup_2024-06-01"}) {
			t.Errorf("unexpected deletions: %v", got)
		}
		for _, name := range []string{"Backup_2024-06-02", "Backup_2024-06-01"} {
			if _, err := os.Stat(filepath.Join(root, name)); !os.IsNotExist(err) {
				t.Errorf("expected %s to be deleted", name)
			}
		}
		for _, name := range []string{"Backup_2024-06-04", "Backup_2024-06-03"} {
			if _, err := os.Stat(filepath.Join(root, name)); err != nil {
				t.Errorf("expected %s to be kept: %v", name, err)
			}
		}
		if len(rec.lines) != 2 || !strings.Contains(rec.lines[0], "Backup_2024-06-02") {
			t.Errorf("expected one record per deletion in order, got %v", rec.lines)
		}
	})

	t.Run("Nothing to prune", func(t *testing.T) {
		root := t.TempDir()
		snaps := makeSnapshots(t, root, "Backup_2024-06-01")
		_, err := newTestPruner(&memRecorder{}, snaps).Prune(context.Background(), root, Plan{Keep: 10000})
		if !hints.IsHint(err) || !errors.Is(err, ErrNothingToPrune) {
			t.Errorf("expected ErrNothingToPrune, got %v", err)
		}
	})

	t.Run("Invalid keep", func(t *testing.T) {
		_, err := NewPruner(&memRecorder{}).Prune(context.Background(), t.TempDir(), Plan{Keep: 0})
		if err == nil {
			t.Fatal("expected an error for keep < 1")
		}
	})

	t.Run("Dry run deletes nothing", func(t *testing.T) {
		root := t.TempDir()
		snaps := makeSnapshots(t, root, "a", "b", "c")
		rec := &memRecorder{}

		res, err := newTestPruner(rec, snaps).Prune(context.Background(), root, Plan{Keep: 1, DryRun: true})
		if err != nil {
			t.Fatalf("Prune failed: %v", err)
		}
		if len(res.Deleted) != 0 {
			t.Errorf("expected no deletions in dry run, got %v", snapNames(res.Deleted))
		}
		for _, s := range snaps {
			if _, err := os.Stat(s.Path); err != nil {
				t.Errorf("dry run removed %s", s.Name)
			}
		}
		if len(rec.lines) != 2 || !strings.HasPrefix(rec.lines[0], "[DRY RUN]") {
			t.Errorf("expected dry run records, got %v", rec.lines)
		}
	})

	t.Run("A failed deletion does not stop the others", func(t *testing.T) {
		for _, workers := range []int{1, 4} {
			t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
				root := t.TempDir()
				snaps := makeSnapshots(t, root, "a", "b", "c", "d", "e")
				locked := errors.New("file locked")

				p := newTestPruner(&memRecorder{}, snaps)
				p.removeAll = func(path string) error {
					if filepath.Base(path) == "c" {
						return locked
					}
					return os.RemoveAll(path)
				}

				res, err := p.Prune(context.Background(), root, Plan{Keep: 2, DeleteWorkers: workers})
				pruneErr, ok := errors.AsType[*PruneError](err)
				if !ok {
					t.Fatalf("expected *PruneError, got %v", err)
				}
				if len(pruneErr.Failures) != 1 || filepath.Base(pruneErr.Failures[0].Path) != "c" {
					t.Errorf("unexpected failures: %+v", pruneErr.Failures)
				}
				if !errors.Is(err, locked) || !isPruneFailure(err) {
					t.Errorf("expected error chain to contain the deletion failure")
				}
				if len(res.Deleted) != 2 {
					t.Errorf("expected the other two victims to be deleted, got %v", snapNames(res.Deleted))
				}
			})
		}
	})

	t.Run("Record failure aborts", func(t *testing.T) {
		root := t.TempDir()
		snaps := makeSnapshots(t, root, "a", "b")
		rec := &memRecorder{err: errors.New("disk full")}

		_, err := newTestPruner(rec, snaps).Prune(context.Background(), root, Plan{Keep: 1})
		if err == nil || isPruneFailure(err) {
			t.Fatalf("expected a non-prune failure, got %v", err)
		}
		if !errors.Is(err, ErrRecord) {
			t.Errorf("expected ErrRecord, got %v", err)
		}
		if _, statErr := os.Stat(filepath.Join(root, "b")); statErr != nil {
			t.Error("a snapshot must not be deleted when its deletion could not be recorded")
		}
	})
}

func TestPruneListsRealDirectories(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"Backup_2024-06-01", "Backup_2024-06-02"} {
		if err := os.Mkdir(filepath.Join(root, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	res, err := NewPruner(&memRecorder{}).Prune(context.Background(), root, Plan{Keep: 5})
	if !errors.Is(err, ErrNothingToPrune) {
		t.Fatalf("expected ErrNothingToPrune, got %v", err)
	}
	if len(res.Kept) != 2 {
		t.Errorf("expected both snapshots kept, got %d", len(res.Kept))
	}
}

func TestPruneLogsMetricsSummary(t *testing.T) {
	var buf bytes.Buffer
	plog.SetOutput(&buf)
	defer plog.SetOutput(os.Stderr)

	root := t.TempDir()
	snaps := makeSnapshots(t, root, "Backup_2024-06-03", "Backup_2024-06-02", "Backup_2024-06-01")
	p := newTestPruner(&memRecorder{}, snaps)
	p.removeAll = func(path string) error {
		if strings.HasSuffix(path, "Backup_2024-06-01") {
			return errors.New("device busy")
		}
		return os.RemoveAll(path)
	}

	_, err := p.Prune(context.Background(), root, Plan{Keep: 1, Metrics: true})
	if !isPruneFailure(err) {
		t.Fatalf("expected a prune failure, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Retention summary") || !strings.Contains(out, "snapshotsDeleted=1") || !strings.Contains(out, "snapshotsFailed=1") {
		t.Errorf("expected a metrics summary, got %q", out)
	}
}

func isPruneFailure(err error) bool {
	_, ok := errors.AsType[*PruneError](err)
	return ok
}
