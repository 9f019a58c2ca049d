// Package snapshot names and enumerates the dated snapshot directories under
// the destination root.
//
// Two orderings exist on purpose. The reference snapshot for an incremental
// run is chosen by name, while retention orders by creation time. They agree
// as long as nobody renames a directory or touches its metadata out of band.
package snapshot

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

const (
	// Prefix starts every snapshot directory name.
	Prefix = "Backup_"
	// DateLayout is the date part of a snapshot name.
	DateLayout = "2006-01-02"
	// AliasName is the transient reference alias in the destination root.
	AliasName = "PreviousBackup"
)

// Snapshot is one dated destination directory.
type Snapshot struct {
	Name         string
	Path         string
	CreationTime time.Time
}

// TargetName returns the snapshot directory name for the given day.
func TargetName(date time.Time) string {
	return Prefix + date.Format(DateLayout)
}

// List returns the immediate subdirectories of root. Entries that cannot be
// inspected are skipped with a warning. Symlinks, junctions and the
// reference alias are never returned.
func List(root string) ([]Snapshot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination root %s: %w", root, err)
	}

	snapshots := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == AliasName {
			continue
		}
		if entry.Type()&(os.ModeSymlink|os.ModeIrregular) != 0 || !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			plog.Warn("Skipping unreadable snapshot directory", "path", path, "error", err)
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name:         entry.Name(),
			Path:         path,
			CreationTime: creationTime(path, info),
		})
	}
	return snapshots, nil
}

// SortByNameDesc returns a copy ordered by name, highest first.
func SortByNameDesc(snapshots []Snapshot) []Snapshot {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b Snapshot) int {
		return cmp.Compare(b.Name, a.Name)
	})
	return sorted
}

// SortByCreationDesc returns a copy ordered by creation time, newest first.
// Equal times fall back to name descending so the order is deterministic.
func SortByCreationDesc(snapshots []Snapshot) []Snapshot {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b Snapshot) int {
		if c := b.CreationTime.Compare(a.CreationTime); c != 0 {
			return c
		}
		return cmp.Compare(b.Name, a.Name)
	})
	return sorted
}

// SelectReference picks the snapshot an incremental run refers to: the
// highest name that is not today's target.
func SelectReference(snapshots []Snapshot, targetName string) (Snapshot, bool) {
	for _, s := range SortByNameDesc(snapshots) {
		if s.Name != targetName {
			return s, true
		}
	}
	return Snapshot{}, false
}
