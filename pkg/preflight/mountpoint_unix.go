//go:build !windows

package preflight

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountPoint checks if the given path is a mount point on Unix-like systems.
// It returns true if path is a mount point, false otherwise.
func IsMountPoint(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	parent := filepath.Dir(path)
	var parentSt unix.Stat_t
	if err := unix.Stat(parent, &parentSt); err != nil {
		return false, fmt.Errorf("stat %s: %w", parent, err)
	}

	// If the directory and its parent have different Device IDs, it's a mount point.
	// Also handle the edge case of the root path "/" where path == parent.
	return st.Dev != parentSt.Dev || path == parent, nil
}
