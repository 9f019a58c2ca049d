//go:build !windows

package preflight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// platformValidateMountPoint rejects a volume path that lives on the root
// filesystem without being a mount point of its own.
func platformValidateMountPoint(path string) error {
	mounted, err := IsMountPoint(path)
	if err != nil {
		return fmt.Errorf("failed to inspect mount point: %w", err)
	}
	if mounted {
		return nil
	}

	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	if err := unix.Stat(path, &pathStat); err != nil {
		return fmt.Errorf("failed to stat volume path: %w", err)
	}

	// If pathDev == rootDev, we are writing to the system partition (Ghost).
	if pathStat.Dev == rootStat.Dev {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure your external drive is mounted", path)
	}
	return nil
}
