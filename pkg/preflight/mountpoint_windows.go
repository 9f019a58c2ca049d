//go:build windows

package preflight

import "path/filepath"

// IsMountPoint checks if the given path is the root of a volume (e.g., "C:\").
// Volumes mounted to folders are not detected.
func IsMountPoint(path string) (bool, error) {
	// For "C:\", VolumeName is "C:" and "C:" + "\" == "C:\".
	return filepath.VolumeName(path)+string(filepath.Separator) == path, nil
}
