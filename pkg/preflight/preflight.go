// Package preflight provides the checks that run before a backup touches the
// destination. They do not change the system's state.
package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// VolumeUnavailableError means the destination volume is missing or not
// mounted. The run ends gracefully before any copy.
type VolumeUnavailableError struct {
	Volume string
	Reason string
	Err    error
}

func (e *VolumeUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("volume %s is unavailable: %s: %v", e.Volume, e.Reason, e.Err)
	}
	return fmt.Sprintf("volume %s is unavailable: %s", e.Volume, e.Reason)
}

func (e *VolumeUnavailableError) Unwrap() error { return e.Err }

// CheckVolumeAvailable verifies that the external volume root exists and is
// a directory. With requireMounted set it also rejects a path that is just a
// directory on the system disk, which is what an unmounted mount point looks
// like (a "ghost" directory).
func CheckVolumeAvailable(volume string, requireMounted bool) error {
	root := util.VolumeRoot(volume)
	if root == "" {
		return &VolumeUnavailableError{Volume: volume, Reason: "no volume configured"}
	}

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return &VolumeUnavailableError{Volume: root, Reason: "not found"}
	}
	if err != nil {
		return &VolumeUnavailableError{Volume: root, Reason: "cannot access", Err: err}
	}
	if !info.IsDir() {
		return &VolumeUnavailableError{Volume: root, Reason: "not a directory"}
	}

	if requireMounted {
		if err := platformValidateMountPoint(root); err != nil {
			return &VolumeUnavailableError{Volume: root, Reason: "not mounted", Err: err}
		}
	}
	return nil
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}
