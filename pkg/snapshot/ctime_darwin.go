//go:build darwin

package snapshot

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func creationTime(path string, info os.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return info.ModTime()
	}
	return time.Unix(st.Btim.Unix())
}
