// Package refalias manages the transient reference alias that points from
// the destination root at the previous snapshot while an incremental mirror
// runs. The alias is only ever excluded from the mirror; nothing reads
// through it.
package refalias

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// LinkError reports a failed alias operation.
type LinkError struct {
	Op   string // "link" or "unlink"
	Path string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("reference alias %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

const (
	defaultUnlinkAttempts = 3
	defaultUnlinkDelay    = 500 * time.Millisecond
)

// Linker creates and removes the reference alias.
type Linker struct {
	clock    clock.Clock
	attempts int
	delay    time.Duration

	// symlink and removal hooks allow failure injection in tests.
	symlink   func(oldname, newname string) error
	remove    func(name string) error
	removeAll func(path string) error
}

// NewLinker returns a Linker that retries alias removal on clk.
func NewLinker(clk clock.Clock) *Linker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Linker{
		clock:     clk,
		attempts:  defaultUnlinkAttempts,
		delay:     defaultUnlinkDelay,
		symlink:   os.Symlink,
		remove:    os.Remove,
		removeAll: os.RemoveAll,
	}
}

// Link creates a directory alias at alias pointing to target. An existing
// alias is removed first.
func (l *Linker) Link(alias, target string) error {
	if err := l.Unlink(alias); err != nil {
		return err
	}
	if err := l.symlink(target, alias); err != nil {
		return &LinkError{Op: "link", Path: alias, Err: err}
	}
	return nil
}

// Unlink removes the alias but never its target. A missing alias is not an
// error. Transient failures (a scanner holding a handle, for example) are
// retried.
func (l *Linker) Unlink(alias string) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return l.removeOnce(alias)
		},
		NotifyFunc: func(err error, attempt int) {
			plog.Warn("Failed to remove reference alias, retrying", "path", alias, "attempt", attempt, "error", err)
		},
		Attempts: l.attempts,
		Delay:    l.delay,
		Clock:    l.clock,
	})
	if err != nil {
		return &LinkError{Op: "unlink", Path: alias, Err: retry.LastError(err)}
	}
	return nil
}

func (l *Linker) removeOnce(alias string) error {
	info, err := os.Lstat(alias)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&(os.ModeSymlink|os.ModeIrregular) != 0:
		// Removes the link itself, on Windows also a directory symlink or junction.
		err = l.remove(alias)
	case info.IsDir():
		// A real directory where the alias belongs is a leftover, not a snapshot.
		err = l.removeAll(alias)
	default:
		err = l.remove(alias)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
