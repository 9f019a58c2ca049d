//go:build windows

package hostpower

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sys/windows"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
)

const (
	esContinuous     = 0x80000000
	esSystemRequired = 0x00000001
)

var (
	modkernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadExecutionState = modkernel32.NewProc("SetThreadExecutionState")
)

func setThreadExecutionState(flags uint32) error {
	if err := procSetThreadExecutionState.Find(); err != nil {
		return err
	}
	prev, _, callErr := procSetThreadExecutionState.Call(uintptr(flags))
	if prev == 0 {
		return fmt.Errorf("SetThreadExecutionState(%#x) failed: %w", flags, callErr)
	}
	return nil
}

// NewGuard returns a Guard backed by SetThreadExecutionState. The execution
// state belongs to a thread, so a dedicated goroutine locked to its OS thread
// sets it and clears it again on release.
func NewGuard(_ command.Runner) *Guard {
	return &Guard{
		inhibit: func(ctx context.Context) (func() error, error) {
			started := make(chan error, 1)
			release := make(chan struct{})
			released := make(chan error, 1)

			go func() {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()

				if err := setThreadExecutionState(esContinuous | esSystemRequired); err != nil {
					started <- err
					return
				}
				started <- nil
				<-release
				released <- setThreadExecutionState(esContinuous)
			}()

			if err := <-started; err != nil {
				return nil, err
			}
			return func() error {
				close(release)
				return <-released
			}, nil
		},
	}
}
