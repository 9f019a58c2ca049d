//go:build !windows

package hostpower

import (
	"context"
	"fmt"
	"runtime"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/command"
)

// inhibitorCmd returns the long-lived helper that blocks sleep on goos.
func inhibitorCmd(goos string) (command.Cmd, bool) {
	switch goos {
	case "linux":
		return command.Cmd{
			Name: "systemd-inhibit",
			Args: []string{
				"--what=idle:sleep:shutdown",
				"--who=" + buildinfo.Name,
				"--why=Backup in progress",
				"--mode=block",
				"sleep", "infinity",
			},
		}, true
	case "darwin":
		// -i idle, -m disk idle, -s system sleep (on AC power).
		return command.Cmd{Name: "caffeinate", Args: []string{"-ims"}}, true
	default:
		return command.Cmd{}, false
	}
}

// NewGuard returns a Guard that holds an inhibitor child process for as long
// as the guard is acquired.
func NewGuard(runner command.Runner) *Guard {
	return newInhibitorGuard(runner, runtime.GOOS)
}

func newInhibitorGuard(runner command.Runner, goos string) *Guard {
	c, ok := inhibitorCmd(goos)
	if !ok {
		return &Guard{}
	}
	return &Guard{
		inhibit: func(ctx context.Context) (func() error, error) {
			// The inhibitor must outlive cancellation of the run context so
			// cleanup still happens under its protection.
			p, err := runner.Start(context.WithoutCancel(ctx), c)
			if err != nil {
				return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
			}
			return p.Stop, nil
		},
	}
}
