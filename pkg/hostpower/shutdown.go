package hostpower

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
)

// shutdownCmd returns the power-off command for goos.
func shutdownCmd(goos string) command.Cmd {
	if goos == "windows" {
		return command.Cmd{Name: "shutdown", Args: []string{"/s", "/t", "0"}}
	}
	return command.Cmd{Name: "shutdown", Args: []string{"-h", "now"}}
}

// Shutdowner requests a host power-off.
type Shutdowner struct {
	runner command.Runner
	cmd    command.Cmd
}

// NewShutdowner returns a Shutdowner for the current platform.
func NewShutdowner(runner command.Runner) *Shutdowner {
	c := shutdownCmd(runtime.GOOS)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return &Shutdowner{runner: runner, cmd: c}
}

// Shutdown issues the power-off request. The command returns once the
// request is accepted; the host goes down asynchronously.
func (s *Shutdowner) Shutdown(ctx context.Context) error {
	code, err := s.runner.Run(ctx, s.cmd)
	if err != nil {
		return fmt.Errorf("failed to request shutdown: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("shutdown command %q exited with code %d", s.cmd.String(), code)
	}
	return nil
}
