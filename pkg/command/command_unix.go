//go:build !windows

package command

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// Shell wraps a command line for the platform shell.
func Shell(commandLine string) Cmd {
	return Cmd{Name: "/bin/sh", Args: []string{"-c", commandLine}}
}

// configureProcessGroup puts the child into its own process group so a
// cancellation reaches every process it spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
