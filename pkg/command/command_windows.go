//go:build windows

package command

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

// Shell wraps a command line for the platform shell.
func Shell(commandLine string) Cmd {
	return Cmd{Name: "cmd", Args: []string{"/C", commandLine}}
}

// configureProcessGroup starts the child in a new process group so console
// control events aimed at us do not hit it directly.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
