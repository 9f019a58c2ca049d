// Package command is the external command capability used for the mirroring
// utility, the power inhibitor, host shutdown and hooks. Orchestration code
// only sees the Runner interface so tests can substitute fakes that simulate
// exit codes.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Cmd describes a single invocation.
type Cmd struct {
	Name   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logging.
func (c Cmd) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Process is a started, long-lived child process.
type Process interface {
	// Stop terminates the process (and its process group). Calling Stop on an
	// already stopped process is a no-op.
	Stop() error
	Pid() int
}

// Runner runs external commands.
type Runner interface {
	// Run blocks until the command exits. A non-zero exit status is not an
	// error: the exit code is returned and the caller classifies it. err is
	// set only if the command could not be started or was cancelled.
	Run(ctx context.Context, c Cmd) (exitCode int, err error)
	// Start launches the command and returns without waiting for it.
	Start(ctx context.Context, c Cmd) (Process, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns a Runner backed by exec.CommandContext.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{commandContext: exec.CommandContext}
}

// NewExecRunnerWith returns a Runner that builds commands with the given
// constructor.
func NewExecRunnerWith(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *ExecRunner {
	return &ExecRunner{commandContext: commandContext}
}

func (r *ExecRunner) build(ctx context.Context, c Cmd) *exec.Cmd {
	cmd := r.commandContext(ctx, c.Name, c.Args...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	configureProcessGroup(cmd)
	return cmd
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) (int, error) {
	cmd := r.build(ctx, c)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	// Check if the context was canceled, which can cause cmd.Wait() to return an error.
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if exitErr, ok := errors.AsType[*exec.ExitError](err); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", c.Name, err)
}

// Start implements Runner.
func (r *ExecRunner) Start(ctx context.Context, c Cmd) (Process, error) {
	cmd := r.build(ctx, c)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		// Reap the child; the exit error of a killed child is expected.
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := killProcessGroup(p.cmd); err != nil {
			p.stopErr = fmt.Errorf("failed to stop process %d: %w", p.cmd.Process.Pid, err)
			return
		}
		<-p.done
	})
	return p.stopErr
}
