// Package hook runs the user's shell commands before and after a backup.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

type HookExecutor struct {
	runner command.Runner
}

// NewHookExecutor creates a new HookExecutor that runs commands through runner.
func NewHookExecutor(runner command.Runner) *HookExecutor {
	return &HookExecutor{
		runner: runner,
	}
}

func (e *HookExecutor) RunPreHook(ctx context.Context, hookName string, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(p.PreHookCommands) <= 0 {
		return ErrNothingToExecute
	}
	plog.Info(fmt.Sprintf("Running Pre-%s hook commands", hookName))
	return e.run(ctx, p, p.PreHookCommands)
}

func (e *HookExecutor) RunPostHook(ctx context.Context, hookName string, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(p.PostHookCommands) <= 0 {
		return ErrNothingToExecute
	}
	plog.Info(fmt.Sprintf("Running Post-%s hook commands", hookName))
	return e.run(ctx, p, p.PostHookCommands)
}

func (e *HookExecutor) run(ctx context.Context, p *Plan, commands []string) error {
	for _, hookCommand := range commands {

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		c := command.Shell(hookCommand)
		// Pipe output to the console for visibility
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		code, err := e.runner.Run(ctx, c)
		if err == nil && code != 0 {
			err = fmt.Errorf("exit code %d", code)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
