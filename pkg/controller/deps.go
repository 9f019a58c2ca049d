package controller

import (
	"context"
	"io"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/hook"
	"github.com/paulschiretz/pgl-snapshot/pkg/hostpower"
	"github.com/paulschiretz/pgl-snapshot/pkg/lockfile"
	"github.com/paulschiretz/pgl-snapshot/pkg/mirror"
	"github.com/paulschiretz/pgl-snapshot/pkg/refalias"
	"github.com/paulschiretz/pgl-snapshot/pkg/retention"
	"github.com/paulschiretz/pgl-snapshot/pkg/runlog"
)

// fileLocker adapts lockfile.Locker to RunLocker.
type fileLocker struct {
	locker *lockfile.Locker
}

func (f fileLocker) Lock(ctx context.Context, dir, appID string) (func(), error) {
	lock, err := f.locker.Acquire(ctx, dir, appID)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// NewDeps wires the production collaborators for cfg. Every external program
// is started through runner and run log lines are echoed to console.
func NewDeps(cfg config.RunConfig, console io.Writer, runner command.Runner, clk clock.Clock) Deps {
	if clk == nil {
		clk = clock.WallClock
	}
	now := clk.Now()
	log := runlog.New(cfg.LogDir, now, console, clk)
	return Deps{
		Log:        log,
		Guard:      hostpower.NewGuard(runner),
		Shutdowner: hostpower.NewShutdowner(runner),
		Linker:     refalias.NewLinker(clk),
		Mirror: mirror.NewRunner(runner, mirror.Options{
			Engine:     cfg.MirrorEngine,
			RetryCount: cfg.RetryCount,
			RetryWait:  cfg.RetryWait,
			DryRun:     cfg.DryRun,
			Stdout:     console,
			Stderr:     console,
		}, clk),
		Pruner:  retention.NewPruner(log),
		Hooks:   hook.NewHookExecutor(runner),
		Locker:  fileLocker{locker: lockfile.NewLocker(clk)},
		Clock:   clk,
		RunTime: now,
	}
}
