// Package controller drives one backup run through its states:
//
//	Idle -> Guarding -> Validating -> Copying -> Pruning -> Completed
//
// with Aborted reachable from every non-terminal state. Whatever path a run
// takes, the post-run hooks, the run lock and the power guard are released
// and, if configured, a host shutdown is requested afterwards.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
	"github.com/paulschiretz/pgl-snapshot/pkg/hook"
	"github.com/paulschiretz/pgl-snapshot/pkg/lockfile"
	"github.com/paulschiretz/pgl-snapshot/pkg/mirror"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/preflight"
	"github.com/paulschiretz/pgl-snapshot/pkg/retention"
	"github.com/paulschiretz/pgl-snapshot/pkg/runlog"
	"github.com/paulschiretz/pgl-snapshot/pkg/snapshot"
	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// State is the position of a run in its lifecycle.
type State int

const (
	Idle State = iota
	Guarding
	Validating
	Copying
	Pruning
	Completed
	Aborted
)

var stateToString = map[State]string{
	Idle:       "idle",
	Guarding:   "guarding",
	Validating: "validating",
	Copying:    "copying",
	Pruning:    "pruning",
	Completed:  "completed",
	Aborted:    "aborted",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Completed || s == Aborted
}

// UnhandledError wraps a panic or an error no step anticipated.
type UnhandledError struct {
	Value any
	Stack []byte
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("unhandled error: %v", e.Value)
}

func (e *UnhandledError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Report is the outcome of a run.
type Report struct {
	State State
	// Snapshot is the name of the snapshot directory written by the run.
	Snapshot string
	// Reference is the name of the snapshot the alias pointed to, if any.
	Reference string
	Mode      mirror.Mode
	Mirror    mirror.Result
	Prune     retention.Result
	// ShutdownRequested is set once the shutdown command was accepted.
	ShutdownRequested bool
	Err               error
}

// RunLog is the run log the controller records to.
type RunLog interface {
	retention.Recorder
	EnableFile() error
	Path() string
	Dir() string
}

// PowerGuard keeps the host awake while the run is in progress.
type PowerGuard interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Shutdowner powers the host off.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// AliasLinker creates and removes the reference alias.
type AliasLinker interface {
	Link(alias, target string) error
	Unlink(alias string) error
}

// Mirror runs the mirroring utility.
type Mirror interface {
	Run(ctx context.Context, job mirror.Job) (mirror.Result, error)
}

// HookRunner runs the pre- and post-run shell commands.
type HookRunner interface {
	RunPreHook(ctx context.Context, hookName string, p *hook.Plan) error
	RunPostHook(ctx context.Context, hookName string, p *hook.Plan) error
}

// RunLocker takes the opt-in run lock in dir. The returned function releases it.
type RunLocker interface {
	Lock(ctx context.Context, dir, appID string) (release func(), err error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Log        RunLog
	Guard      PowerGuard
	Shutdowner Shutdowner
	Linker     AliasLinker
	Mirror     Mirror
	Pruner     retention.SnapshotPruner
	Hooks      HookRunner
	Locker     RunLocker
	Clock      clock.Clock
	// RunTime dates the snapshot and the run log. A run that crosses
	// midnight keeps both on the day it started.
	RunTime    time.Time
}

// Controller executes runs for one RunConfig.
type Controller struct {
	cfg  config.RunConfig
	deps Deps

	checkVolume func(volume string, requireMounted bool) error
	checkSource func(path string) error
	list        func(root string) ([]snapshot.Snapshot, error)
	archiveLogs func(logDir string, now time.Time, olderThanDays int, format runlog.ArchiveFormat) ([]string, error)
	mkdirAll    func(path string, perm os.FileMode) error
}

// New returns a Controller. A nil Clock is replaced by the wall clock and a
// zero RunTime by the current time.
func New(cfg config.RunConfig, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.RunTime.IsZero() {
		deps.RunTime = deps.Clock.Now()
	}
	return &Controller{
		cfg:         cfg,
		deps:        deps,
		checkVolume: preflight.CheckVolumeAvailable,
		checkSource: preflight.CheckSourceAccessible,
		list:        snapshot.List,
		archiveLogs: runlog.Archive,
		mkdirAll:    os.MkdirAll,
	}
}

// Execute performs one full run. It never panics and never returns without
// having released the power guard.
func (c *Controller) Execute(ctx context.Context) (rep Report) {
	r := &Report{State: Idle}
	// Registered first so the copy is taken after the shutdown phase.
	defer func() { rep = *r }()
	defer c.shutdownIfConfigured(ctx, r)

	c.enter(r, Guarding)
	if err := c.deps.Guard.Acquire(ctx); err != nil {
		plog.Warn("Power guard could not be acquired", "error", err)
	}
	defer func() {
		if err := c.deps.Guard.Release(); err != nil {
			plog.Warn("Power guard could not be released", "error", err)
		}
	}()

	err := c.guarded(func() error { return c.run(ctx, r) })
	if err != nil {
		c.abort(r, err)
		return *r
	}
	c.enter(r, Completed)
	if err := c.record("Backup completed successfully", "snapshot", r.Snapshot); err != nil {
		c.abort(r, err)
	}
	return *r
}

// ExecutePrune applies retention without copying.
func (c *Controller) ExecutePrune(ctx context.Context) Report {
	r := &Report{State: Idle}
	err := c.guarded(func() error {
		c.enter(r, Validating)
		if err := c.prepareVolume(); err != nil {
			return err
		}
		release, err := c.lock(ctx)
		if err != nil {
			return err
		}
		defer release()

		c.enter(r, Pruning)
		return c.prune(ctx, r)
	})
	if err != nil {
		c.abort(r, err)
		return *r
	}
	c.enter(r, Completed)
	return *r
}

// guarded turns a panic in fn into an *UnhandledError.
func (c *Controller) guarded(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &UnhandledError{Value: v, Stack: debug.Stack()}
			plog.Debug("Recovered from panic", "stack", string(err.(*UnhandledError).Stack))
		}
	}()
	return fn()
}

func (c *Controller) run(ctx context.Context, r *Report) error {
	c.enter(r, Validating)
	if err := c.prepareVolume(); err != nil {
		return err
	}

	release, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	c.archiveOldLogs()

	plan := c.hookPlan()
	defer func() {
		if err := c.deps.Hooks.RunPostHook(context.WithoutCancel(ctx), "backup", plan); err != nil && !hints.IsHint(err) {
			plog.Warn("Post-backup hook failed", "error", err)
			_ = c.record("Post-backup hook failed: " + err.Error())
		}
	}()
	if err := c.deps.Hooks.RunPreHook(ctx, "backup", plan); err != nil && !hints.IsHint(err) {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("pre-backup hook canceled: %w", err)
		}
		return fmt.Errorf("pre-backup hook failed: %w", err)
	}

	c.enter(r, Copying)
	if err := c.copySnapshot(ctx, r); err != nil {
		return err
	}

	c.enter(r, Pruning)
	return c.prune(ctx, r)
}

// prepareVolume validates the volume and source and enables the log file.
// Nothing is created on the volume before it was found.
func (c *Controller) prepareVolume() error {
	if err := c.record("Checking destination volume", "volume", c.cfg.Volume); err != nil {
		return err
	}
	if err := c.checkVolume(c.cfg.Volume, c.cfg.RequireMountedVolume); err != nil {
		return err
	}
	if err := c.checkSource(c.cfg.Source); err != nil {
		return err
	}

	if c.cfg.DryRun {
		return c.record("[DRY RUN] Destination and log directories are not created")
	}
	if err := c.mkdirAll(c.cfg.DestinationRoot, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", c.cfg.DestinationRoot, err)
	}
	if err := c.deps.Log.EnableFile(); err != nil {
		return err
	}
	return c.record("Destination volume available", "destination", c.cfg.DestinationRoot, "log", c.deps.Log.Path())
}

func (c *Controller) lock(ctx context.Context) (func(), error) {
	if !c.cfg.RunLock || c.cfg.DryRun || c.deps.Locker == nil {
		return func() {}, nil
	}
	appID := fmt.Sprintf("%s:%s", buildinfo.BinaryName, c.cfg.DestinationRoot)
	release, err := c.deps.Locker.Lock(ctx, c.cfg.DestinationRoot, appID)
	if err != nil {
		if lockErr, ok := errors.AsType[*lockfile.ErrLockActive](err); ok {
			return nil, fmt.Errorf("another run is in progress for this destination: %w", lockErr)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	plog.Debug("Run lock acquired", "destination", c.cfg.DestinationRoot)
	return release, nil
}

func (c *Controller) archiveOldLogs() {
	if c.cfg.LogArchiveAfterDays <= 0 || c.cfg.DryRun {
		return
	}
	archived, err := c.archiveLogs(c.deps.Log.Dir(), c.deps.RunTime, c.cfg.LogArchiveAfterDays, c.cfg.LogArchiveFormat)
	for _, name := range archived {
		plog.Debug("Archived log file", "file", name)
	}
	if err != nil && !hints.IsHint(err) {
		plog.Warn("Failed to archive old log files", "error", err)
	}
}

func (c *Controller) hookPlan() *hook.Plan {
	return &hook.Plan{
		Enabled:          len(c.cfg.PreBackupHooks) > 0 || len(c.cfg.PostBackupHooks) > 0,
		PreHookCommands:  c.cfg.PreBackupHooks,
		PostHookCommands: c.cfg.PostBackupHooks,
		DryRun:           c.cfg.DryRun,
		FailFast:         true,
	}
}

// copySnapshot mirrors the source into today's snapshot directory. With a
// previous snapshot the alias is linked for the duration of the mirror and
// removed again on every path.
func (c *Controller) copySnapshot(ctx context.Context, r *Report) error {
	root := c.cfg.DestinationRoot
	targetName := snapshot.TargetName(c.deps.RunTime)
	target := filepath.Join(root, targetName)
	alias := filepath.Join(root, snapshot.AliasName)
	r.Snapshot = targetName

	snaps, err := c.list(root)
	if err != nil && !(c.cfg.DryRun && errors.Is(err, os.ErrNotExist)) {
		return fmt.Errorf("failed to list snapshots in %s: %w", root, err)
	}
	ref, hasRef := snapshot.SelectReference(snaps, targetName)

	if !c.cfg.DryRun {
		if err := c.mkdirAll(target, util.UserWritableDirPerms); err != nil {
			return fmt.Errorf("failed to create snapshot directory %s: %w", target, err)
		}
		// A crashed run may have left the alias behind.
		if err := c.deps.Linker.Unlink(alias); err != nil {
			plog.Warn("Failed to remove stale reference alias", "alias", alias, "error", err)
		}
	}

	r.Mode = mirror.Full
	if hasRef {
		r.Reference = ref.Name
		if err := c.record("Previous backup found", "reference", ref.Name); err != nil {
			return err
		}
		switch {
		case c.cfg.DryRun:
			r.Mode = mirror.Incremental
		default:
			if err := c.deps.Linker.Link(alias, ref.Path); err != nil {
				if err := c.record("Could not link previous backup, falling back to a full copy: " + err.Error()); err != nil {
					return err
				}
				break
			}
			r.Mode = mirror.Incremental
			defer func() {
				if err := c.deps.Linker.Unlink(alias); err != nil {
					plog.Error("Failed to remove reference alias", "alias", alias, "error", err)
					_ = c.record("Failed to remove reference alias: " + err.Error())
				}
			}()
		}
	} else if err := c.record("No previous backup found, performing a full copy"); err != nil {
		return err
	}

	job := mirror.Job{
		Source:      c.cfg.Source,
		Destination: target,
		Mode:        r.Mode,
	}
	if r.Mode == mirror.Incremental {
		job.Excludes = []string{alias}
	}
	if !c.cfg.DryRun {
		job.LogPath = c.deps.Log.Path()
	}

	if err := c.record("Starting "+r.Mode.String()+" copy", "source", job.Source, "destination", target); err != nil {
		return err
	}
	res, err := c.deps.Mirror.Run(ctx, job)
	r.Mirror = res
	if err != nil {
		return fmt.Errorf("mirror failed: %w", err)
	}
	if res.Status == mirror.Advisory {
		return c.record("Copy finished with warnings", "exitCode", res.ExitCode, "summary", res.Summary)
	}
	return c.record("Copy finished", "exitCode", res.ExitCode)
}

// prune applies the retention count. Deletion failures are recorded, never
// fatal; only a broken run log aborts.
func (c *Controller) prune(ctx context.Context, r *Report) error {
	if err := c.record("Applying retention", "keep", c.cfg.RetentionCount); err != nil {
		return err
	}
	res, err := c.deps.Pruner.Prune(ctx, c.cfg.DestinationRoot, retention.Plan{
		Keep:          c.cfg.RetentionCount,
		DeleteWorkers: c.cfg.DeleteWorkers,
		DryRun:        c.cfg.DryRun,
		Metrics:       c.cfg.Metrics,
	})
	r.Prune = res
	switch {
	case err == nil:
		return c.record("Retention applied", "deleted", len(res.Deleted))
	case hints.IsHint(err):
		return nil
	case errors.Is(err, retention.ErrRecord),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}

	if pruneErr, ok := errors.AsType[*retention.PruneError](err); ok {
		for _, f := range pruneErr.Failures {
			if recErr := c.record("Failed to delete old snapshot", "path", f.Path, "error", f.Err); recErr != nil {
				return recErr
			}
		}
		return nil
	}
	plog.Warn("Retention skipped", "error", err)
	return c.record("Retention skipped: " + err.Error())
}

func (c *Controller) shutdownIfConfigured(ctx context.Context, r *Report) {
	if !c.cfg.ShutdownOnCompletion {
		return
	}
	if c.cfg.DryRun {
		plog.Info("[DRY RUN] Would shut down the computer")
		return
	}

	_ = c.record(fmt.Sprintf("The computer will shut down in %d seconds", int(config.ShutdownGracePeriod/time.Second)))
	select {
	case <-ctx.Done():
		_ = c.record("Shutdown cancelled")
		return
	case <-c.deps.Clock.After(config.ShutdownGracePeriod):
	}

	if err := c.deps.Shutdowner.Shutdown(ctx); err != nil {
		plog.Error("Shutdown request failed", "error", err)
		_ = c.record("Shutdown request failed: " + err.Error())
		return
	}
	r.ShutdownRequested = true
}

func (c *Controller) enter(r *Report, s State) {
	plog.Debug("Run state changed", "from", r.State, "to", s)
	r.State = s
}

func (c *Controller) abort(r *Report, err error) {
	from := r.State
	r.Err = err
	c.enter(r, Aborted)

	msg := "Backup aborted: " + err.Error()
	if _, ok := errors.AsType[*preflight.VolumeUnavailableError](err); ok {
		msg = "Backup skipped, destination volume unavailable: " + err.Error()
	}
	plog.Error("Run aborted", "state", from, "error", err)
	_ = c.record(msg)
}

func (c *Controller) record(msg string, args ...any) error {
	if err := c.deps.Log.Record(msg, args...); err != nil {
		return fmt.Errorf("failed to write run log: %w", err)
	}
	return nil
}
