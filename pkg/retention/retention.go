// Package retention prunes old snapshots beyond a keep count. Victims are
// chosen strictly by creation time, newest kept first.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-snapshot/pkg/hints"
	"github.com/paulschiretz/pgl-snapshot/pkg/metrics"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/snapshot"
)

// ErrNothingToPrune is returned when the snapshot count is within the limit.
var ErrNothingToPrune = hints.New("no snapshots need deletion")

// ErrRecord marks a prune that stopped because the run log could not be
// written.
var ErrRecord = errors.New("failed to record deletion")

// Recorder writes a run log entry. A returned error means the run log is
// broken and is treated as fatal.
type Recorder interface {
	Record(msg string, args ...any) error
}

// Plan configures one prune.
type Plan struct {
	Keep          int
	DeleteWorkers int
	DryRun        bool
	// Metrics logs deletion counters while the prune runs.
	Metrics bool
}

// progressInterval is how often deletion counters are logged with Plan.Metrics.
var progressInterval = 10 * time.Second

// Result lists what a prune did.
type Result struct {
	Kept    []snapshot.Snapshot
	Deleted []snapshot.Snapshot
}

// Failure is one snapshot that could not be deleted.
type Failure struct {
	Path string
	Err  error
}

// PruneError aggregates deletion failures. The other deletions were still
// attempted.
type PruneError struct {
	Failures []Failure
}

func (e *PruneError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Path, f.Err)
	}
	return fmt.Sprintf("failed to delete %d snapshot(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *PruneError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// SnapshotPruner applies the keep count to a destination root.
type SnapshotPruner interface {
	Prune(ctx context.Context, root string, plan Plan) (Result, error)
}

// Pruner deletes snapshot directories.
type Pruner struct {
	rec       Recorder
	list      func(root string) ([]snapshot.Snapshot, error)
	removeAll func(path string) error
}

// Statically assert that *Pruner implements the SnapshotPruner interface.
var _ SnapshotPruner = (*Pruner)(nil)

// NewPruner returns a Pruner that records every deletion with rec.
func NewPruner(rec Recorder) *Pruner {
	return &Pruner{rec: rec, list: snapshot.List, removeAll: os.RemoveAll}
}

// SelectVictims orders snapshots by creation time descending and splits them
// at keep. Everything past index keep-1 is a victim.
func SelectVictims(snapshots []snapshot.Snapshot, keep int) (kept, victims []snapshot.Snapshot) {
	sorted := snapshot.SortByCreationDesc(snapshots)
	if len(sorted) <= keep {
		return sorted, nil
	}
	return sorted[:keep], sorted[keep:]
}

// Prune lists the snapshots under root and deletes the oldest ones beyond
// plan.Keep. Each deletion is recorded before it happens. Deletion failures
// are collected into a *PruneError; a failure to record aborts the prune.
func (p *Pruner) Prune(ctx context.Context, root string, plan Plan) (Result, error) {
	if plan.Keep < 1 {
		return Result{}, fmt.Errorf("invalid retention count %d: must be at least 1", plan.Keep)
	}

	all, err := p.list(root)
	if err != nil {
		return Result{}, err
	}

	kept, victims := SelectVictims(all, plan.Keep)
	res := Result{Kept: kept}
	if len(victims) == 0 {
		plog.Debug("No snapshots need deletion", "count", len(all), "keep", plan.Keep)
		return res, ErrNothingToPrune
	}

	plog.Info("Deleting outdated snapshots", "count", len(victims), "keep", plan.Keep)

	var m metrics.Retention = metrics.NoopMetrics{}
	if plan.Metrics {
		m = &metrics.RetentionMetrics{}
	}
	m.StartProgress("Retention progress", progressInterval)
	defer func() {
		m.StopProgress()
		m.LogSummary("Retention summary")
	}()

	workers := max(plan.DeleteWorkers, 1)
	var (
		mu       sync.Mutex
		failures []Failure
	)

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, victim := range victims {
		if ctx.Err() != nil {
			plog.Debug("Cancellation received, stopping retention job feeding.")
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if plan.DryRun {
				if err := p.rec.Record("[DRY RUN] Deleting old snapshot", "path", victim.Path); err != nil {
					return err
				}
				return nil
			}
			if err := p.rec.Record("Deleting old snapshot", "path", victim.Path); err != nil {
				return err
			}
			plog.Notice("DELETE", "path", victim.Path)
			if err := p.removeAll(victim.Path); err != nil {
				plog.Warn("Failed to delete outdated snapshot directory", "path", victim.Path, "error", err)
				m.AddSnapshotsFailed(1)
				mu.Lock()
				failures = append(failures, Failure{Path: victim.Path, Err: err})
				mu.Unlock()
				return nil
			}
			plog.Notice("DELETED", "path", victim.Path)
			m.AddSnapshotsDeleted(1)
			mu.Lock()
			res.Deleted = append(res.Deleted, victim)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrRecord, err)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(failures) > 0 {
		return res, &PruneError{Failures: failures}
	}
	return res, nil
}

