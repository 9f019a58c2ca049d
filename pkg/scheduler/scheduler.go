// Package scheduler runs backups on a cron schedule while the process stays
// resident. A tick that fires while the previous run is still in flight is
// skipped.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// cronLogger forwards cron's own log lines to plog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	plog.Debug("scheduler: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	plog.Error("scheduler: "+msg, append(keysAndValues, "error", err)...)
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	entry    cron.EntryID

	mu  sync.Mutex
	ctx context.Context
}

// Parse validates a standard five-field cron expression or a descriptor
// such as "@daily".
func Parse(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("no schedule configured")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// New schedules job on spec. Runs never overlap.
func New(spec string, job Job) (*Scheduler, error) {
	schedule, err := Parse(spec)
	if err != nil {
		return nil, err
	}

	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		schedule: schedule,
		ctx:      context.Background(),
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		job(s.context())
	}))
	return s, nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run starts the schedule and blocks until ctx is cancelled. It returns once
// a run that is in flight at that point has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	plog.Info("Scheduler started", "next", s.Next(time.Now()).Format(time.DateTime))

	<-ctx.Done()
	plog.Info("Scheduler stopping, waiting for a running backup to finish")
	<-s.cron.Stop().Done()
	return nil
}

// trigger runs the wrapped job once, the way a tick would.
func (s *Scheduler) trigger() {
	s.cron.Entry(s.entry).WrappedJob.Run()
}
