// Package mirror drives the external mirroring utility that does the actual
// byte-level copy: robocopy on Windows, rsync everywhere else.
//
// Exit status classification is engine specific and pinned down here:
//
//	robocopy: 0-7 success (bit 1 copied, bit 2 extras, bit 4 mismatches), >= 8 fatal
//	rsync:    0 success, 24 vanished source files (advisory), anything else fatal;
//	          23, 30 and 35 re-run the whole transfer up to retryCount times.
package mirror

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/paulschiretz/pgl-snapshot/pkg/command"
	"github.com/paulschiretz/pgl-snapshot/pkg/util"
)

// Mode selects between a full copy and a reference assisted mirror.
type Mode int

const (
	// Full copies every file and directory recursively.
	Full Mode = iota
	// Incremental makes the destination an exact reflection of the source,
	// skipping files whose timestamps did not change.
	Incremental
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	default:
		return fmt.Sprintf("unknown_mode(%d)", int(m))
	}
}

// Engine is the mirroring utility.
type Engine string

const (
	Auto     Engine = "auto"
	Robocopy Engine = "robocopy"
	Rsync    Engine = "rsync"
)

var engineToString = map[Engine]string{
	Auto:     "auto",
	Robocopy: "robocopy",
	Rsync:    "rsync",
}

var stringToEngine = util.InvertMap(engineToString)

func (e Engine) String() string {
	if str, ok := engineToString[e]; ok {
		return str
	}
	return fmt.Sprintf("unknown_engine(%s)", string(e))
}

// ParseEngine parses a configuration value. The empty string maps to Auto.
func ParseEngine(s string) (Engine, error) {
	if s == "" {
		return Auto, nil
	}
	if e, ok := stringToEngine[strings.ToLower(s)]; ok {
		return e, nil
	}
	return "", fmt.Errorf("invalid mirror engine: %q. Must be 'auto', 'robocopy' or 'rsync'", s)
}

// Resolve maps Auto to the platform default for goos.
func (e Engine) Resolve(goos string) Engine {
	if e != Auto {
		return e
	}
	if goos == "windows" {
		return Robocopy
	}
	return Rsync
}

// Status classifies a finished invocation.
type Status int

const (
	Success Status = iota
	// Advisory means the copy completed but the utility reported conditions
	// worth recording, such as vanished or extra files.
	Advisory
	Fatal
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Advisory:
		return "advisory"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown_status(%d)", int(s))
	}
}

// Job is one mirror invocation.
type Job struct {
	Source      string
	Destination string
	// LogPath receives the utility's own output in append mode.
	LogPath string
	Mode    Mode
	// Excludes are directory paths the utility must not descend into.
	Excludes []string
}

// Options configure the runner.
type Options struct {
	Engine     Engine
	RetryCount int
	RetryWait  time.Duration
	DryRun     bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Result describes a finished invocation.
type Result struct {
	Engine   Engine
	Mode     Mode
	ExitCode int
	Status   Status
	Summary  string
	Attempts int
}

// FailureError is a fatal mirror outcome. ExitCode is -1 if the utility
// could not be started or was cancelled.
type FailureError struct {
	Engine   Engine
	ExitCode int
	Summary  string
	Err      error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Engine, e.Err)
	}
	return fmt.Sprintf("%s failed with exit code %d: %s", e.Engine, e.ExitCode, e.Summary)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Runner invokes the mirroring utility.
type Runner struct {
	runner command.Runner
	engine Engine
	opts   Options
	clock  clock.Clock
}

// NewRunner resolves the engine for the current platform.
func NewRunner(r command.Runner, opts Options, clk clock.Clock) *Runner {
	return newRunnerFor(r, opts, clk, runtime.GOOS)
}

func newRunnerFor(r command.Runner, opts Options, clk clock.Clock, goos string) *Runner {
	if clk == nil {
		clk = clock.WallClock
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	return &Runner{
		runner: r,
		engine: opts.Engine.Resolve(goos),
		opts:   opts,
		clock:  clk,
	}
}

// Engine returns the resolved engine.
func (r *Runner) Engine() Engine {
	return r.engine
}

// Command returns the command line Run would execute for job.
func (r *Runner) Command(job Job) command.Cmd {
	var args []string
	switch r.engine {
	case Robocopy:
		args = robocopyArgs(job, r.opts)
	default:
		args = rsyncArgs(job, r.opts)
	}
	return command.Cmd{
		Name:   string(r.engine),
		Args:   args,
		Stdout: r.opts.Stdout,
		Stderr: r.opts.Stderr,
	}
}

// Run executes job. A fatal outcome is returned as *FailureError together
// with the Result describing it.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	switch r.engine {
	case Robocopy:
		return r.runRobocopy(ctx, job)
	case Rsync:
		return r.runRsync(ctx, job)
	default:
		return Result{}, fmt.Errorf("unsupported mirror engine: %s", r.engine)
	}
}

func (r *Runner) failure(res Result, err error) (Result, error) {
	res.Status = Fatal
	return res, &FailureError{Engine: r.engine, ExitCode: res.ExitCode, Summary: res.Summary, Err: err}
}
