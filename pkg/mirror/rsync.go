package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/juju/retry"

	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

var rsyncExitText = map[int]string{
	0:  "success",
	1:  "syntax or usage error",
	2:  "protocol incompatibility",
	3:  "errors selecting input/output files, dirs",
	5:  "error starting client-server protocol",
	10: "error in socket I/O",
	11: "error in file I/O",
	12: "error in rsync protocol data stream",
	20: "received SIGUSR1 or SIGINT",
	23: "partial transfer due to error",
	24: "partial transfer due to vanished source files",
	30: "timeout in data send/receive",
	35: "timeout waiting for daemon connection",
}

func rsyncRetryable(code int) bool {
	return code == 23 || code == 30 || code == 35
}

// withTrailingSep makes rsync copy the contents of a directory rather than
// the directory itself.
func withTrailingSep(path string) string {
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + "/"
}

// rsyncExclude anchors an exclude path to the transfer root. Paths outside
// the source cannot be reached by the transfer and are passed unchanged.
func rsyncExclude(source, exclude string) string {
	rel, err := filepath.Rel(source, exclude)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return exclude
	}
	return "/" + filepath.ToSlash(rel)
}

func rsyncArgs(job Job, opts Options) []string {
	args := []string{"-rlt", "--quiet"}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if job.Mode == Incremental {
		args = append(args, "--delete", "--update", "--modify-window=2")
		for _, ex := range job.Excludes {
			args = append(args, "--exclude="+rsyncExclude(job.Source, ex))
		}
	}
	if job.LogPath != "" {
		args = append(args, "--log-file="+job.LogPath)
	}
	return append(args, withTrailingSep(job.Source), withTrailingSep(job.Destination))
}

func classifyRsync(code int) (Status, string) {
	text, ok := rsyncExitText[code]
	if !ok {
		text = fmt.Sprintf("rsync exit code %d", code)
	}
	switch code {
	case 0:
		return Success, text
	case 24:
		return Advisory, text
	default:
		return Fatal, text
	}
}

// rsyncExit carries a retryable exit code through retry.Call.
type rsyncExit struct {
	code int
}

func (e *rsyncExit) Error() string {
	return fmt.Sprintf("rsync exited with code %d", e.code)
}

// runRsync re-runs the whole transfer on retryable exit codes, since rsync
// has no per-file retry.
func (r *Runner) runRsync(ctx context.Context, job Job) (Result, error) {
	res := Result{Engine: Rsync, Mode: job.Mode}
	c := r.Command(job)

	var startErr error
	callErr := retry.Call(retry.CallArgs{
		Func: func() error {
			res.Attempts++
			code, err := r.runner.Run(ctx, c)
			if err != nil {
				startErr = err
				return err
			}
			res.ExitCode = code
			if rsyncRetryable(code) {
				return &rsyncExit{code: code}
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			_, ok := err.(*rsyncExit)
			return !ok
		},
		NotifyFunc: func(err error, attempt int) {
			plog.Warn("rsync reported a retryable error, running again", "attempt", attempt, "error", err)
		},
		Attempts: r.opts.RetryCount + 1,
		Delay:    max(r.opts.RetryWait, 1),
		Clock:    r.clock,
		Stop:     ctx.Done(),
	})

	if startErr != nil {
		res.ExitCode = -1
		res.Summary = "rsync could not be run"
		return r.failure(res, startErr)
	}
	if callErr != nil && ctx.Err() != nil {
		res.Summary = "cancelled"
		return r.failure(res, ctx.Err())
	}

	res.Status, res.Summary = classifyRsync(res.ExitCode)
	if res.Status == Fatal {
		return r.failure(res, nil)
	}
	return res, nil
}
