package mirror

import (
	"context"
	"strconv"
	"strings"
)

// robocopy exit code bits.
const (
	robocopyCopied     = 1
	robocopyExtras     = 2
	robocopyMismatches = 4
	robocopyFailures   = 8
	robocopyFatal      = 16
)

func robocopyArgs(job Job, opts Options) []string {
	args := []string{job.Source, job.Destination}
	switch job.Mode {
	case Incremental:
		args = append(args, "/MIR", "/XO", "/FFT")
	default:
		args = append(args, "/E")
	}
	args = append(args,
		"/R:"+strconv.Itoa(opts.RetryCount),
		"/W:"+strconv.Itoa(int(opts.RetryWait.Seconds())),
		"/NP",
	)
	if opts.DryRun {
		args = append(args, "/L")
	}
	if job.Mode == Incremental && len(job.Excludes) > 0 {
		args = append(args, "/XD")
		args = append(args, job.Excludes...)
	}
	if job.LogPath != "" {
		args = append(args, "/LOG+:"+job.LogPath)
	}
	return args
}

// classifyRobocopy maps a robocopy exit code. Codes below 8 are successful
// runs; 2 and 4 carry information worth recording.
func classifyRobocopy(code int) (Status, string) {
	if code < 0 {
		return Fatal, "robocopy did not report an exit code"
	}

	var parts []string
	if code&robocopyFatal != 0 {
		parts = append(parts, "serious error, no files were copied")
	}
	if code&robocopyFailures != 0 {
		parts = append(parts, "some files or directories could not be copied")
	}
	if code&robocopyMismatches != 0 {
		parts = append(parts, "mismatched files or directories detected")
	}
	if code&robocopyExtras != 0 {
		parts = append(parts, "extra files or directories detected")
	}
	if code&robocopyCopied != 0 {
		parts = append(parts, "files copied")
	}
	if code == 0 {
		parts = append(parts, "no changes")
	}
	summary := strings.Join(parts, "; ")

	switch {
	case code >= robocopyFailures:
		return Fatal, summary
	case code&(robocopyExtras|robocopyMismatches) != 0:
		return Advisory, summary
	default:
		return Success, summary
	}
}

// runRobocopy makes a single invocation; robocopy retries per file itself.
func (r *Runner) runRobocopy(ctx context.Context, job Job) (Result, error) {
	res := Result{Engine: Robocopy, Mode: job.Mode, Attempts: 1}

	code, err := r.runner.Run(ctx, r.Command(job))
	if err != nil {
		res.ExitCode = -1
		res.Summary = "robocopy could not be run"
		return r.failure(res, err)
	}

	res.ExitCode = code
	res.Status, res.Summary = classifyRobocopy(code)
	if res.Status == Fatal {
		return r.failure(res, nil)
	}
	return res, nil
}
