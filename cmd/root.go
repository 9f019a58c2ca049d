// Package cmd implements the pgl-snapshot command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/command"
	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// Env carries the process-level collaborators into the commands.
type Env struct {
	Runner command.Runner
	Clock  clock.Clock
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultEnv runs real programs on the wall clock.
func DefaultEnv() Env {
	return Env{
		Runner: command.NewExecRunner(),
		Clock:  clock.WallClock,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	ConfigPath string
	DryRun     bool
	LogLevel   string
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCommand builds the command tree. Without a subcommand it performs
// one backup run.
func NewRootCommand(env Env) *cobra.Command {
	opts := &GlobalOptions{}

	root := &cobra.Command{
		Use:   buildinfo.BinaryName,
		Short: "Incremental dated snapshots of a directory on an external volume",
		Long: buildinfo.Name + ` copies a source directory into a dated Backup_<yyyy-MM-dd> folder
on an external volume, mirroring incrementally against the previous snapshot,
and keeps a bounded number of snapshots.

Run without a command to perform one backup.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return RunBackup(c.Context(), env, *opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to the configuration file (default: "+config.FileName+" next to the executable)")
	flags.BoolVar(&opts.DryRun, "dry-run", false, "Show what would be done without making any changes")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Override the log level: 'debug', 'notice', 'info', 'warn', 'error'")

	root.AddCommand(
		newPruneCommand(env, opts),
		newListCommand(env, opts),
		newInitCommand(env, opts),
		newScheduleCommand(env, opts),
		newVersionCommand(env),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, env Env) int {
	root := NewRootCommand(env)
	root.SetArgs(args)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if exitErr, ok := errors.AsType[*ExitError](err); ok {
		return exitErr.Code
	}
	plog.Error(buildinfo.Name+" exited with error", "error", err)
	console.New(env.Stderr).Failure(err.Error())
	return 1
}

// loadRunConfig reads and resolves the configuration for one command.
func loadRunConfig(opts GlobalOptions) (config.RunConfig, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.RunConfig{}, fmt.Errorf("could not locate the configuration file: %w", err)
		}
	}

	f, err := config.Load(path)
	if err != nil {
		return config.RunConfig{}, err
	}

	// The flag wins over the file.
	level := f.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	plog.SetLevel(plog.LevelFromString(level))

	cfg, err := f.Resolve(path, opts.DryRun)
	if err != nil {
		return config.RunConfig{}, err
	}
	cfg.LogLevel = level
	cfg.LogSummary()
	return cfg, nil
}
