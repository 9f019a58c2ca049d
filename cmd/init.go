package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/flagparse"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// InitOptions are the flags of the init command. Empty values keep the
// defaults.
type InitOptions struct {
	Force        bool
	Volume       string
	BackupFolder string
	LogDir       string
	Source       string
	Schedule     string
	PreHooks     flagparse.CommandList
	PostHooks    flagparse.CommandList
}

func newInitCommand(env Env, opts *GlobalOptions) *cobra.Command {
	initOpts := &InitOptions{}
	c := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return RunInit(env, *opts, *initOpts)
		},
	}
	c.Flags().BoolVar(&initOpts.Force, "force", false, "Overwrite an existing configuration file without asking")
	c.Flags().StringVar(&initOpts.Volume, "volume", "", "External volume root")
	c.Flags().StringVar(&initOpts.BackupFolder, "backup-folder", "", "Snapshot folder on the volume")
	c.Flags().StringVar(&initOpts.LogDir, "log-dir", "", "Log folder on the volume")
	c.Flags().StringVar(&initOpts.Source, "source", "", "Directory to back up")
	c.Flags().StringVar(&initOpts.Schedule, "schedule", "", "Cron expression for the schedule command")
	c.Flags().Var(&initOpts.PreHooks, "pre-backup-hooks", "Comma-separated commands to run before the copy (repeatable)")
	c.Flags().Var(&initOpts.PostHooks, "post-backup-hooks", "Comma-separated commands to run after the run (repeatable)")
	return c
}

// RunInit writes the configuration file.
func RunInit(env Env, opts GlobalOptions, initOpts InitOptions) error {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return fmt.Errorf("could not locate the configuration file: %w", err)
		}
	}

	f := config.NewDefault()
	setIfNotEmpty(&f.Volume, initOpts.Volume)
	setIfNotEmpty(&f.BackupFolder, initOpts.BackupFolder)
	setIfNotEmpty(&f.LogDir, initOpts.LogDir)
	setIfNotEmpty(&f.Source, initOpts.Source)
	setIfNotEmpty(&f.Schedule, initOpts.Schedule)
	if len(initOpts.PreHooks) > 0 {
		f.PreBackupHooks = initOpts.PreHooks
	}
	if len(initOpts.PostHooks) > 0 {
		f.PostBackupHooks = initOpts.PostHooks
	}

	if opts.DryRun {
		data, err := config.Marshal(f)
		if err != nil {
			return err
		}
		plog.Info("[DRY RUN] Would write configuration file", "path", path)
		_, err = env.Stdout.Write(data)
		return err
	}

	if _, err := os.Stat(path); err == nil && !initOpts.Force {
		fmt.Fprintf(env.Stdout, "WARNING: Configuration file already exists at %s.\n", path)
		fmt.Fprintf(env.Stdout, "All custom settings will be replaced with default values.\n")
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " init operation canceled.")
			return nil
		}
	}

	if err := config.Generate(path, f, true); err != nil {
		return err
	}
	console.New(env.Stdout).Success("Configuration written to " + path)
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	return promptFrom(os.Stdin, os.Stdout, prompt, defaultYes)
}

func promptFrom(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
