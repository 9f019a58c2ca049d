package cmd

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/retention"
	"github.com/paulschiretz/pgl-snapshot/pkg/snapshot"
)

func newListCommand(env Env, opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the snapshots in the destination",
		Long: `Lists the snapshots by name, newest first, with their creation time.
The snapshot the next run links as its reference and the snapshots beyond
the retention count are marked.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return RunList(env, *opts)
		},
	}
}

// RunList prints the snapshots under the destination root.
func RunList(env Env, opts GlobalOptions) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}

	snaps, err := snapshot.List(cfg.DestinationRoot)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	now := env.Clock.Now()
	ref, hasRef := snapshot.SelectReference(snaps, snapshot.TargetName(now))
	_, victims := retention.SelectVictims(snaps, cfg.RetentionCount)
	beyond := make(map[string]bool, len(victims))
	for _, v := range victims {
		beyond[v.Name] = true
	}

	var rows [][]string
	for _, s := range snapshot.SortByNameDesc(snaps) {
		var notes []string
		if hasRef && s.Name == ref.Name {
			notes = append(notes, "next reference")
		}
		if beyond[s.Name] {
			notes = append(notes, "beyond retention")
		}
		rows = append(rows, []string{
			s.Name,
			s.CreationTime.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(s.CreationTime, now, "ago", "from now"),
			strings.Join(notes, ", "),
		})
	}

	console.New(env.Stdout).Table([]string{"NAME", "CREATED", "AGE", "NOTE"}, rows)
	return nil
}
