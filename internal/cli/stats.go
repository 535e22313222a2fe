package cli

import (
	"github.com/spf13/cobra"

	"github.com/hexene/lavarec/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entity counts for the provenance database",
		Long: `Show row counts for every entity table.

Example:
  lavarec stats --db lava.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer s.Close()

	stats, err := s.ReadStats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "read stats", err)
	}

	if opts.Format == "json" {
		return f.JSON(stats)
	}

	f.Textf("source lvals:         %d", stats.Lvals)
	f.Textf("label sets:           %d", stats.LabelSets)
	f.Textf("duas:                 %d (%d fake)", stats.Duas, stats.FakeDuas)
	f.Textf("attack points:        %d", stats.AttackPoints)
	f.Textf("source modifications: %d", stats.SourceModifications)
	f.Textf("bugs:                 %d", stats.Bugs)
	f.Textf("builds:               %d", stats.Builds)
	f.Textf("runs:                 %d", stats.Runs)
	f.Textf("functions:            %d", stats.Functions)
	f.Textf("calls:                %d", stats.Calls)
	return nil
}
