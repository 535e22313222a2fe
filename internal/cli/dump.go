package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hexene/lavarec/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Entity string
}

// dumpEntities lists the dumpable entity kinds.
var dumpEntities = []string{"lvals", "duas", "atps", "bugs", "builds", "runs"}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <entity>",
		Short: "List records of one entity kind",
		Long: `List all records of one entity kind in creation order.

Entities: lvals, duas, atps, bugs, builds, runs

Examples:
  lavarec dump duas --db lava.db
  lavarec dump bugs --db lava.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Entity = args[0]
			return runDump(opts, cmd)
		},
	}
	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
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

	ctx := cmd.Context()
	switch opts.Entity {
	case "lvals":
		lvals, err := s.ListLvals(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list lvals", err)
		}
		if opts.Format == "json" {
			return f.JSON(lvals)
		}
		for _, lval := range lvals {
			f.Textf("%d\t%s", lval.ID, lval)
		}
	case "duas":
		duas, err := s.ListDuas(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list duas", err)
		}
		if opts.Format == "json" {
			return f.JSON(duas)
		}
		for _, dua := range duas {
			f.Textf("%d\t%s", dua.ID, dua)
		}
	case "atps":
		atps, err := s.ListAttackPoints(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list attack points", err)
		}
		if opts.Format == "json" {
			return f.JSON(atps)
		}
		for _, atp := range atps {
			f.Textf("%d\t%s", atp.ID, atp)
		}
	case "bugs":
		bugs, err := s.ListBugs(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list bugs", err)
		}
		if opts.Format == "json" {
			return f.JSON(bugs)
		}
		for _, bug := range bugs {
			f.Textf("%d\tdua %d atp %d bytes %v liveness %.4f",
				bug.ID, bug.DuaID, bug.AtpID, bug.SelectedBytes, bug.MaxLiveness)
		}
	case "builds":
		builds, err := s.ListBuilds(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list builds", err)
		}
		if opts.Format == "json" {
			return f.JSON(builds)
		}
		for _, build := range builds {
			f.Textf("%d\t%s compiled=%t bugs=%v", build.ID, build.Output, build.Compiled, build.BugIDs)
		}
	case "runs":
		runs, err := s.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "list runs", err)
		}
		if opts.Format == "json" {
			return f.JSON(runs)
		}
		for _, run := range runs {
			fuzzed := "orig"
			if run.FuzzedBugID != nil {
				fuzzed = fmt.Sprintf("bug %d", *run.FuzzedBugID)
			}
			f.Textf("%d\tbuild %d input %s exit %d success=%t",
				run.ID, run.BuildID, fuzzed, run.ExitCode, run.Success)
		}
	default:
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("unknown entity %q: must be one of %v", opts.Entity, dumpEntities), nil)
	}
	return nil
}
