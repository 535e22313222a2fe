package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	BugID int64
}

// TraceResult holds the full provenance chain for one bug: the taint
// observation it came from, the site it targets, and the fate of every build
// it was injected into.
type TraceResult struct {
	Bug    model.Bug         `json:"bug"`
	Dua    model.Dua         `json:"dua"`
	Lval   model.SourceLval  `json:"lval"`
	Atp    model.AttackPoint `json:"atp"`
	Builds []TraceBuild      `json:"builds"`
}

// TraceBuild pairs a build with its runs.
type TraceBuild struct {
	Build model.Build `json:"build"`
	Runs  []model.Run `json:"runs"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <bug-id>",
		Short: "Show the provenance chain for a bug",
		Long: `Show the full provenance chain for one synthesized bug:
the DUA and source lval it corrupts, the attack point it targets, every
build it was injected into, and every run of those builds.

Examples:
  lavarec trace 17 --db lava.db
  lavarec trace 17 --db lava.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid bug id %q", args[0]), err)
			}
			opts.BugID = id
			return runTrace(opts, cmd)
		},
	}
	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
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

	result, err := collectTrace(opts, s, cmd)
	if err != nil {
		return err
	}

	if opts.Format == "json" {
		return f.JSON(result)
	}

	f.Textf("Bug %d: liveness %.4f, selected bytes %v",
		result.Bug.ID, result.Bug.MaxLiveness, result.Bug.SelectedBytes)
	f.Textf("  %s", result.Lval)
	f.Textf("  %s", result.Dua)
	f.Textf("  %s", result.Atp)
	if len(result.Builds) == 0 {
		f.Textf("  never built")
		return nil
	}
	for _, tb := range result.Builds {
		f.Textf("  Build %d -> %s compiled=%t", tb.Build.ID, tb.Build.Output, tb.Build.Compiled)
		for _, run := range tb.Runs {
			input := "orig input"
			if run.FuzzedBugID != nil {
				input = fmt.Sprintf("fuzzed by bug %d", *run.FuzzedBugID)
			}
			f.Textf("    Run %d: %s, exit %d, harness ok=%t", run.ID, input, run.ExitCode, run.Success)
		}
	}
	return nil
}

func collectTrace(opts *TraceOptions, s *store.Store, cmd *cobra.Command) (TraceResult, error) {
	ctx := cmd.Context()

	bug, err := s.Bug(ctx, opts.BugID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TraceResult{}, WrapExitError(ExitFailure, fmt.Sprintf("no bug with id %d", opts.BugID), nil)
		}
		return TraceResult{}, WrapExitError(ExitFailure, "read bug", err)
	}

	dua, err := s.Dua(ctx, bug.DuaID)
	if err != nil {
		return TraceResult{}, WrapExitError(ExitFailure, "read dua", err)
	}
	lval, err := s.Lval(ctx, dua.LvalID)
	if err != nil {
		return TraceResult{}, WrapExitError(ExitFailure, "read lval", err)
	}
	atp, err := s.AttackPoint(ctx, bug.AtpID)
	if err != nil {
		return TraceResult{}, WrapExitError(ExitFailure, "read attack point", err)
	}

	builds, err := s.BuildsForBug(ctx, bug.ID)
	if err != nil {
		return TraceResult{}, WrapExitError(ExitFailure, "read builds", err)
	}

	result := TraceResult{Bug: bug, Dua: dua, Lval: lval, Atp: atp, Builds: []TraceBuild{}}
	for _, build := range builds {
		runs, err := s.RunsForBuild(ctx, build.ID)
		if err != nil {
			return TraceResult{}, WrapExitError(ExitFailure, "read runs", err)
		}
		result.Builds = append(result.Builds, TraceBuild{Build: build, Runs: runs})
	}
	return result, nil
}
