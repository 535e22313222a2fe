package cli

import (
	"github.com/spf13/cobra"

	"github.com/hexene/lavarec/internal/ingest"
	"github.com/hexene/lavarec/internal/store"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Taint string
	Atps  string
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Replay collaborator reports into the provenance database",
		Long: `Replay taint and attack point reports into the provenance database.

Reports are produced by the external taint engine and static-analysis pass.
Ingestion is idempotent: re-running the same report creates nothing new.

Examples:
  lavarec ingest --db lava.db --taint run1.yaml
  lavarec ingest --db lava.db --atps atps.yaml
  lavarec ingest --db lava.db --taint run1.yaml --atps atps.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Taint, "taint", "", "taint report file (YAML)")
	cmd.Flags().StringVar(&opts.Atps, "atps", "", "attack point report file (YAML)")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	if opts.Taint == "" && opts.Atps == "" {
		return WrapExitError(ExitCommandError, "nothing to ingest", nil)
	}

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

	in := ingest.New(s)
	var total ingest.Summary

	if opts.Taint != "" {
		report, err := ingest.LoadTaintReport(opts.Taint)
		if err != nil {
			return WrapExitError(ExitCommandError, "load taint report", err)
		}
		f.VerboseLog("ingesting taint report %s (%d duas, %d calls)", opts.Taint, len(report.Duas), len(report.Calls))

		sum, err := in.IngestTaint(cmd.Context(), report)
		if err != nil {
			return WrapExitError(ExitFailure, "ingest taint report", err)
		}
		total.Duas += sum.Duas
		total.NewDuas += sum.NewDuas
		total.Calls += sum.Calls
	}

	if opts.Atps != "" {
		report, err := ingest.LoadAtpReport(opts.Atps)
		if err != nil {
			return WrapExitError(ExitCommandError, "load attack point report", err)
		}
		f.VerboseLog("ingesting attack point report %s (%d sites)", opts.Atps, len(report.AttackPoints))

		sum, err := in.IngestAtps(cmd.Context(), report)
		if err != nil {
			return WrapExitError(ExitFailure, "ingest attack point report", err)
		}
		total.AttackPoints += sum.AttackPoints
		total.NewAttackPoints += sum.NewAttackPoints
	}

	if opts.Format == "json" {
		return f.JSON(total)
	}
	f.Textf("ingested: %d duas (%d new), %d calls, %d attack points (%d new)",
		total.Duas, total.NewDuas, total.Calls, total.AttackPoints, total.NewAttackPoints)
	return nil
}
