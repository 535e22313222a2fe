// Package ledger records the fate of synthesized bugs: which bugs were
// compiled into which binary, and what happened when each binary ran.
//
// Builds and runs are process outcomes, not deduplicated entities. A failed
// compile and a crashed target are recorded as data; they are expected,
// frequent results of an adversarial pipeline and never surface as errors.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/store"
)

// ErrAlreadyRecorded is returned when a BuildAssembly is used after its
// terminal record was written.
var ErrAlreadyRecorded = errors.New("build already recorded")

// Ledger writes build and run records through the store.
type Ledger struct {
	store *store.Store
}

// New returns a Ledger writing through the given store.
func New(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// BuildAssembly accumulates the ordered bug set for one compilation attempt.
// Accumulation happens strictly before compilation starts and must not be
// shared across goroutines; the persisted record is terminal. A failed build
// is never retried in place - start a new assembly for a different bug set.
type BuildAssembly struct {
	ledger   *Ledger
	output   string
	bugIDs   []int64
	recorded bool
}

// NewBuild starts assembling a build targeting the given output binary path.
func (l *Ledger) NewBuild(output string) *BuildAssembly {
	return &BuildAssembly{ledger: l, output: output}
}

// AddBug appends a bug to the injection set. Order is preserved into the
// persisted record.
func (b *BuildAssembly) AddBug(bug model.Bug) *BuildAssembly {
	b.bugIDs = append(b.bugIDs, bug.ID)
	return b
}

// AddBugID appends a bug by ID, for callers holding only the reference.
func (b *BuildAssembly) AddBugID(id int64) *BuildAssembly {
	b.bugIDs = append(b.bugIDs, id)
	return b
}

// Bugs returns the accumulated bug IDs in injection order.
func (b *BuildAssembly) Bugs() []int64 {
	return append([]int64(nil), b.bugIDs...)
}

// Record persists the terminal build record once the compile outcome is
// known. compiled=false is a recorded, terminal state, not an error.
// Recording twice returns ErrAlreadyRecorded.
func (b *BuildAssembly) Record(ctx context.Context, compiled bool) (model.Build, error) {
	if b.recorded {
		return model.Build{}, ErrAlreadyRecorded
	}
	build, err := b.ledger.store.InsertBuild(ctx, b.bugIDs, b.output, compiled)
	if err != nil {
		return model.Build{}, fmt.Errorf("record build: %w", err)
	}
	b.recorded = true
	return build, nil
}

// RunOutcome is what the test harness reports after executing a build's
// binary once.
type RunOutcome struct {
	// ExitCode is the target program's exit code.
	ExitCode int

	// Output is the target's captured output.
	Output string

	// HarnessOK reports that the harness itself completed without internal
	// failure. It is independent of the target's exit code: a target that
	// crashes is a successful, informative run; a harness that failed to
	// even launch the target is not.
	HarnessOK bool
}

// RecordRun persists one execution of a build's binary. fuzzed names the bug
// whose trigger input was used, or nil for a baseline run on the original
// input.
//
// Runs against builds with compile=false are permitted at the model level;
// such a run carries no information about the target and it is the
// orchestration layer's job to avoid scheduling one.
func (l *Ledger) RecordRun(ctx context.Context, build model.Build, fuzzed *model.Bug, outcome RunOutcome) (model.Run, error) {
	run := model.Run{
		BuildID:  build.ID,
		ExitCode: outcome.ExitCode,
		Output:   outcome.Output,
		Success:  outcome.HarnessOK,
	}
	if fuzzed != nil {
		id := fuzzed.ID
		run.FuzzedBugID = &id
	}

	run, err := l.store.InsertRun(ctx, run)
	if err != nil {
		return model.Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}
