// Package taint turns raw per-byte taint observations from the analysis
// engine into LabelSet and Dua records.
//
// All aggregation is driven by an explicit RunContext value rather than
// ambient "current run" state, so independent analysis workers can aggregate
// concurrently against one store.
package taint

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/store"
)

// RunContext identifies one execution of the instrumented target on one
// input file. It is a value passed into every aggregation call.
type RunContext struct {
	// Token uniquely identifies the analysis run.
	Token string

	// InputFile is the input the target consumed during this run.
	InputFile string
}

// NewRunContext creates a RunContext for one analysis run.
// Tokens are UUIDv7: time-ordered, so runs sort chronologically in logs.
func NewRunContext(inputFile string) RunContext {
	return RunContext{
		Token:     uuid.Must(uuid.NewV7()).String(),
		InputFile: inputFile,
	}
}

// ByteTaint is the taint engine's observation for a single byte of an lval.
type ByteTaint struct {
	// Ref is the run-local label-set identifier issued by the engine.
	// Refs are assigned monotonically per run; they are never in-process
	// addresses and carry no meaning across runs.
	Ref uint64

	// Labels traces this byte back to input-file offsets.
	Labels []uint32

	// TCN is the taint compute number: how many computational steps
	// separate this byte from its tainted origin.
	TCN uint32
}

// Tainted reports whether the byte carried any taint. Untainted bytes
// contribute a null viable-bytes entry rather than being omitted.
func (b *ByteTaint) Tainted() bool {
	return b != nil && len(b.Labels) > 0
}

// Aggregator builds taint summaries through the identity store.
type Aggregator struct {
	store *store.Store
}

// NewAggregator returns an Aggregator writing through the given store.
func NewAggregator(s *store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Aggregate persists the per-byte label sets for one lval occurrence and
// builds its Dua:
//
//   - viable_bytes holds one entry per observed byte, in byte order; an
//     untainted byte contributes a null entry, preserving alignment
//   - all_labels is the sorted union of labels over tainted bytes
//   - max_tcn and max_cardinality are maxima over tainted bytes
//
// The Dua is deduplicated on (lval, inputfile, instr); the same source
// location legitimately yields many DUAs across runs or across instruction
// counts within a run. The returned bool reports whether a new Dua row was
// created.
func (a *Aggregator) Aggregate(ctx context.Context, rc RunContext, lval model.SourceLval, bytes []*ByteTaint, instr uint64) (model.Dua, bool, error) {
	canonical, _, err := a.store.FindOrInsertLval(ctx, lval)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("aggregate: %w", err)
	}

	viable := make([]*int64, len(bytes))
	union := map[uint32]struct{}{}
	var maxTCN, maxCard uint32

	for i, bt := range bytes {
		if !bt.Tainted() {
			continue
		}
		ls, _, err := a.store.FindOrInsertLabelSet(ctx, model.LabelSet{
			Ref:       bt.Ref,
			InputFile: rc.InputFile,
			Labels:    bt.Labels,
		})
		if err != nil {
			return model.Dua{}, false, fmt.Errorf("aggregate: byte %d: %w", i, err)
		}
		id := ls.ID
		viable[i] = &id

		for _, l := range bt.Labels {
			union[l] = struct{}{}
		}
		if bt.TCN > maxTCN {
			maxTCN = bt.TCN
		}
		if card := uint32(len(bt.Labels)); card > maxCard {
			maxCard = card
		}
	}

	allLabels := make([]uint32, 0, len(union))
	for l := range union {
		allLabels = append(allLabels, l)
	}
	sort.Slice(allLabels, func(i, j int) bool { return allLabels[i] < allLabels[j] })

	dua, inserted, err := a.store.FindOrInsertDua(ctx, model.Dua{
		LvalID:         canonical.ID,
		ViableBytes:    viable,
		AllLabels:      allLabels,
		InputFile:      rc.InputFile,
		MaxTCN:         maxTCN,
		MaxCardinality: maxCard,
		Instr:          instr,
		FakeDua:        false,
	})
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("aggregate: %w", err)
	}
	return dua, inserted, nil
}

// FakeDua manufactures a DUA standing in for intentionally-untainted bytes,
// used as a no-op control case in injection experiments. Every byte is an
// untracked (null) entry and the taint metrics are zero.
func (a *Aggregator) FakeDua(ctx context.Context, rc RunContext, lval model.SourceLval, width int, instr uint64) (model.Dua, bool, error) {
	canonical, _, err := a.store.FindOrInsertLval(ctx, lval)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("fake dua: %w", err)
	}

	dua, inserted, err := a.store.FindOrInsertDua(ctx, model.Dua{
		LvalID:      canonical.ID,
		ViableBytes: make([]*int64, width),
		AllLabels:   []uint32{},
		InputFile:   rc.InputFile,
		Instr:       instr,
		FakeDua:     true,
	})
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("fake dua: %w", err)
	}
	return dua, inserted, nil
}

// RecordCall persists one call/return span observed during a run, creating
// the called function's canonical record as needed.
func (a *Aggregator) RecordCall(ctx context.Context, fn model.SourceFunction, callInstr, retInstr uint64, callsiteFile string, callsiteLine uint32) (model.Call, error) {
	canonical, _, err := a.store.FindOrInsertFunction(ctx, fn)
	if err != nil {
		return model.Call{}, fmt.Errorf("record call: %w", err)
	}

	call, _, err := a.store.FindOrInsertCall(ctx, model.Call{
		CallInstr:  callInstr,
		RetInstr:   retInstr,
		FunctionID: canonical.ID,
		File:       callsiteFile,
		Line:       callsiteLine,
	})
	if err != nil {
		return model.Call{}, fmt.Errorf("record call: %w", err)
	}
	return call, nil
}
