// Package synth materializes injectable bugs from (Dua, AttackPoint) pairs.
//
// Byte selection itself is an external policy: callers hand the synthesizer
// an ordered byte-index sequence chosen elsewhere. The synthesizer validates
// the selection, records the attempt as a SourceModification pre-check,
// scores liveness, and inserts the Bug through the identity store.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/store"
)

// ErrMalformedSelection marks an empty or out-of-range selected-byte
// sequence. Malformed selections are rejected before anything reaches the
// store.
var ErrMalformedSelection = errors.New("malformed byte selection")

// LivenessScorer estimates the probability that a tainted value is still
// live at the attack point. Implementations must be monotonic: the score
// never increases with increasing tcn, cardinality, or instruction gap.
type LivenessScorer func(maxTCN, maxCardinality uint32, instrGap uint64) float64

// DecayScorer returns an exponential-decay scorer with the given
// per-component weights. It is monotonically non-increasing in every
// component for any non-negative weights.
func DecayScorer(tcnWeight, cardWeight, gapWeight float64) LivenessScorer {
	return func(maxTCN, maxCardinality uint32, instrGap uint64) float64 {
		return math.Exp(-(tcnWeight*float64(maxTCN) +
			cardWeight*float64(maxCardinality) +
			gapWeight*float64(instrGap)))
	}
}

// DefaultScorer is the scorer used when the campaign does not configure one.
var DefaultScorer = DecayScorer(0.5, 0.1, 1e-6)

// Synthesizer joins DUAs and attack points into bugs.
type Synthesizer struct {
	store  *store.Store
	scorer LivenessScorer
}

// NewSynthesizer returns a Synthesizer writing through the given store.
// A nil scorer selects DefaultScorer.
func NewSynthesizer(s *store.Store, scorer LivenessScorer) *Synthesizer {
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Synthesizer{store: s, scorer: scorer}
}

// ValidateSelection rejects empty selections and indices outside the DUA's
// byte range. The selection is an ordered sequence, not a set; repeated or
// out-of-order indices are legal and meaningful.
func ValidateSelection(dua model.Dua, selected []uint32) error {
	if len(selected) == 0 {
		return fmt.Errorf("%w: empty selection", ErrMalformedSelection)
	}
	width := uint32(len(dua.ViableBytes))
	for _, idx := range selected {
		if idx >= width {
			return fmt.Errorf("%w: index %d out of range (dua has %d bytes)",
				ErrMalformedSelection, idx, width)
		}
	}
	return nil
}

// Synthesize materializes a bug corrupting the selected bytes of dua at atp.
// atpInstr is the instruction count at which the attack point was reached
// during the DUA's run; the gap between it and the DUA's observation point
// feeds the liveness score.
//
// The returned bool reports whether a new Bug row was created. Both the
// SourceModification pre-check record and the Bug deduplicate through the
// identity store, so re-synthesizing an identical selection is a no-op that
// returns the canonical existing bug.
func (sy *Synthesizer) Synthesize(ctx context.Context, dua model.Dua, atp model.AttackPoint, selected []uint32, atpInstr uint64) (model.Bug, bool, error) {
	if err := ValidateSelection(dua, selected); err != nil {
		return model.Bug{}, false, err
	}

	// Record the attempt. The (atp, lval, selection) key is broader than
	// the bug's (atp, dua, selection): it spans every DUA of the same lval,
	// so callers can skip whole selections already tried in earlier runs.
	sm := model.NewSourceModification(dua.LvalID, selected, atp.ID)
	if _, _, err := sy.store.FindOrInsertSourceModification(ctx, sm); err != nil {
		return model.Bug{}, false, fmt.Errorf("synthesize: %w", err)
	}

	var gap uint64
	if atpInstr > dua.Instr {
		gap = atpInstr - dua.Instr
	}

	bug, inserted, err := sy.store.FindOrInsertBug(ctx, model.Bug{
		DuaID:         dua.ID,
		SelectedBytes: selected,
		AtpID:         atp.ID,
		MaxLiveness:   sy.scorer(dua.MaxTCN, dua.MaxCardinality, gap),
	})
	if err != nil {
		return model.Bug{}, false, fmt.Errorf("synthesize: %w", err)
	}
	return bug, inserted, nil
}

// Tried claims a selection attempt and reports whether an identical ordered
// selection had already been attempted for this (lval, attack point) pair,
// across all DUAs of the lval. Claiming through the identity store makes the
// check race-safe: of two workers probing the same selection, exactly one
// sees false.
func (sy *Synthesizer) Tried(ctx context.Context, lvalID int64, selected []uint32, atpID int64) (bool, error) {
	sm := model.NewSourceModification(lvalID, selected, atpID)
	_, inserted, err := sy.store.FindOrInsertSourceModification(ctx, sm)
	if err != nil {
		return false, fmt.Errorf("tried: %w", err)
	}
	return !inserted, nil
}
