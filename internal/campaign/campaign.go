// Package campaign loads the injection campaign configuration shared by the
// pipeline's external collaborators: target name, database path, input
// corpus, enabled attack point kinds, and liveness-policy parameters.
//
// Campaigns are written in CUE and parsed with the CUE Go API directly (not
// a CLI subprocess).
package campaign

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/synth"
)

// Campaign is one injection campaign's configuration.
type Campaign struct {
	// Name identifies the campaign.
	Name string

	// DB is the path of the shared provenance database.
	DB string

	// Target names the instrumented program under injection.
	Target string

	// Inputs is the input corpus fed to analysis runs.
	Inputs []string

	// AtpKinds are the attack point kinds enabled for synthesis.
	// Empty means all kinds.
	AtpKinds []model.AtpKind

	// Liveness holds the liveness-policy weights.
	Liveness LivenessParams
}

// LivenessParams parameterizes the default exponential-decay liveness
// scorer. All weights must be non-negative to keep the scorer monotonic.
type LivenessParams struct {
	TCNWeight  float64
	CardWeight float64
	GapWeight  float64
}

// DefaultLiveness matches synth.DefaultScorer.
var DefaultLiveness = LivenessParams{TCNWeight: 0.5, CardWeight: 0.1, GapWeight: 1e-6}

// Scorer builds the liveness scorer for this campaign.
func (c *Campaign) Scorer() synth.LivenessScorer {
	return synth.DecayScorer(c.Liveness.TCNWeight, c.Liveness.CardWeight, c.Liveness.GapWeight)
}

// ParseError reports a campaign spec problem with CUE position info when
// available.
type ParseError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: campaign %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("campaign %s: %s", e.Field, e.Message)
}

// Load reads and parses a campaign spec file.
func Load(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	campVal := v.LookupPath(cue.ParsePath("campaign"))
	if !campVal.Exists() {
		return nil, &ParseError{Field: "campaign", Message: "top-level campaign struct is required", Pos: v.Pos()}
	}
	return Parse(campVal)
}

// Parse extracts a Campaign from a CUE value holding the campaign struct.
func Parse(v cue.Value) (*Campaign, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Campaign{Liveness: DefaultLiveness}

	var err error
	c.Name, err = requiredString(v, "name")
	if err != nil {
		return nil, err
	}
	c.DB, err = requiredString(v, "db")
	if err != nil {
		return nil, err
	}
	c.Target, err = requiredString(v, "target")
	if err != nil {
		return nil, err
	}

	inputsVal := v.LookupPath(cue.ParsePath("inputs"))
	if inputsVal.Exists() {
		iter, iterErr := inputsVal.List()
		if iterErr != nil {
			return nil, formatCUEError(iterErr)
		}
		for iter.Next() {
			input, strErr := iter.Value().String()
			if strErr != nil {
				return nil, formatCUEError(strErr)
			}
			c.Inputs = append(c.Inputs, input)
		}
	}
	if len(c.Inputs) == 0 {
		return nil, &ParseError{Field: "inputs", Message: "at least one input is required", Pos: v.Pos()}
	}

	kindsVal := v.LookupPath(cue.ParsePath("attack_points"))
	if kindsVal.Exists() {
		iter, iterErr := kindsVal.List()
		if iterErr != nil {
			return nil, formatCUEError(iterErr)
		}
		for iter.Next() {
			name, strErr := iter.Value().String()
			if strErr != nil {
				return nil, formatCUEError(strErr)
			}
			kind, kindErr := model.ParseAtpKind(name)
			if kindErr != nil {
				return nil, &ParseError{Field: "attack_points", Message: kindErr.Error(), Pos: iter.Value().Pos()}
			}
			c.AtpKinds = append(c.AtpKinds, kind)
		}
	}

	livVal := v.LookupPath(cue.ParsePath("liveness"))
	if livVal.Exists() {
		c.Liveness, err = parseLiveness(livVal)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func parseLiveness(v cue.Value) (LivenessParams, error) {
	params := DefaultLiveness
	fields := []struct {
		name string
		dst  *float64
	}{
		{"tcn_weight", &params.TCNWeight},
		{"card_weight", &params.CardWeight},
		{"gap_weight", &params.GapWeight},
	}
	for _, f := range fields {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		val, err := fv.Float64()
		if err != nil {
			return LivenessParams{}, formatCUEError(err)
		}
		if val < 0 {
			return LivenessParams{}, &ParseError{
				Field:   "liveness." + f.name,
				Message: "weight must be non-negative (liveness must be monotonic)",
				Pos:     fv.Pos(),
			}
		}
		*f.dst = val
	}
	return params, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &ParseError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &ParseError{Field: field, Message: field + " must be non-empty", Pos: fv.Pos()}
	}
	return s, nil
}

// formatCUEError converts a CUE error into a ParseError, keeping the first
// position when one is available.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &ParseError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return &ParseError{Field: "cue", Message: firstErr.Error()}
}
