package campaign

import (
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexene/lavarec/internal/model"
)

func parseString(t *testing.T, src string) (*Campaign, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return Parse(v.LookupPath(cue.ParsePath("campaign")))
}

func TestParseBasic(t *testing.T) {
	c, err := parseString(t, `
		campaign: {
			name:   "file-magic"
			db:     "lava.db"
			target: "bin/file"
			inputs: ["corpus/a.bin", "corpus/b.bin"]
			attack_points: ["pointer_rw", "function_call"]
			liveness: {
				tcn_weight: 0.25
				gap_weight: 1e-7
			}
		}
	`)
	require.NoError(t, err)

	assert.Equal(t, "file-magic", c.Name)
	assert.Equal(t, "lava.db", c.DB)
	assert.Equal(t, "bin/file", c.Target)
	assert.Equal(t, []string{"corpus/a.bin", "corpus/b.bin"}, c.Inputs)
	assert.Equal(t, []model.AtpKind{model.AtpPointerRW, model.AtpFunctionCall}, c.AtpKinds)

	// Configured weights override defaults; unset ones keep them.
	assert.Equal(t, 0.25, c.Liveness.TCNWeight)
	assert.Equal(t, DefaultLiveness.CardWeight, c.Liveness.CardWeight)
	assert.Equal(t, 1e-7, c.Liveness.GapWeight)
}

func TestParseDefaults(t *testing.T) {
	c, err := parseString(t, `
		campaign: {
			name:   "minimal"
			db:     "lava.db"
			target: "bin/file"
			inputs: ["corpus/a.bin"]
		}
	`)
	require.NoError(t, err)

	assert.Empty(t, c.AtpKinds, "no attack_points means all kinds enabled")
	assert.Equal(t, DefaultLiveness, c.Liveness)
	assert.NotNil(t, c.Scorer())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing name", `campaign: {db: "x", target: "y", inputs: ["a"]}`},
		{"empty name", `campaign: {name: "", db: "x", target: "y", inputs: ["a"]}`},
		{"missing db", `campaign: {name: "c", target: "y", inputs: ["a"]}`},
		{"no inputs", `campaign: {name: "c", db: "x", target: "y", inputs: []}`},
		{"inputs absent", `campaign: {name: "c", db: "x", target: "y"}`},
		{"unknown attack point kind", `campaign: {name: "c", db: "x", target: "y", inputs: ["a"], attack_points: ["stack_smash"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseString(t, tt.src)
			assert.Error(t, err)
		})
	}
}

func TestParseNegativeWeightRejected(t *testing.T) {
	_, err := parseString(t, `
		campaign: {
			name:   "c"
			db:     "x"
			target: "y"
			inputs: ["a"]
			liveness: {tcn_weight: -0.5}
		}
	`)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "liveness.tcn_weight", perr.Field)
	assert.Contains(t, perr.Message, "monotonic")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.cue")
	src := `campaign: {
	name:   "file-magic"
	db:     "lava.db"
	target: "bin/file"
	inputs: ["corpus/a.bin"]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-magic", c.Name)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
		assert.Error(t, err)
	})

	t.Run("no campaign struct", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "campaign.cue")
		require.NoError(t, os.WriteFile(path, []byte(`other: {}`), 0o644))
		_, err := Load(path)
		require.Error(t, err)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "campaign", perr.Field)
	})

	t.Run("syntax error carries position", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "campaign.cue")
		require.NoError(t, os.WriteFile(path, []byte("campaign: {\n\tname: \":::\n}"), 0o644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestScorerMonotonic(t *testing.T) {
	c := &Campaign{Liveness: LivenessParams{TCNWeight: 1, CardWeight: 1, GapWeight: 1}}
	scorer := c.Scorer()
	assert.Equal(t, 1.0, scorer(0, 0, 0))
	assert.Less(t, scorer(1, 0, 0), scorer(0, 0, 0))
}
