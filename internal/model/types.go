package model

import (
	"fmt"
	"strings"
)

// Timing records when taint was observed relative to an lval's defining
// occurrence.
type Timing int

const (
	TimingNone             Timing = 0
	TimingBeforeOccurrence Timing = 1
	TimingAfterOccurrence  Timing = 2
)

// String implements fmt.Stringer.
func (t Timing) String() string {
	switch t {
	case TimingNone:
		return "null"
	case TimingBeforeOccurrence:
		return "before"
	case TimingAfterOccurrence:
		return "after"
	default:
		return fmt.Sprintf("timing(%d)", int(t))
	}
}

// ParseTiming parses the textual timing form used in report files.
func ParseTiming(s string) (Timing, error) {
	switch s {
	case "", "null":
		return TimingNone, nil
	case "before":
		return TimingBeforeOccurrence, nil
	case "after":
		return TimingAfterOccurrence, nil
	default:
		return TimingNone, fmt.Errorf("unknown timing %q", s)
	}
}

// AtpKind categorizes an attack point site.
type AtpKind int

const (
	AtpFunctionCall     AtpKind = 0
	AtpPointerRW        AtpKind = 1
	AtpLargeBufferAvail AtpKind = 2
)

// String implements fmt.Stringer.
func (k AtpKind) String() string {
	switch k {
	case AtpFunctionCall:
		return "ATP_FUNCTION_CALL"
	case AtpPointerRW:
		return "ATP_POINTER_RW"
	case AtpLargeBufferAvail:
		return "ATP_LARGE_BUFFER_AVAIL"
	default:
		return fmt.Sprintf("atp_kind(%d)", int(k))
	}
}

// ParseAtpKind parses the textual attack point kind used in report files.
func ParseAtpKind(s string) (AtpKind, error) {
	switch s {
	case "function_call":
		return AtpFunctionCall, nil
	case "pointer_rw":
		return AtpPointerRW, nil
	case "large_buffer_avail":
		return AtpLargeBufferAvail, nil
	default:
		return 0, fmt.Errorf("unknown attack point kind %q", s)
	}
}

// SourceLval is a named value at a source location.
// Unique on (file, line, ast_name, timing).
type SourceLval struct {
	ID      int64  `json:"id"`
	File    string `json:"file"`
	Line    uint32 `json:"line"`
	AstName string `json:"ast_name"`
	Timing  Timing `json:"timing"`
}

// Less orders lvals lexicographically over the uniqueness key tuple.
func (l SourceLval) Less(other SourceLval) bool {
	if l.File != other.File {
		return l.File < other.File
	}
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	if l.AstName != other.AstName {
		return l.AstName < other.AstName
	}
	return l.Timing < other.Timing
}

// String implements fmt.Stringer.
func (l SourceLval) String() string {
	return fmt.Sprintf("Lval [%s:%d %q]", l.File, l.Line, l.AstName)
}

// LabelSet is the set of taint labels attached to one memory location at one
// instant during one analysis run. Ref is the run-local label-set identifier
// issued by the taint engine (explicitly assigned, never an in-process
// address). Unique on (ref, inputfile, labels).
type LabelSet struct {
	ID        int64    `json:"id"`
	Ref       uint64   `json:"ref"`
	InputFile string   `json:"inputfile"`
	Labels    []uint32 `json:"labels"`
}

// Dua is a dead, uncomplicated, unused attacker-controlled value candidate:
// one SourceLval observed with taint during one input-file run.
// Unique on (lval, inputfile, instr).
type Dua struct {
	ID     int64 `json:"id"`
	LvalID int64 `json:"lval"`

	// ViableBytes holds the LabelSet ID for each byte of the lval, in byte
	// order. A nil entry marks an untracked byte; entries are never omitted
	// so byte positions stay aligned.
	ViableBytes []*int64 `json:"viable_bytes"`

	// AllLabels is the union of the labels of every non-nil viable byte,
	// sorted ascending.
	AllLabels []uint32 `json:"all_labels"`

	InputFile string `json:"inputfile"`

	// MaxTCN and MaxCardinality are maxima over the per-byte taint
	// compute number and label-set cardinality. Higher values mean taint
	// passed through more (or more complex) transformations, making the
	// value less reliably controllable.
	MaxTCN         uint32 `json:"max_tcn"`
	MaxCardinality uint32 `json:"max_cardinality"`

	// Instr is the instruction count at which this DUA was observed.
	Instr uint64 `json:"instr"`

	// FakeDua marks a manufactured stand-in for untainted bytes, used as a
	// no-op control case.
	FakeDua bool `json:"fake_dua"`
}

// String renders the DUA in the pipeline's debug display form.
func (d Dua) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DUA [%s][lval %d,[{", d.InputFile, d.LvalID)
	for i, vb := range d.ViableBytes {
		if i > 0 {
			sb.WriteString("}, {")
		}
		if vb != nil {
			fmt.Fprintf(&sb, "%d", *vb)
		} else {
			sb.WriteString("0")
		}
	}
	sb.WriteString("}],{")
	for _, l := range d.AllLabels {
		fmt.Fprintf(&sb, "%d,", l)
	}
	fmt.Fprintf(&sb, "},%d,%d,%d,", d.MaxTCN, d.MaxCardinality, d.Instr)
	if d.FakeDua {
		sb.WriteString("fake]")
	} else {
		sb.WriteString("real]")
	}
	return sb.String()
}

// AttackPoint is a candidate unsafe-use site.
// Unique on (file, line, kind).
type AttackPoint struct {
	ID   int64   `json:"id"`
	File string  `json:"file"`
	Line uint32  `json:"line"`
	Kind AtpKind `json:"type"`
}

// String implements fmt.Stringer.
func (a AttackPoint) String() string {
	return fmt.Sprintf("ATP [%s:%d] {%s}", a.File, a.Line, a.Kind)
}

// SourceModification records one byte-selection attempt joining an lval and
// an attack point before a Bug is necessarily materialized. The hash is a
// cheap pre-check for repeated selections, not a digest: see
// SelectedBytesHash for its documented quirks.
// Unique on (atp, lval, selected_bytes).
type SourceModification struct {
	ID                int64    `json:"id"`
	LvalID            int64    `json:"lval"`
	SelectedBytes     []uint32 `json:"selected_bytes"`
	SelectedBytesHash uint64   `json:"selected_bytes_hash"`
	AtpID             int64    `json:"atp"`
}

// NewSourceModification builds an unpersisted SourceModification with its
// hash computed from the ordered selection.
func NewSourceModification(lvalID int64, selected []uint32, atpID int64) SourceModification {
	return SourceModification{
		LvalID:            lvalID,
		SelectedBytes:     selected,
		SelectedBytesHash: SelectedBytesHash(selected),
		AtpID:             atpID,
	}
}

// Bug is a synthesized injectable bug: a DUA, the subset of its bytes chosen
// for corruption, and the attack point where corruption is applied.
// Unique on (atp, dua, selected_bytes).
type Bug struct {
	ID            int64    `json:"id"`
	DuaID         int64    `json:"dua"`
	SelectedBytes []uint32 `json:"selected_bytes"`
	AtpID         int64    `json:"atp"`

	// MaxLiveness estimates the probability the tainted value is still
	// live at the attack point.
	MaxLiveness float64 `json:"max_liveness"`
}

// Build is one compiled binary and the bugs injected into it. The bug list
// accumulates only during build assembly; the persisted record is terminal
// whether or not compilation succeeded.
type Build struct {
	ID       int64   `json:"id"`
	BugIDs   []int64 `json:"bugs"`
	Output   string  `json:"output"`
	Compiled bool    `json:"compile"`
}

// Run is one execution of a Build's binary. FuzzedBugID names the bug whose
// trigger input was used, or nil for a baseline run on the original input.
// Success reports whether the test harness itself completed; it is
// independent of the target's exit code.
type Run struct {
	ID          int64  `json:"id"`
	BuildID     int64  `json:"build"`
	FuzzedBugID *int64 `json:"fuzzed,omitempty"`
	ExitCode    int    `json:"exitcode"`
	Output      string `json:"output"`
	Success     bool   `json:"success"`
}

// SourceFunction is a named function definition.
// Unique on (file, line, name).
type SourceFunction struct {
	ID   int64  `json:"id"`
	File string `json:"file"`
	Line uint32 `json:"line"`
	Name string `json:"name"`
}

// Call is one call/return instruction span.
// Unique on (call_instr, ret_instr, function, file, line).
type Call struct {
	ID         int64  `json:"id"`
	CallInstr  uint64 `json:"call_instr"`
	RetInstr   uint64 `json:"ret_instr"`
	FunctionID int64  `json:"called_function"`
	File       string `json:"callsite_file"`
	Line       uint32 `json:"callsite_line"`
}
