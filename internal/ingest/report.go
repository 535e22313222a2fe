// Package ingest replays external collaborators' report files into the
// provenance store.
//
// The taint engine and the static-analysis pass run out of process and hand
// their observations over as YAML reports. Ingestion is idempotent end to
// end: re-ingesting a report creates nothing new, as a direct consequence of
// identity-store deduplication.
package ingest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaintReport is one analysis run's observations: the input file consumed,
// per-lval taint, and the call spans recorded along the way.
type TaintReport struct {
	// RunToken identifies the analysis run. Optional; a fresh token is
	// generated at ingest time when absent.
	RunToken string `yaml:"run_token,omitempty"`

	// InputFile is the input the target consumed during the run.
	InputFile string `yaml:"inputfile"`

	// Duas lists observed lval occurrences with their per-byte taint.
	Duas []DuaObservation `yaml:"duas"`

	// Calls lists call/return spans observed during the run.
	Calls []CallObservation `yaml:"calls,omitempty"`
}

// DuaObservation is one lval occurrence observed with (or, for fakes,
// without) taint.
type DuaObservation struct {
	Lval LvalRef `yaml:"lval"`

	// Instr is the instruction count at observation.
	Instr uint64 `yaml:"instr"`

	// Bytes holds taint per byte of the lval, in byte order. A null entry
	// marks an untracked byte. Ignored for fakes.
	Bytes []*ByteObservation `yaml:"bytes,omitempty"`

	// Fake marks a manufactured control-case DUA of Width untainted bytes.
	Fake  bool `yaml:"fake,omitempty"`
	Width int  `yaml:"width,omitempty"`
}

// ByteObservation mirrors the engine's per-byte taint record.
type ByteObservation struct {
	Ref    uint64   `yaml:"ref"`
	Labels []uint32 `yaml:"labels"`
	TCN    uint32   `yaml:"tcn"`
}

// LvalRef names a source lval in report form.
type LvalRef struct {
	File    string `yaml:"file"`
	Line    uint32 `yaml:"line"`
	AstName string `yaml:"ast_name"`
	Timing  string `yaml:"timing,omitempty"` // "", "null", "before", "after"
}

// CallObservation is one call/return span in report form.
type CallObservation struct {
	Function     FunctionRef `yaml:"function"`
	CallInstr    uint64      `yaml:"call_instr"`
	RetInstr     uint64      `yaml:"ret_instr"`
	CallsiteFile string      `yaml:"callsite_file"`
	CallsiteLine uint32      `yaml:"callsite_line"`
}

// FunctionRef names a source function in report form.
type FunctionRef struct {
	File string `yaml:"file"`
	Line uint32 `yaml:"line"`
	Name string `yaml:"name"`
}

// AtpReport is the static-analysis pass's list of candidate attack points.
type AtpReport struct {
	AttackPoints []AtpObservation `yaml:"attack_points"`
}

// AtpObservation is one candidate unsafe-use site in report form.
type AtpObservation struct {
	File string `yaml:"file"`
	Line uint32 `yaml:"line"`
	Kind string `yaml:"kind"` // "function_call", "pointer_rw", "large_buffer_avail"
}

// LoadTaintReport reads and validates a taint report file.
func LoadTaintReport(path string) (*TaintReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load taint report: %w", err)
	}

	var report TaintReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("load taint report %s: %w", path, err)
	}

	if err := report.validate(); err != nil {
		return nil, fmt.Errorf("load taint report %s: %w", path, err)
	}
	return &report, nil
}

// LoadAtpReport reads and validates an attack point report file.
func LoadAtpReport(path string) (*AtpReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load attack point report: %w", err)
	}

	var report AtpReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("load attack point report %s: %w", path, err)
	}

	if err := report.validate(); err != nil {
		return nil, fmt.Errorf("load attack point report %s: %w", path, err)
	}
	return &report, nil
}

func (r *TaintReport) validate() error {
	if r.InputFile == "" {
		return fmt.Errorf("inputfile is required")
	}
	for i, d := range r.Duas {
		if d.Lval.File == "" || d.Lval.AstName == "" {
			return fmt.Errorf("dua %d: lval file and ast_name are required", i)
		}
		if d.Fake {
			if d.Width <= 0 {
				return fmt.Errorf("dua %d: fake dua requires positive width", i)
			}
			continue
		}
		if len(d.Bytes) == 0 {
			return fmt.Errorf("dua %d: at least one byte observation is required", i)
		}
	}
	for i, c := range r.Calls {
		if c.Function.Name == "" || c.Function.File == "" {
			return fmt.Errorf("call %d: function file and name are required", i)
		}
	}
	return nil
}

func (r *AtpReport) validate() error {
	for i, a := range r.AttackPoints {
		if a.File == "" {
			return fmt.Errorf("attack point %d: file is required", i)
		}
		if a.Kind == "" {
			return fmt.Errorf("attack point %d: kind is required", i)
		}
	}
	return nil
}
