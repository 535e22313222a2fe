package ingest

import (
	"context"
	"fmt"

	"github.com/hexene/lavarec/internal/model"
	"github.com/hexene/lavarec/internal/store"
	"github.com/hexene/lavarec/internal/taint"
)

// Summary counts what an ingestion pass touched. "New" counts rows actually
// created; the remainder deduplicated against existing canonical records.
type Summary struct {
	Duas            int `json:"duas"`
	NewDuas         int `json:"new_duas"`
	Calls           int `json:"calls"`
	AttackPoints    int `json:"attack_points"`
	NewAttackPoints int `json:"new_attack_points"`
}

// Ingester replays reports into the store.
type Ingester struct {
	store *store.Store
	agg   *taint.Aggregator
}

// New returns an Ingester writing through the given store.
func New(s *store.Store) *Ingester {
	return &Ingester{store: s, agg: taint.NewAggregator(s)}
}

// IngestTaint replays one taint report. Safe to re-run: every record
// deduplicates through the identity store.
func (in *Ingester) IngestTaint(ctx context.Context, report *TaintReport) (Summary, error) {
	var sum Summary

	rc := taint.RunContext{Token: report.RunToken, InputFile: report.InputFile}
	if rc.Token == "" {
		rc = taint.NewRunContext(report.InputFile)
	}

	for i, obs := range report.Duas {
		timing, err := model.ParseTiming(obs.Lval.Timing)
		if err != nil {
			return Summary{}, fmt.Errorf("ingest taint: dua %d: %w", i, err)
		}
		lval := model.SourceLval{
			File:    obs.Lval.File,
			Line:    obs.Lval.Line,
			AstName: obs.Lval.AstName,
			Timing:  timing,
		}

		var inserted bool
		if obs.Fake {
			_, inserted, err = in.agg.FakeDua(ctx, rc, lval, obs.Width, obs.Instr)
		} else {
			bytes := make([]*taint.ByteTaint, len(obs.Bytes))
			for j, b := range obs.Bytes {
				if b == nil {
					continue
				}
				bytes[j] = &taint.ByteTaint{Ref: b.Ref, Labels: b.Labels, TCN: b.TCN}
			}
			_, inserted, err = in.agg.Aggregate(ctx, rc, lval, bytes, obs.Instr)
		}
		if err != nil {
			return Summary{}, fmt.Errorf("ingest taint: dua %d: %w", i, err)
		}
		sum.Duas++
		if inserted {
			sum.NewDuas++
		}
	}

	for i, c := range report.Calls {
		fn := model.SourceFunction{
			File: c.Function.File,
			Line: c.Function.Line,
			Name: c.Function.Name,
		}
		if _, err := in.agg.RecordCall(ctx, fn, c.CallInstr, c.RetInstr, c.CallsiteFile, c.CallsiteLine); err != nil {
			return Summary{}, fmt.Errorf("ingest taint: call %d: %w", i, err)
		}
		sum.Calls++
	}

	return sum, nil
}

// IngestAtps replays one attack point report.
func (in *Ingester) IngestAtps(ctx context.Context, report *AtpReport) (Summary, error) {
	var sum Summary
	for i, obs := range report.AttackPoints {
		kind, err := model.ParseAtpKind(obs.Kind)
		if err != nil {
			return Summary{}, fmt.Errorf("ingest attack points: entry %d: %w", i, err)
		}
		_, inserted, err := in.store.FindOrInsertAttackPoint(ctx, model.AttackPoint{
			File: obs.File,
			Line: obs.Line,
			Kind: kind,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("ingest attack points: entry %d: %w", i, err)
		}
		sum.AttackPoints++
		if inserted {
			sum.NewAttackPoints++
		}
	}
	return sum, nil
}
