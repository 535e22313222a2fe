package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hexene/lavarec/internal/model"
)

// Every FindOrInsert* method follows the same shape: inside a transaction,
// INSERT ... ON CONFLICT(key) DO NOTHING claims the key atomically via the
// unique index; if no row was inserted, the canonical existing row is read
// back and returned. Two workers racing on the same key therefore always
// converge on one canonical row. On key match the candidate's non-key fields
// are discarded, even if they differ from the stored row (first-write-wins).

// FindOrInsertLval inserts a source lval or returns the canonical row with
// the same (file, line, ast_name, timing) key.
func (s *Store) FindOrInsertLval(ctx context.Context, lval model.SourceLval) (model.SourceLval, bool, error) {
	lval.File = canonPath(lval.File)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SourceLval{}, false, fmt.Errorf("find or insert lval: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO source_lvals (file, line, ast_name, timing)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file, line, ast_name, timing) DO NOTHING
	`, lval.File, lval.Line, lval.AstName, lval.Timing)
	if err != nil {
		return model.SourceLval{}, false, fmt.Errorf("find or insert lval: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.SourceLval{}, false, fmt.Errorf("find or insert lval: %w", err)
	}

	if inserted {
		lval.ID, err = result.LastInsertId()
		if err != nil {
			return model.SourceLval{}, false, fmt.Errorf("find or insert lval: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM source_lvals
			WHERE file = ? AND line = ? AND ast_name = ? AND timing = ?
		`, lval.File, lval.Line, lval.AstName, lval.Timing).Scan(&lval.ID)
		if err != nil {
			return model.SourceLval{}, false, fmt.Errorf("find or insert lval: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.SourceLval{}, false, fmt.Errorf("find or insert lval: commit: %w", err)
	}
	return lval, inserted, nil
}

// FindOrInsertLabelSet inserts a label set or returns the canonical row with
// the same (ref, inputfile, labels) key.
func (s *Store) FindOrInsertLabelSet(ctx context.Context, ls model.LabelSet) (model.LabelSet, bool, error) {
	ls.InputFile = canonPath(ls.InputFile)
	labelsText, err := encodeU32s(ls.Labels)
	if err != nil {
		return model.LabelSet{}, false, fmt.Errorf("find or insert label set: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.LabelSet{}, false, fmt.Errorf("find or insert label set: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO label_sets (ref, inputfile, labels)
		VALUES (?, ?, ?)
		ON CONFLICT(ref, inputfile, labels) DO NOTHING
	`, int64(ls.Ref), ls.InputFile, labelsText)
	if err != nil {
		return model.LabelSet{}, false, fmt.Errorf("find or insert label set: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.LabelSet{}, false, fmt.Errorf("find or insert label set: %w", err)
	}

	if inserted {
		ls.ID, err = result.LastInsertId()
		if err != nil {
			return model.LabelSet{}, false, fmt.Errorf("find or insert label set: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM label_sets
			WHERE ref = ? AND inputfile = ? AND labels = ?
		`, int64(ls.Ref), ls.InputFile, labelsText).Scan(&ls.ID)
		if err != nil {
			return model.LabelSet{}, false, fmt.Errorf("find or insert label set: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.LabelSet{}, false, fmt.Errorf("find or insert label set: commit: %w", err)
	}
	return ls, inserted, nil
}

// FindOrInsertDua inserts a DUA or returns the canonical row with the same
// (lval, inputfile, instr) key. On key match the candidate's taint summary
// fields (viable bytes, labels, maxima, fake flag) are discarded in favor of
// the stored row's.
func (s *Store) FindOrInsertDua(ctx context.Context, dua model.Dua) (model.Dua, bool, error) {
	dua.InputFile = canonPath(dua.InputFile)
	viableText, err := encodeViableBytes(dua.ViableBytes)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: %w", err)
	}
	labelsText, err := encodeU32s(dua.AllLabels)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO duas
		(lval_id, viable_bytes, all_labels, inputfile, max_tcn, max_cardinality, instr, fake_dua)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lval_id, inputfile, instr) DO NOTHING
	`, dua.LvalID, viableText, labelsText, dua.InputFile,
		dua.MaxTCN, dua.MaxCardinality, int64(dua.Instr), dua.FakeDua)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: %w", err)
	}

	if inserted {
		dua.ID, err = result.LastInsertId()
		if err != nil {
			return model.Dua{}, false, fmt.Errorf("find or insert dua: last insert id: %w", err)
		}
	} else {
		row := tx.QueryRowContext(ctx, `
			SELECT id, lval_id, viable_bytes, all_labels, inputfile,
			       max_tcn, max_cardinality, instr, fake_dua
			FROM duas
			WHERE lval_id = ? AND inputfile = ? AND instr = ?
		`, dua.LvalID, dua.InputFile, int64(dua.Instr))
		dua, err = scanDuaRow(row)
		if err != nil {
			return model.Dua{}, false, fmt.Errorf("find or insert dua: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Dua{}, false, fmt.Errorf("find or insert dua: commit: %w", err)
	}
	return dua, inserted, nil
}

// FindOrInsertAttackPoint inserts an attack point or returns the canonical
// row with the same (file, line, type) key.
func (s *Store) FindOrInsertAttackPoint(ctx context.Context, atp model.AttackPoint) (model.AttackPoint, bool, error) {
	atp.File = canonPath(atp.File)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO attack_points (file, line, type)
		VALUES (?, ?, ?)
		ON CONFLICT(file, line, type) DO NOTHING
	`, atp.File, atp.Line, atp.Kind)
	if err != nil {
		return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: %w", err)
	}

	if inserted {
		atp.ID, err = result.LastInsertId()
		if err != nil {
			return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM attack_points
			WHERE file = ? AND line = ? AND type = ?
		`, atp.File, atp.Line, atp.Kind).Scan(&atp.ID)
		if err != nil {
			return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.AttackPoint{}, false, fmt.Errorf("find or insert attack point: commit: %w", err)
	}
	return atp, inserted, nil
}

// FindOrInsertSourceModification inserts a byte-selection attempt or returns
// the canonical row with the same (atp, lval, selected_bytes) key. The
// selection is an ordered sequence: the same indices in a different order
// are a distinct key.
func (s *Store) FindOrInsertSourceModification(ctx context.Context, sm model.SourceModification) (model.SourceModification, bool, error) {
	selectedText, err := encodeU32s(sm.SelectedBytes)
	if err != nil {
		return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO source_modifications (atp_id, lval_id, selected_bytes, selected_bytes_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(atp_id, lval_id, selected_bytes) DO NOTHING
	`, sm.AtpID, sm.LvalID, selectedText, int64(sm.SelectedBytesHash))
	if err != nil {
		return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: %w", err)
	}

	if inserted {
		sm.ID, err = result.LastInsertId()
		if err != nil {
			return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: last insert id: %w", err)
		}
	} else {
		var storedHash int64
		err = tx.QueryRowContext(ctx, `
			SELECT id, selected_bytes_hash FROM source_modifications
			WHERE atp_id = ? AND lval_id = ? AND selected_bytes = ?
		`, sm.AtpID, sm.LvalID, selectedText).Scan(&sm.ID, &storedHash)
		if err != nil {
			return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: select existing: %w", err)
		}
		sm.SelectedBytesHash = uint64(storedHash)
	}

	if err := tx.Commit(); err != nil {
		return model.SourceModification{}, false, fmt.Errorf("find or insert source modification: commit: %w", err)
	}
	return sm, inserted, nil
}

// FindOrInsertBug inserts a bug or returns the canonical row with the same
// (atp, dua, selected_bytes) key. On key match the candidate's liveness
// score is discarded in favor of the stored row's.
func (s *Store) FindOrInsertBug(ctx context.Context, bug model.Bug) (model.Bug, bool, error) {
	selectedText, err := encodeU32s(bug.SelectedBytes)
	if err != nil {
		return model.Bug{}, false, fmt.Errorf("find or insert bug: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Bug{}, false, fmt.Errorf("find or insert bug: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bugs (atp_id, dua_id, selected_bytes, max_liveness)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(atp_id, dua_id, selected_bytes) DO NOTHING
	`, bug.AtpID, bug.DuaID, selectedText, bug.MaxLiveness)
	if err != nil {
		return model.Bug{}, false, fmt.Errorf("find or insert bug: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.Bug{}, false, fmt.Errorf("find or insert bug: %w", err)
	}

	if inserted {
		bug.ID, err = result.LastInsertId()
		if err != nil {
			return model.Bug{}, false, fmt.Errorf("find or insert bug: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id, max_liveness FROM bugs
			WHERE atp_id = ? AND dua_id = ? AND selected_bytes = ?
		`, bug.AtpID, bug.DuaID, selectedText).Scan(&bug.ID, &bug.MaxLiveness)
		if err != nil {
			return model.Bug{}, false, fmt.Errorf("find or insert bug: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Bug{}, false, fmt.Errorf("find or insert bug: commit: %w", err)
	}
	return bug, inserted, nil
}

// FindOrInsertFunction inserts a source function or returns the canonical
// row with the same (file, line, name) key.
func (s *Store) FindOrInsertFunction(ctx context.Context, fn model.SourceFunction) (model.SourceFunction, bool, error) {
	fn.File = canonPath(fn.File)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SourceFunction{}, false, fmt.Errorf("find or insert function: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO source_functions (file, line, name)
		VALUES (?, ?, ?)
		ON CONFLICT(file, line, name) DO NOTHING
	`, fn.File, fn.Line, fn.Name)
	if err != nil {
		return model.SourceFunction{}, false, fmt.Errorf("find or insert function: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.SourceFunction{}, false, fmt.Errorf("find or insert function: %w", err)
	}

	if inserted {
		fn.ID, err = result.LastInsertId()
		if err != nil {
			return model.SourceFunction{}, false, fmt.Errorf("find or insert function: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM source_functions
			WHERE file = ? AND line = ? AND name = ?
		`, fn.File, fn.Line, fn.Name).Scan(&fn.ID)
		if err != nil {
			return model.SourceFunction{}, false, fmt.Errorf("find or insert function: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.SourceFunction{}, false, fmt.Errorf("find or insert function: commit: %w", err)
	}
	return fn, inserted, nil
}

// FindOrInsertCall inserts a call span or returns the canonical row with the
// same (call_instr, ret_instr, function, callsite_file, callsite_line) key.
func (s *Store) FindOrInsertCall(ctx context.Context, call model.Call) (model.Call, bool, error) {
	call.File = canonPath(call.File)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Call{}, false, fmt.Errorf("find or insert call: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO calls (call_instr, ret_instr, function_id, callsite_file, callsite_line)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(call_instr, ret_instr, function_id, callsite_file, callsite_line) DO NOTHING
	`, int64(call.CallInstr), int64(call.RetInstr), call.FunctionID, call.File, call.Line)
	if err != nil {
		return model.Call{}, false, fmt.Errorf("find or insert call: insert: %w", err)
	}

	inserted, err := claimed(result)
	if err != nil {
		return model.Call{}, false, fmt.Errorf("find or insert call: %w", err)
	}

	if inserted {
		call.ID, err = result.LastInsertId()
		if err != nil {
			return model.Call{}, false, fmt.Errorf("find or insert call: last insert id: %w", err)
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM calls
			WHERE call_instr = ? AND ret_instr = ? AND function_id = ?
			  AND callsite_file = ? AND callsite_line = ?
		`, int64(call.CallInstr), int64(call.RetInstr), call.FunctionID, call.File, call.Line).Scan(&call.ID)
		if err != nil {
			return model.Call{}, false, fmt.Errorf("find or insert call: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Call{}, false, fmt.Errorf("find or insert call: commit: %w", err)
	}
	return call, inserted, nil
}

// InsertBuild persists a terminal build record and its ordered bug
// membership in one transaction. Builds are not deduplicated: every
// compilation attempt is its own record, and a failed build is never
// retried in place - callers assemble a new build instead.
//
// Every bug ID must reference an existing bug row (foreign key); a dangling
// reference aborts the whole insert.
func (s *Store) InsertBuild(ctx context.Context, bugIDs []int64, output string, compiled bool) (model.Build, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Build{}, fmt.Errorf("insert build: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO builds (output, compile) VALUES (?, ?)
	`, output, compiled)
	if err != nil {
		return model.Build{}, fmt.Errorf("insert build: %w", err)
	}

	buildID, err := result.LastInsertId()
	if err != nil {
		return model.Build{}, fmt.Errorf("insert build: last insert id: %w", err)
	}

	for ordinal, bugID := range bugIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO build_bugs (build_id, ordinal, bug_id) VALUES (?, ?, ?)
		`, buildID, ordinal, bugID)
		if err != nil {
			return model.Build{}, fmt.Errorf("insert build: bug %d: %w", bugID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Build{}, fmt.Errorf("insert build: commit: %w", err)
	}

	return model.Build{
		ID:       buildID,
		BugIDs:   append([]int64(nil), bugIDs...),
		Output:   output,
		Compiled: compiled,
	}, nil
}

// InsertRun persists one execution record. Runs are not deduplicated: the
// same build on the same input can legitimately run many times.
//
// The store permits runs against builds that failed to compile; rejecting
// them is an orchestration-layer policy, not a model invariant.
func (s *Store) InsertRun(ctx context.Context, run model.Run) (model.Run, error) {
	var fuzzed sql.NullInt64
	if run.FuzzedBugID != nil {
		fuzzed = sql.NullInt64{Int64: *run.FuzzedBugID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (build_id, fuzzed_bug_id, exitcode, output, success)
		VALUES (?, ?, ?, ?, ?)
	`, run.BuildID, fuzzed, run.ExitCode, run.Output, run.Success)
	if err != nil {
		return model.Run{}, fmt.Errorf("insert run: %w", err)
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return model.Run{}, fmt.Errorf("insert run: last insert id: %w", err)
	}
	return run, nil
}

// claimed reports whether an ON CONFLICT DO NOTHING insert actually wrote a
// row.
func claimed(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
