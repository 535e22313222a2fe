package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hexene/lavarec/internal/model"
)

// All listing queries order by id ASC. IDs are assigned monotonically at
// insert, so this yields deterministic, creation-ordered results.

// Lval retrieves a single source lval by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) Lval(ctx context.Context, id int64) (model.SourceLval, error) {
	var lval model.SourceLval
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file, line, ast_name, timing FROM source_lvals WHERE id = ?
	`, id).Scan(&lval.ID, &lval.File, &lval.Line, &lval.AstName, &lval.Timing)
	if err != nil {
		return model.SourceLval{}, err
	}
	return lval, nil
}

// LabelSet retrieves a single label set by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) LabelSet(ctx context.Context, id int64) (model.LabelSet, error) {
	var ls model.LabelSet
	var ref int64
	var labelsText string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ref, inputfile, labels FROM label_sets WHERE id = ?
	`, id).Scan(&ls.ID, &ref, &ls.InputFile, &labelsText)
	if err != nil {
		return model.LabelSet{}, err
	}
	ls.Ref = uint64(ref)
	ls.Labels, err = decodeU32s(labelsText)
	if err != nil {
		return model.LabelSet{}, fmt.Errorf("label set %d: %w", id, err)
	}
	return ls, nil
}

// Dua retrieves a single DUA by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) Dua(ctx context.Context, id int64) (model.Dua, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lval_id, viable_bytes, all_labels, inputfile,
		       max_tcn, max_cardinality, instr, fake_dua
		FROM duas WHERE id = ?
	`, id)
	return scanDuaRow(row)
}

// AttackPoint retrieves a single attack point by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) AttackPoint(ctx context.Context, id int64) (model.AttackPoint, error) {
	var atp model.AttackPoint
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file, line, type FROM attack_points WHERE id = ?
	`, id).Scan(&atp.ID, &atp.File, &atp.Line, &atp.Kind)
	if err != nil {
		return model.AttackPoint{}, err
	}
	return atp, nil
}

// Bug retrieves a single bug by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) Bug(ctx context.Context, id int64) (model.Bug, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, atp_id, dua_id, selected_bytes, max_liveness FROM bugs WHERE id = ?
	`, id)
	return scanBugRow(row)
}

// Build retrieves a single build by ID, including its ordered bug IDs.
// Returns sql.ErrNoRows if not found.
func (s *Store) Build(ctx context.Context, id int64) (model.Build, error) {
	var build model.Build
	err := s.db.QueryRowContext(ctx, `
		SELECT id, output, compile FROM builds WHERE id = ?
	`, id).Scan(&build.ID, &build.Output, &build.Compiled)
	if err != nil {
		return model.Build{}, err
	}
	build.BugIDs, err = s.buildBugIDs(ctx, id)
	if err != nil {
		return model.Build{}, err
	}
	return build, nil
}

// Function retrieves a single source function by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) Function(ctx context.Context, id int64) (model.SourceFunction, error) {
	var fn model.SourceFunction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, file, line, name FROM source_functions WHERE id = ?
	`, id).Scan(&fn.ID, &fn.File, &fn.Line, &fn.Name)
	if err != nil {
		return model.SourceFunction{}, err
	}
	return fn, nil
}

// buildBugIDs returns a build's bug IDs in assembly order.
func (s *Store) buildBugIDs(ctx context.Context, buildID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bug_id FROM build_bugs WHERE build_id = ? ORDER BY ordinal ASC
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query build bugs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan build bug: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build bugs: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// ListLvals returns all source lvals ordered by id.
func (s *Store) ListLvals(ctx context.Context) ([]model.SourceLval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file, line, ast_name, timing FROM source_lvals ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query lvals: %w", err)
	}
	defer rows.Close()

	lvals := []model.SourceLval{}
	for rows.Next() {
		var lval model.SourceLval
		if err := rows.Scan(&lval.ID, &lval.File, &lval.Line, &lval.AstName, &lval.Timing); err != nil {
			return nil, fmt.Errorf("scan lval: %w", err)
		}
		lvals = append(lvals, lval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lvals: %w", err)
	}
	return lvals, nil
}

// ListDuas returns all DUAs ordered by id.
func (s *Store) ListDuas(ctx context.Context) ([]model.Dua, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lval_id, viable_bytes, all_labels, inputfile,
		       max_tcn, max_cardinality, instr, fake_dua
		FROM duas ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query duas: %w", err)
	}
	defer rows.Close()

	duas := []model.Dua{}
	for rows.Next() {
		dua, err := scanDua(rows)
		if err != nil {
			return nil, err
		}
		duas = append(duas, dua)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duas: %w", err)
	}
	return duas, nil
}

// ListAttackPoints returns all attack points ordered by id.
func (s *Store) ListAttackPoints(ctx context.Context) ([]model.AttackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file, line, type FROM attack_points ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query attack points: %w", err)
	}
	defer rows.Close()

	atps := []model.AttackPoint{}
	for rows.Next() {
		var atp model.AttackPoint
		if err := rows.Scan(&atp.ID, &atp.File, &atp.Line, &atp.Kind); err != nil {
			return nil, fmt.Errorf("scan attack point: %w", err)
		}
		atps = append(atps, atp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attack points: %w", err)
	}
	return atps, nil
}

// ListBugs returns all bugs ordered by id.
func (s *Store) ListBugs(ctx context.Context) ([]model.Bug, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, atp_id, dua_id, selected_bytes, max_liveness FROM bugs ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query bugs: %w", err)
	}
	defer rows.Close()

	bugs := []model.Bug{}
	for rows.Next() {
		bug, err := scanBug(rows)
		if err != nil {
			return nil, err
		}
		bugs = append(bugs, bug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bugs: %w", err)
	}
	return bugs, nil
}

// ListBuilds returns all builds ordered by id, including ordered bug IDs.
func (s *Store) ListBuilds(ctx context.Context) ([]model.Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, output, compile FROM builds ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []model.Build{}
	for rows.Next() {
		var build model.Build
		if err := rows.Scan(&build.ID, &build.Output, &build.Compiled); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, build)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	for i := range builds {
		builds[i].BugIDs, err = s.buildBugIDs(ctx, builds[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return builds, nil
}

// ListRuns returns all runs ordered by id.
func (s *Store) ListRuns(ctx context.Context) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, fuzzed_bug_id, exitcode, output, success FROM runs ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// BuildsForBug returns every build a bug was injected into, ordered by
// build id. A bug may be a member of any number of builds.
func (s *Store) BuildsForBug(ctx context.Context, bugID int64) ([]model.Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.output, b.compile
		FROM builds b
		JOIN build_bugs bb ON bb.build_id = b.id
		WHERE bb.bug_id = ?
		ORDER BY b.id ASC
	`, bugID)
	if err != nil {
		return nil, fmt.Errorf("query builds for bug: %w", err)
	}
	defer rows.Close()

	builds := []model.Build{}
	for rows.Next() {
		var build model.Build
		if err := rows.Scan(&build.ID, &build.Output, &build.Compiled); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, build)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds for bug: %w", err)
	}

	for i := range builds {
		builds[i].BugIDs, err = s.buildBugIDs(ctx, builds[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return builds, nil
}

// RunsForBuild returns all runs of a build ordered by id.
func (s *Store) RunsForBuild(ctx context.Context, buildID int64) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, fuzzed_bug_id, exitcode, output, success
		FROM runs WHERE build_id = ? ORDER BY id ASC
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query runs for build: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs for build: %w", err)
	}
	return runs, nil
}

// Stats holds row counts per entity table.
type Stats struct {
	Lvals               int64 `json:"lvals"`
	LabelSets           int64 `json:"label_sets"`
	Duas                int64 `json:"duas"`
	FakeDuas            int64 `json:"fake_duas"`
	AttackPoints        int64 `json:"attack_points"`
	SourceModifications int64 `json:"source_modifications"`
	Bugs                int64 `json:"bugs"`
	Builds              int64 `json:"builds"`
	Runs                int64 `json:"runs"`
	Functions           int64 `json:"functions"`
	Calls               int64 `json:"calls"`
}

// ReadStats returns row counts for every entity table.
func (s *Store) ReadStats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM source_lvals", &st.Lvals},
		{"SELECT COUNT(*) FROM label_sets", &st.LabelSets},
		{"SELECT COUNT(*) FROM duas", &st.Duas},
		{"SELECT COUNT(*) FROM duas WHERE fake_dua", &st.FakeDuas},
		{"SELECT COUNT(*) FROM attack_points", &st.AttackPoints},
		{"SELECT COUNT(*) FROM source_modifications", &st.SourceModifications},
		{"SELECT COUNT(*) FROM bugs", &st.Bugs},
		{"SELECT COUNT(*) FROM builds", &st.Builds},
		{"SELECT COUNT(*) FROM runs", &st.Runs},
		{"SELECT COUNT(*) FROM source_functions", &st.Functions},
		{"SELECT COUNT(*) FROM calls", &st.Calls},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("read stats: %w", err)
		}
	}
	return st, nil
}

// scanner abstracts sql.Row and sql.Rows for the shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanDuaRow(row *sql.Row) (model.Dua, error) { return scanDuaFrom(row) }
func scanDua(rows *sql.Rows) (model.Dua, error)  { return scanDuaFrom(rows) }
func scanBugRow(row *sql.Row) (model.Bug, error) { return scanBugFrom(row) }
func scanBug(rows *sql.Rows) (model.Bug, error)  { return scanBugFrom(rows) }

func scanDuaFrom(sc scanner) (model.Dua, error) {
	var dua model.Dua
	var viableText, labelsText string
	var instr int64
	if err := sc.Scan(
		&dua.ID, &dua.LvalID, &viableText, &labelsText, &dua.InputFile,
		&dua.MaxTCN, &dua.MaxCardinality, &instr, &dua.FakeDua,
	); err != nil {
		return model.Dua{}, err
	}
	dua.Instr = uint64(instr)

	var err error
	dua.ViableBytes, err = decodeViableBytes(viableText)
	if err != nil {
		return model.Dua{}, fmt.Errorf("dua %d: %w", dua.ID, err)
	}
	dua.AllLabels, err = decodeU32s(labelsText)
	if err != nil {
		return model.Dua{}, fmt.Errorf("dua %d: %w", dua.ID, err)
	}
	return dua, nil
}

func scanBugFrom(sc scanner) (model.Bug, error) {
	var bug model.Bug
	var selectedText string
	if err := sc.Scan(&bug.ID, &bug.AtpID, &bug.DuaID, &selectedText, &bug.MaxLiveness); err != nil {
		return model.Bug{}, err
	}
	var err error
	bug.SelectedBytes, err = decodeU32s(selectedText)
	if err != nil {
		return model.Bug{}, fmt.Errorf("bug %d: %w", bug.ID, err)
	}
	return bug, nil
}

func scanRun(rows *sql.Rows) (model.Run, error) {
	var run model.Run
	var fuzzed sql.NullInt64
	if err := rows.Scan(&run.ID, &run.BuildID, &fuzzed, &run.ExitCode, &run.Output, &run.Success); err != nil {
		return model.Run{}, fmt.Errorf("scan run: %w", err)
	}
	if fuzzed.Valid {
		run.FuzzedBugID = &fuzzed.Int64
	}
	return run, nil
}
