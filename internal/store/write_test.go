package store

import (
	"context"
	"sync"
	"testing"

	"github.com/hexene/lavarec/internal/model"
)

func TestFindOrInsertLval_Basic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lval, inserted, err := s.FindOrInsertLval(ctx, createTestLval("src/decode.c", 120, "hdr.len"))
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for new lval")
	}
	if lval.ID <= 0 {
		t.Errorf("expected positive ID, got %d", lval.ID)
	}

	again, inserted, err := s.FindOrInsertLval(ctx, createTestLval("src/decode.c", 120, "hdr.len"))
	if err != nil {
		t.Fatalf("second FindOrInsertLval failed: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false for duplicate key")
	}
	if again.ID != lval.ID {
		t.Errorf("duplicate key returned ID %d, want %d", again.ID, lval.ID)
	}
}

func TestFindOrInsertLval_DistinctKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	base := createTestLval("src/decode.c", 120, "hdr.len")
	variants := []model.SourceLval{
		{File: "src/other.c", Line: 120, AstName: "hdr.len", Timing: base.Timing},
		{File: base.File, Line: 121, AstName: "hdr.len", Timing: base.Timing},
		{File: base.File, Line: 120, AstName: "hdr.off", Timing: base.Timing},
		{File: base.File, Line: 120, AstName: "hdr.len", Timing: model.TimingAfterOccurrence},
	}

	first, _, err := s.FindOrInsertLval(ctx, base)
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}
	for i, v := range variants {
		got, inserted, err := s.FindOrInsertLval(ctx, v)
		if err != nil {
			t.Fatalf("variant %d failed: %v", i, err)
		}
		if !inserted {
			t.Errorf("variant %d: expected inserted=true for distinct key", i)
		}
		if got.ID == first.ID {
			t.Errorf("variant %d: collided with base row %d", i, first.ID)
		}
	}
}

func TestFindOrInsertLabelSet_LabelsPartOfKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, inserted, err := s.FindOrInsertLabelSet(ctx, model.LabelSet{
		Ref: 0x1000, InputFile: "corpus/a.bin", Labels: []uint32{1, 2},
	})
	if err != nil {
		t.Fatalf("FindOrInsertLabelSet failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	// Same ref, same input, different labels: a distinct row. The taint
	// engine reuses ref values across instants.
	b, inserted, err := s.FindOrInsertLabelSet(ctx, model.LabelSet{
		Ref: 0x1000, InputFile: "corpus/a.bin", Labels: []uint32{1, 2, 3},
	})
	if err != nil {
		t.Fatalf("FindOrInsertLabelSet failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for distinct labels")
	}
	if a.ID == b.ID {
		t.Error("label sets with distinct labels mapped to one row")
	}

	// Exact repeat converges.
	c, inserted, err := s.FindOrInsertLabelSet(ctx, model.LabelSet{
		Ref: 0x1000, InputFile: "corpus/a.bin", Labels: []uint32{1, 2},
	})
	if err != nil {
		t.Fatalf("FindOrInsertLabelSet failed: %v", err)
	}
	if inserted || c.ID != a.ID {
		t.Errorf("repeat = (id %d, inserted %t), want (id %d, false)", c.ID, inserted, a.ID)
	}
}

func TestFindOrInsertDua_FirstWriteWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lval, _, err := s.FindOrInsertLval(ctx, createTestLval("src/decode.c", 120, "hdr.len"))
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}
	ls, _, err := s.FindOrInsertLabelSet(ctx, model.LabelSet{
		Ref: 0x1000, InputFile: "corpus/a.bin", Labels: []uint32{1, 2},
	})
	if err != nil {
		t.Fatalf("FindOrInsertLabelSet failed: %v", err)
	}

	first := model.Dua{
		LvalID:         lval.ID,
		ViableBytes:    []*int64{&ls.ID, nil},
		AllLabels:      []uint32{1, 2},
		InputFile:      "corpus/a.bin",
		MaxTCN:         1,
		MaxCardinality: 2,
		Instr:          9001,
	}
	stored, inserted, err := s.FindOrInsertDua(ctx, first)
	if err != nil {
		t.Fatalf("FindOrInsertDua failed: %v", err)
	}
	if !inserted {
		t.Fatal("expected inserted=true")
	}

	// Same (lval, inputfile, instr) key with different summary fields: the
	// stored row's fields win, the candidate's are discarded.
	second := first
	second.AllLabels = []uint32{1, 2, 3}
	second.MaxTCN = 99
	got, inserted, err := s.FindOrInsertDua(ctx, second)
	if err != nil {
		t.Fatalf("second FindOrInsertDua failed: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false for duplicate key")
	}
	if got.ID != stored.ID {
		t.Errorf("ID = %d, want %d", got.ID, stored.ID)
	}
	if got.MaxTCN != 1 {
		t.Errorf("MaxTCN = %d, want stored value 1", got.MaxTCN)
	}
	if len(got.AllLabels) != 2 {
		t.Errorf("AllLabels = %v, want stored value [1 2]", got.AllLabels)
	}
}

func TestFindOrInsertDua_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dua := createTestDua(t, s, "corpus/a.bin", 9001)

	read, err := s.Dua(ctx, dua.ID)
	if err != nil {
		t.Fatalf("Dua failed: %v", err)
	}
	if read.LvalID != dua.LvalID || read.InputFile != dua.InputFile || read.Instr != dua.Instr {
		t.Errorf("key fields differ: got %+v, want %+v", read, dua)
	}
	if len(read.ViableBytes) != 3 {
		t.Fatalf("ViableBytes length = %d, want 3", len(read.ViableBytes))
	}
	if read.ViableBytes[0] == nil || read.ViableBytes[2] == nil {
		t.Error("tracked byte entries lost")
	}
	if read.ViableBytes[1] != nil {
		t.Error("untracked byte entry not preserved as nil")
	}
	if read.MaxCardinality != 2 {
		t.Errorf("MaxCardinality = %d, want 2", read.MaxCardinality)
	}
}

func TestFindOrInsertSourceModification_OrderSensitive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dua := createTestDua(t, s, "corpus/a.bin", 9001)
	atp := createTestAtp(t, s, "src/copy.c", 44)

	a, inserted, err := s.FindOrInsertSourceModification(ctx,
		model.NewSourceModification(dua.LvalID, []uint32{2, 5}, atp.ID))
	if err != nil {
		t.Fatalf("FindOrInsertSourceModification failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	// Reversed selection is a distinct key.
	b, inserted, err := s.FindOrInsertSourceModification(ctx,
		model.NewSourceModification(dua.LvalID, []uint32{5, 2}, atp.ID))
	if err != nil {
		t.Fatalf("FindOrInsertSourceModification failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true for reversed selection")
	}
	if a.ID == b.ID {
		t.Error("reversed selection mapped to the same row")
	}

	// Exact repeat converges and keeps the stored hash.
	c, inserted, err := s.FindOrInsertSourceModification(ctx,
		model.NewSourceModification(dua.LvalID, []uint32{2, 5}, atp.ID))
	if err != nil {
		t.Fatalf("FindOrInsertSourceModification failed: %v", err)
	}
	if inserted || c.ID != a.ID {
		t.Errorf("repeat = (id %d, inserted %t), want (id %d, false)", c.ID, inserted, a.ID)
	}
	if c.SelectedBytesHash != a.SelectedBytesHash {
		t.Errorf("hash = %#x, want %#x", c.SelectedBytesHash, a.SelectedBytesHash)
	}
}

func TestFindOrInsertBug_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dua := createTestDua(t, s, "corpus/a.bin", 9001)
	atp := createTestAtp(t, s, "src/copy.c", 44)

	bug := model.Bug{DuaID: dua.ID, SelectedBytes: []uint32{0, 2}, AtpID: atp.ID, MaxLiveness: 0.75}
	first, inserted, err := s.FindOrInsertBug(ctx, bug)
	if err != nil {
		t.Fatalf("FindOrInsertBug failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	// Repeat with a different liveness score: stored score wins.
	bug.MaxLiveness = 0.1
	second, inserted, err := s.FindOrInsertBug(ctx, bug)
	if err != nil {
		t.Fatalf("second FindOrInsertBug failed: %v", err)
	}
	if inserted {
		t.Error("expected inserted=false")
	}
	if second.ID != first.ID {
		t.Errorf("ID = %d, want %d", second.ID, first.ID)
	}
	if second.MaxLiveness != 0.75 {
		t.Errorf("MaxLiveness = %v, want stored 0.75", second.MaxLiveness)
	}
}

func TestFindOrInsertBug_DanglingReferenceAborts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.FindOrInsertBug(ctx, model.Bug{
		DuaID: 404, SelectedBytes: []uint32{0}, AtpID: 404,
	})
	if err == nil {
		t.Fatal("expected foreign key error for dangling dua/atp references")
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM bugs").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("bugs table has %d rows after aborted insert, want 0", count)
	}
}

func TestFindOrInsert_ConcurrentWorkersConverge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	newCount := make([]bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lval, inserted, err := s.FindOrInsertLval(ctx, createTestLval("src/decode.c", 120, "hdr.len"))
			if err != nil {
				t.Errorf("worker %d: FindOrInsertLval failed: %v", i, err)
				return
			}
			ids[i] = lval.ID
			newCount[i] = inserted
		}(i)
	}
	wg.Wait()

	inserts := 0
	for i := 0; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Errorf("worker %d got ID %d, worker 0 got %d", i, ids[i], ids[0])
		}
		if newCount[i] {
			inserts++
		}
	}
	if inserts != 1 {
		t.Errorf("%d workers reported inserted=true, want exactly 1", inserts)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM source_lvals").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("source_lvals has %d rows, want 1", count)
	}
}

func TestFindOrInsertCall_RequiresFunction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fn, inserted, err := s.FindOrInsertFunction(ctx, model.SourceFunction{
		File: "src/decode.c", Line: 80, Name: "parse_header",
	})
	if err != nil {
		t.Fatalf("FindOrInsertFunction failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	call := model.Call{
		CallInstr: 500, RetInstr: 900, FunctionID: fn.ID,
		File: "src/main.c", Line: 30,
	}
	first, inserted, err := s.FindOrInsertCall(ctx, call)
	if err != nil {
		t.Fatalf("FindOrInsertCall failed: %v", err)
	}
	if !inserted {
		t.Error("expected inserted=true")
	}

	second, inserted, err := s.FindOrInsertCall(ctx, call)
	if err != nil {
		t.Fatalf("second FindOrInsertCall failed: %v", err)
	}
	if inserted || second.ID != first.ID {
		t.Errorf("repeat = (id %d, inserted %t), want (id %d, false)", second.ID, inserted, first.ID)
	}

	// Dangling function reference aborts.
	call.FunctionID = 404
	call.CallInstr = 501
	if _, _, err := s.FindOrInsertCall(ctx, call); err == nil {
		t.Error("expected foreign key error for dangling function reference")
	}
}

func TestInsertBuild_OrderedBugMembership(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dua := createTestDua(t, s, "corpus/a.bin", 9001)
	atp := createTestAtp(t, s, "src/copy.c", 44)

	var bugIDs []int64
	for _, sel := range [][]uint32{{0}, {2}, {0, 2}} {
		bug, _, err := s.FindOrInsertBug(ctx, model.Bug{
			DuaID: dua.ID, SelectedBytes: sel, AtpID: atp.ID, MaxLiveness: 0.5,
		})
		if err != nil {
			t.Fatalf("FindOrInsertBug failed: %v", err)
		}
		bugIDs = append(bugIDs, bug.ID)
	}

	// Deliberately non-monotonic order; membership order must survive.
	order := []int64{bugIDs[2], bugIDs[0], bugIDs[1]}
	build, err := s.InsertBuild(ctx, order, "gcc -o target ...", true)
	if err != nil {
		t.Fatalf("InsertBuild failed: %v", err)
	}

	read, err := s.Build(ctx, build.ID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(read.BugIDs) != 3 {
		t.Fatalf("BugIDs length = %d, want 3", len(read.BugIDs))
	}
	for i, want := range order {
		if read.BugIDs[i] != want {
			t.Errorf("BugIDs[%d] = %d, want %d", i, read.BugIDs[i], want)
		}
	}
	if !read.Compiled {
		t.Error("Compiled not persisted")
	}
}

func TestInsertBuild_NotDeduplicated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bug := createTestBug(t, s)

	a, err := s.InsertBuild(ctx, []int64{bug.ID}, "make", false)
	if err != nil {
		t.Fatalf("first InsertBuild failed: %v", err)
	}
	b, err := s.InsertBuild(ctx, []int64{bug.ID}, "make", false)
	if err != nil {
		t.Fatalf("second InsertBuild failed: %v", err)
	}
	if a.ID == b.ID {
		t.Error("identical builds deduplicated; every attempt must be its own record")
	}
}

func TestInsertBuild_DanglingBugAborts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bug := createTestBug(t, s)

	_, err := s.InsertBuild(ctx, []int64{bug.ID, 404}, "make", true)
	if err == nil {
		t.Fatal("expected foreign key error for dangling bug reference")
	}

	// The whole transaction aborts: no build row, no partial membership.
	var builds, members int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM builds").Scan(&builds); err != nil {
		t.Fatalf("count builds failed: %v", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM build_bugs").Scan(&members); err != nil {
		t.Fatalf("count build_bugs failed: %v", err)
	}
	if builds != 0 || members != 0 {
		t.Errorf("partial build persisted: %d builds, %d members", builds, members)
	}
}

func TestInsertRun_AgainstFailedBuild(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bug := createTestBug(t, s)
	build, err := s.InsertBuild(ctx, []int64{bug.ID}, "make: error", false)
	if err != nil {
		t.Fatalf("InsertBuild failed: %v", err)
	}

	// A run against a build that never compiled is storable; whether to
	// attempt it is the orchestrator's call.
	run, err := s.InsertRun(ctx, model.Run{
		BuildID:  build.ID,
		ExitCode: 127,
		Output:   "exec: no such file",
		Success:  false,
	})
	if err != nil {
		t.Fatalf("InsertRun failed: %v", err)
	}
	if run.ID <= 0 {
		t.Errorf("expected positive run ID, got %d", run.ID)
	}
}

func TestInsertRun_FuzzedBugReference(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	bug := createTestBug(t, s)
	build, err := s.InsertBuild(ctx, []int64{bug.ID}, "make", true)
	if err != nil {
		t.Fatalf("InsertBuild failed: %v", err)
	}

	baseline, err := s.InsertRun(ctx, model.Run{BuildID: build.ID, ExitCode: 0, Success: true})
	if err != nil {
		t.Fatalf("baseline InsertRun failed: %v", err)
	}
	fuzzed, err := s.InsertRun(ctx, model.Run{
		BuildID: build.ID, FuzzedBugID: &bug.ID, ExitCode: 139, Success: true,
	})
	if err != nil {
		t.Fatalf("fuzzed InsertRun failed: %v", err)
	}

	runs, err := s.RunsForBuild(ctx, build.ID)
	if err != nil {
		t.Fatalf("RunsForBuild failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	for _, run := range runs {
		switch run.ID {
		case baseline.ID:
			if run.FuzzedBugID != nil {
				t.Error("baseline run carries a fuzzed bug reference")
			}
		case fuzzed.ID:
			if run.FuzzedBugID == nil || *run.FuzzedBugID != bug.ID {
				t.Errorf("fuzzed run reference = %v, want %d", run.FuzzedBugID, bug.ID)
			}
		}
	}

	// Dangling fuzzed bug aborts.
	bad := int64(404)
	if _, err := s.InsertRun(ctx, model.Run{BuildID: build.ID, FuzzedBugID: &bad}); err == nil {
		t.Error("expected foreign key error for dangling fuzzed bug")
	}
}

func TestFindOrInsertLval_PathNormalization(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// NFD and NFC spellings of the same path must key identically:
	// precomposed é vs e plus combining acute.
	nfc := "src/café.c"
	nfd := "src/café.c"

	a, _, err := s.FindOrInsertLval(ctx, createTestLval(nfc, 1, "x"))
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}
	b, inserted, err := s.FindOrInsertLval(ctx, createTestLval(nfd, 1, "x"))
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}
	if inserted {
		t.Error("NFD spelling inserted a second row")
	}
	if a.ID != b.ID {
		t.Errorf("normalized paths mapped to rows %d and %d", a.ID, b.ID)
	}
}
