package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hexene/lavarec/internal/model"
)

// createTestStore creates a fresh on-disk store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestLval creates a test lval with minimal required fields.
func createTestLval(file string, line uint32, name string) model.SourceLval {
	return model.SourceLval{
		File:    file,
		Line:    line,
		AstName: name,
		Timing:  model.TimingBeforeOccurrence,
	}
}

// createTestDua persists an lval and a DUA over it, returning the stored DUA.
func createTestDua(t *testing.T, s *Store, inputfile string, instr uint64) model.Dua {
	t.Helper()
	ctx := context.Background()

	lval, _, err := s.FindOrInsertLval(ctx, createTestLval("src/decode.c", 120, "hdr.len"))
	if err != nil {
		t.Fatalf("FindOrInsertLval failed: %v", err)
	}

	ls, _, err := s.FindOrInsertLabelSet(ctx, model.LabelSet{
		Ref:       0x1000,
		InputFile: inputfile,
		Labels:    []uint32{1, 2},
	})
	if err != nil {
		t.Fatalf("FindOrInsertLabelSet failed: %v", err)
	}

	dua, _, err := s.FindOrInsertDua(ctx, model.Dua{
		LvalID:         lval.ID,
		ViableBytes:    []*int64{&ls.ID, nil, &ls.ID},
		AllLabels:      []uint32{1, 2},
		InputFile:      inputfile,
		MaxTCN:         1,
		MaxCardinality: 2,
		Instr:          instr,
	})
	if err != nil {
		t.Fatalf("FindOrInsertDua failed: %v", err)
	}
	return dua
}

// createTestAtp persists an attack point.
func createTestAtp(t *testing.T, s *Store, file string, line uint32) model.AttackPoint {
	t.Helper()
	atp, _, err := s.FindOrInsertAttackPoint(context.Background(), model.AttackPoint{
		File: file,
		Line: line,
		Kind: model.AtpPointerRW,
	})
	if err != nil {
		t.Fatalf("FindOrInsertAttackPoint failed: %v", err)
	}
	return atp
}

// createTestBug persists a full lval/dua/atp/bug chain and returns the bug.
func createTestBug(t *testing.T, s *Store) model.Bug {
	t.Helper()
	dua := createTestDua(t, s, "corpus/a.bin", 9001)
	atp := createTestAtp(t, s, "src/copy.c", 44)
	bug, _, err := s.FindOrInsertBug(context.Background(), model.Bug{
		DuaID:         dua.ID,
		SelectedBytes: []uint32{0, 2},
		AtpID:         atp.ID,
		MaxLiveness:   0.75,
	})
	if err != nil {
		t.Fatalf("FindOrInsertBug failed: %v", err)
	}
	return bug
}
