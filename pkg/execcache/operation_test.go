package execcache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mikkelnl/execcache/pkg/fs"
)

func Test_NewSpawn_Panics_When_Reads_And_Writes_Overlap(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic for overlapping reads/writes")
		}
	}()

	NewSpawn(1, SpawnSpec{}, []string{"shared.txt"}, []string{"shared.txt"})
}

func Test_NewSpawn_Sorts_And_Dedupes_Reads_And_Writes(t *testing.T) {
	op := NewSpawn(1, SpawnSpec{}, []string{"b.txt", "a.txt", "a.txt"}, []string{"y.txt", "x.txt"})

	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, op.Reads()); diff != "" {
		t.Fatalf("Reads() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"x.txt", "y.txt"}, op.Writes()); diff != "" {
		t.Fatalf("Writes() mismatch (-want +got):\n%s", diff)
	}
}

func Test_Operation_Reads_Returns_A_Copy(t *testing.T) {
	op := NewSpawn(1, SpawnSpec{}, []string{"a.txt"}, nil)

	reads := op.Reads()
	reads[0] = "mutated"

	if got, want := op.Reads()[0], "a.txt"; got != want {
		t.Fatalf("Operation.reads was mutated externally: got=%v, want=%v", got, want)
	}
}

func Test_Operation_Status_Defaults_To_Pending(t *testing.T) {
	op := NewSync(1)

	if got, want := op.Status(), Pending; got != want {
		t.Fatalf("Status()=%v, want=%v", got, want)
	}
}

func Test_Operation_Fingerprint_Returns_ErrNotSpawn_For_Non_Spawn_Kind(t *testing.T) {
	op := NewSync(1)
	memo := NewFileStampTable(fs.NewReal())

	_, err := op.Fingerprint(memo)

	if !errors.Is(err, ErrNotSpawn) {
		t.Fatalf("err=%v, want wrapping %v", err, ErrNotSpawn)
	}
}

func Test_Operation_Fingerprint_Is_Deterministic_For_Identical_Inputs(t *testing.T) {
	fsys := fs.NewReal()
	dir := t.TempDir()

	exe := filepath.Join(dir, "tool")
	if err := fsys.WriteFile(exe, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	spec := SpawnSpec{Cmd: exe, Argv: []string{exe, "--flag"}, Env: []string{"A=1", "B=2"}}

	op1 := NewSpawn(1, spec, nil, nil)
	op2 := NewSpawn(2, spec, nil, nil)

	memo := NewFileStampTable(fsys)

	fp1, err := op1.Fingerprint(memo)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	fp2, err := op2.Fingerprint(memo)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if fp1 != fp2 {
		t.Fatalf("expected identical fingerprints for identical spawn specs, got %v vs %v", fp1, fp2)
	}
}

func Test_Operation_Fingerprint_Differs_When_Env_Order_Differs(t *testing.T) {
	fsys := fs.NewReal()
	dir := t.TempDir()

	exe := filepath.Join(dir, "tool")
	if err := fsys.WriteFile(exe, []byte("bin"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	memo := NewFileStampTable(fsys)

	op1 := NewSpawn(1, SpawnSpec{Cmd: exe, Env: []string{"A=1", "B=2"}}, nil, nil)
	op2 := NewSpawn(2, SpawnSpec{Cmd: exe, Env: []string{"B=2", "A=1"}}, nil, nil)

	fp1, err := op1.Fingerprint(memo)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	fp2, err := op2.Fingerprint(memo)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if fp1 == fp2 {
		t.Fatalf("expected fingerprints to differ when env order differs (caller order is significant)")
	}
}

func Test_Operation_Fingerprint_Differs_When_A_Read_Appears_Vs_Is_Absent(t *testing.T) {
	fsys := fs.NewReal()
	dir := t.TempDir()

	exe := filepath.Join(dir, "tool")
	if err := fsys.WriteFile(exe, []byte("bin"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	readPath := filepath.Join(dir, "input.txt")
	memo := NewFileStampTable(fsys)

	absentOp := NewSpawn(1, SpawnSpec{Cmd: exe}, []string{readPath}, nil)

	fpAbsent, err := absentOp.Fingerprint(memo)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if err := fsys.WriteFile(readPath, []byte("data"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	presentOp := NewSpawn(2, SpawnSpec{Cmd: exe}, []string{readPath}, nil)
	memo2 := NewFileStampTable(fsys)

	fpPresent, err := presentOp.Fingerprint(memo2)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}

	if fpAbsent == fpPresent {
		t.Fatalf("expected absent-vs-present read to change the fingerprint")
	}
}

func Test_WriteKey_Is_Deterministic_And_Sensitive_To_Path(t *testing.T) {
	var st Stamper

	stamp := st.OfString("some fingerprint")

	k1 := WriteKey(stamp, "out/a.txt")
	k2 := WriteKey(stamp, "out/a.txt")
	k3 := WriteKey(stamp, "out/b.txt")

	if k1 != k2 {
		t.Fatalf("expected WriteKey to be deterministic")
	}

	if k1 == k3 {
		t.Fatalf("expected WriteKey to depend on path")
	}
}
