package execcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mikkelnl/execcache/pkg/fs"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, storeDir string) (*Executor, *CacheStore, *FileStampTable) {
	t.Helper()

	fsys := fs.NewReal()

	store, err := OpenFS(fsys, Options{Directory: storeDir})
	require.NoError(t, err)

	memo := NewFileStampTable(fsys)

	return NewExecutor(store, memo, nil), store, memo
}

func Test_Executor_TryHit_Misses_On_First_Run_Then_Hits_After_Record(t *testing.T) {
	base := t.TempDir()
	exec, _, _ := newTestExecutor(t, filepath.Join(base, "store"))

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	out := filepath.Join(base, "workspace", "out.txt")

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out})

	require.False(t, exec.TryHit(op), "expected a miss before the operation has ever run")

	require.NoError(t, os.MkdirAll(filepath.Dir(out), 0o755))
	require.NoError(t, os.WriteFile(out, []byte("produced"), 0o644))
	op.SetStatus(Executed)

	require.NoError(t, exec.Record(op))
	require.True(t, op.Cached())

	require.NoError(t, os.Remove(out))

	op2 := NewSpawn(2, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out})

	require.True(t, exec.TryHit(op2), "expected a hit after Record with an identical fingerprint")
	require.Equal(t, Cached, op2.Status())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "produced", string(got))
}

func Test_Executor_TryHit_Rolls_Back_Partial_Materialization(t *testing.T) {
	base := t.TempDir()
	exec, store, memo := newTestExecutor(t, filepath.Join(base, "store"))

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	out1 := filepath.Join(base, "workspace", "one.txt")
	out2 := filepath.Join(base, "workspace", "two.txt")

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out1, out2})

	stamp, err := op.Fingerprint(memo)
	require.NoError(t, err)

	// Only absorb one of the two declared writes, simulating a store that
	// has half the entries for this fingerprint (e.g. from an interrupted
	// prior record).
	require.NoError(t, os.MkdirAll(filepath.Dir(out1), 0o755))
	require.NoError(t, os.WriteFile(out1, []byte("one"), 0o644))

	_, err = store.Absorb(out1, WriteKey(stamp, out1))
	require.NoError(t, err)

	require.NoError(t, os.Remove(out1))

	op2 := NewSpawn(2, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out1, out2})

	require.False(t, exec.TryHit(op2))

	_, err = os.Stat(out1)
	require.True(t, os.IsNotExist(err), "expected the partially materialized write to be rolled back")
}

func Test_Executor_Record_Returns_ErrMissingWrite_When_Output_Absent(t *testing.T) {
	base := t.TempDir()
	exec, _, _ := newTestExecutor(t, filepath.Join(base, "store"))

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	out := filepath.Join(base, "workspace", "missing.txt")

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out})
	op.SetStatus(Executed)

	err := exec.Record(op)

	var missing *ErrMissingWrite
	require.ErrorAs(t, err, &missing)
	require.Equal(t, out, missing.Path)
	require.Equal(t, Failed, op.Status())
}

func Test_Executor_TryHit_Always_Misses_When_Store_Disabled(t *testing.T) {
	base := t.TempDir()
	fsys := fs.NewReal()

	store, err := OpenFS(fsys, Options{Directory: filepath.Join(base, "store"), Disabled: true})
	require.NoError(t, err)

	memo := NewFileStampTable(fsys)
	exec := NewExecutor(store, memo, nil)

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{filepath.Join(base, "out.txt")})

	require.False(t, exec.TryHit(op))
	require.Equal(t, Pending, op.Status())
}

func Test_Executor_TryHit_Always_Misses_For_An_Operation_With_No_Writes(t *testing.T) {
	base := t.TempDir()
	exec, _, _ := newTestExecutor(t, filepath.Join(base, "store"))

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, nil)

	require.False(t, exec.TryHit(op), "an operation declaring no writes can never be a cache hit")
	require.Equal(t, Pending, op.Status())
	require.False(t, op.Cached())
}

func Test_Executor_Record_Is_A_No_Op_When_Store_Disabled(t *testing.T) {
	base := t.TempDir()
	fsys := fs.NewReal()

	store, err := OpenFS(fsys, Options{Directory: filepath.Join(base, "store"), Disabled: true})
	require.NoError(t, err)

	memo := NewFileStampTable(fsys)
	exec := NewExecutor(store, memo, nil)

	exe := filepath.Join(base, "tool")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0o755))

	out := filepath.Join(base, "out.txt")
	require.NoError(t, os.WriteFile(out, []byte("data"), 0o644))

	op := NewSpawn(1, SpawnSpec{Cmd: exe, Argv: []string{exe}}, nil, []string{out})
	op.SetStatus(Executed)

	require.NoError(t, exec.Record(op))
	require.False(t, op.Cached())
}
