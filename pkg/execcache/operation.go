package execcache

import (
	"encoding/binary"
	"fmt"
	"hash"
	"slices"
	"time"
)

// Kind tags the variant of work an [Operation] describes.
//
// This is a plain enum rather than an interface hierarchy: the executor only
// ever branches on Kind, and every case (other than [KindSpawn]) is a
// pass-through the cache doesn't fingerprint or store.
type Kind int

const (
	// KindSpawn runs an external process. The only kind the cache caches.
	KindSpawn Kind = iota
	KindCopyFile
	KindRead
	KindWrite
	KindDelete
	KindMkdir
	KindSync
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "Spawn"
	case KindCopyFile:
		return "CopyFile"
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindDelete:
		return "Delete"
	case KindMkdir:
		return "Mkdir"
	case KindSync:
		return "Sync"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Status is an [Operation]'s position in its state machine.
//
//	Pending -- TryHit true  --> Cached (terminal)
//	Pending -- TryHit false --> (caller runs op externally) --> Executed
//	Executed -- Record success --> Executed, cached=true (terminal)
//	any -- error --> Failed (terminal, not cached)
type Status int

const (
	Pending Status = iota
	Executed
	Cached
	Failed
)

// String implements [fmt.Stringer].
func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Executed:
		return "Executed"
	case Cached:
		return "Cached"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SpawnSpec describes the KindSpawn variant.
type SpawnSpec struct {
	// Cmd is the executable to run, resolved to a concrete file path. Its
	// contents are hashed as part of the operation's fingerprint, so cache
	// entries are sensitive to the tool's own version.
	Cmd string

	// Argv is the full argument vector, including Argv[0].
	Argv []string

	// Env is the environment, as "KEY=VALUE" entries, in the order the
	// caller presents them. The cache is oblivious to which variables
	// matter — the caller is responsible for restricting this to a
	// relevant subset.
	Env []string

	// Stdin is the path of the file redirected to stdin, or "" if none.
	Stdin string
}

// CopyFileSpec describes the KindCopyFile variant.
type CopyFileSpec struct{ Src, Dst string }

// ReadSpec describes the KindRead variant.
type ReadSpec struct{ File string }

// WriteSpec describes the KindWrite variant.
type WriteSpec struct {
	File string
	Data []byte
}

// DeleteSpec describes the KindDelete variant.
type DeleteSpec struct{ File string }

// MkdirSpec describes the KindMkdir variant.
type MkdirSpec struct{ Dir string }

// Operation is a record describing one unit of externally observable work.
//
// reads and writes are always stored sorted and de-duplicated, so iteration
// order is deterministic regardless of the order the caller supplied paths
// in — the executor and the cache store both rely on this for reproducible
// fingerprints and predictable rollback.
type Operation struct {
	id   int64
	kind Kind

	spawn    SpawnSpec
	copyFile CopyFileSpec
	read     ReadSpec
	write    WriteSpec
	del      DeleteSpec
	mkdir    MkdirSpec

	reads  []string
	writes []string

	stamp  Digest
	status Status

	execStart time.Time
	execEnd   time.Time
	cached    bool
}

func sortedUnique(paths []string) []string {
	out := slices.Clone(paths)
	slices.Sort(out)
	return slices.Compact(out)
}

// NewSpawn creates a KindSpawn operation. Panics if reads and writes
// overlap — an operation cannot both read and write the same path, per the
// data model invariant.
func NewSpawn(id int64, spec SpawnSpec, reads, writes []string) *Operation {
	op := newOperation(id, KindSpawn, reads, writes)
	op.spawn = spec

	return op
}

// NewCopyFile creates a KindCopyFile operation.
func NewCopyFile(id int64, spec CopyFileSpec) *Operation {
	op := newOperation(id, KindCopyFile, []string{spec.Src}, []string{spec.Dst})
	op.copyFile = spec

	return op
}

// NewRead creates a KindRead operation.
func NewRead(id int64, spec ReadSpec) *Operation {
	op := newOperation(id, KindRead, []string{spec.File}, nil)
	op.read = spec

	return op
}

// NewWrite creates a KindWrite operation.
func NewWrite(id int64, spec WriteSpec) *Operation {
	op := newOperation(id, KindWrite, nil, []string{spec.File})
	op.write = spec

	return op
}

// NewDelete creates a KindDelete operation.
func NewDelete(id int64, spec DeleteSpec) *Operation {
	op := newOperation(id, KindDelete, nil, []string{spec.File})
	op.del = spec

	return op
}

// NewMkdir creates a KindMkdir operation.
func NewMkdir(id int64, spec MkdirSpec) *Operation {
	op := newOperation(id, KindMkdir, nil, []string{spec.Dir})
	op.mkdir = spec

	return op
}

// NewSync creates a KindSync operation. Sync has no reads or writes of its
// own; it is a barrier the scheduler inserts, not a cacheable unit.
func NewSync(id int64) *Operation {
	return newOperation(id, KindSync, nil, nil)
}

func newOperation(id int64, kind Kind, reads, writes []string) *Operation {
	r := sortedUnique(reads)
	w := sortedUnique(writes)

	for _, read := range r {
		if slices.Contains(w, read) {
			panic(fmt.Sprintf("execcache: operation %d: %q is in both reads and writes", id, read))
		}
	}

	return &Operation{
		id:     id,
		kind:   kind,
		reads:  r,
		writes: w,
		status: Pending,
	}
}

// ID returns the operation's monotonic, build-unique identifier.
func (op *Operation) ID() int64 { return op.id }

// Kind returns the operation's tagged variant.
func (op *Operation) Kind() Kind { return op.kind }

// Spawn returns the KindSpawn payload. Only meaningful when Kind() == KindSpawn.
func (op *Operation) Spawn() SpawnSpec { return op.spawn }

// CopyFile returns the KindCopyFile payload.
func (op *Operation) CopyFile() CopyFileSpec { return op.copyFile }

// Read returns the KindRead payload.
func (op *Operation) Read() ReadSpec { return op.read }

// Write returns the KindWrite payload.
func (op *Operation) Write() WriteSpec { return op.write }

// Delete returns the KindDelete payload.
func (op *Operation) Delete() DeleteSpec { return op.del }

// Mkdir returns the KindMkdir payload.
func (op *Operation) Mkdir() MkdirSpec { return op.mkdir }

// Reads returns the operation's declared inputs, sorted and de-duplicated.
// The returned slice is a copy; mutating it does not affect the operation.
func (op *Operation) Reads() []string { return slices.Clone(op.reads) }

// Writes returns the operation's declared outputs, sorted and de-duplicated.
// The returned slice is a copy; mutating it does not affect the operation.
func (op *Operation) Writes() []string { return slices.Clone(op.writes) }

// Stamp returns the operation's fingerprint, or the zero [Digest] if it
// hasn't been computed yet.
func (op *Operation) Stamp() Digest { return op.stamp }

// SetStamp records the operation's fingerprint. Called by [Executor] before
// cache lookup.
func (op *Operation) SetStamp(d Digest) { op.stamp = d }

// Status returns the operation's current state.
func (op *Operation) Status() Status { return op.status }

// SetStatus transitions the operation. Called by [Executor].
func (op *Operation) SetStatus(s Status) { op.status = s }

// ExecStart returns when execution (or a cache-hit attempt) started.
func (op *Operation) ExecStart() time.Time { return op.execStart }

// SetExecStart records the start time, or the zero [time.Time] to mark a
// non-executed attempt (used during partial-hit rollback).
func (op *Operation) SetExecStart(t time.Time) { op.execStart = t }

// ExecEnd returns when execution (or a cache-hit) finished.
func (op *Operation) ExecEnd() time.Time { return op.execEnd }

// SetExecEnd records the finish time.
func (op *Operation) SetExecEnd(t time.Time) { op.execEnd = t }

// Cached reports whether this operation's outputs have been recorded to the
// store.
func (op *Operation) Cached() bool { return op.cached }

// SetCached marks whether this operation's outputs have been recorded.
func (op *Operation) SetCached(c bool) { op.cached = c }

// ErrNotSpawn is returned by [Operation.Fingerprint] for any kind other than
// [KindSpawn] — the cache doesn't fingerprint or store non-spawn operations.
var ErrNotSpawn = fmt.Errorf("execcache: only Spawn operations have a fingerprint")

// Fingerprint computes the operation's spawn fingerprint and stores it via
// [Operation.SetStamp], returning the same value.
//
// The digest covers, in this fixed order:
//
//  1. The digest of the executable file (Spawn.Cmd), resolved via memo.
//  2. Each token of Spawn.Argv, in order (including Argv[0]).
//  3. Each entry of Spawn.Env, in the order the caller presented them —
//     NOT sorted. This preserves the source behavior of treating env order
//     as caller-significant; sorting was considered and rejected because it
//     would silently change fingerprints for callers who rely on
//     positional env semantics (e.g. a later duplicate key overriding an
//     earlier one). See DESIGN.md open-question (a).
//  4. Spawn.Stdin, if non-empty.
//  5. For each entry of Reads(), in sorted order, the digest of that file
//     via memo.
//
// A read or the executable that's absent from disk is folded into the
// fingerprint as a distinguishable "absent" marker rather than skipped, so
// that a build where an input later appears on disk gets a different
// fingerprint than one where it stayed absent.
func (op *Operation) Fingerprint(memo *FileStampTable) (Digest, error) {
	if op.kind != KindSpawn {
		return Digest{}, fmt.Errorf("%w: operation %d has kind %s", ErrNotSpawn, op.id, op.kind)
	}

	h := stampHasher()
	w := &fingerprintWriter{h: h}

	execDigest, ok, err := memo.Stamp(op.spawn.Cmd)
	if err != nil {
		return Digest{}, fmt.Errorf("execcache: fingerprint operation %d: executable %q: %w", op.id, op.spawn.Cmd, err)
	}

	w.writeDigest(execDigest, ok)

	for _, tok := range op.spawn.Argv {
		w.writeString(tok)
	}

	for _, kv := range op.spawn.Env {
		w.writeString(kv)
	}

	w.writeString(op.spawn.Stdin)

	for _, r := range op.reads {
		d, present, err := memo.Stamp(r)
		if err != nil {
			return Digest{}, fmt.Errorf("execcache: fingerprint operation %d: read %q: %w", op.id, r, err)
		}

		w.writeDigest(d, present)
	}

	var out Digest
	h.Sum(out[:0])

	op.SetStamp(out)

	return out, nil
}

// fingerprintWriter builds the spawn fingerprint hash input unambiguously:
// every variable-length chunk is preceded by its length, so "ab"+"c" can
// never collide with "a"+"bc".
type fingerprintWriter struct {
	h hash.Hash
}

func (w *fingerprintWriter) writeString(s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	_, _ = w.h.Write(lenBuf[:])
	_, _ = w.h.Write([]byte(s))
}

func (w *fingerprintWriter) writeDigest(d Digest, present bool) {
	if present {
		_, _ = w.h.Write([]byte{1})
		_, _ = w.h.Write(d[:])

		return
	}

	_, _ = w.h.Write([]byte{0})
}
