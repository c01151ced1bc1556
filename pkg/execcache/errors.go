package execcache

import (
	"errors"
	"strconv"
)

// ErrDisabled is returned by [CacheStore.Put] and [CacheStore.Absorb] when
// called directly against a [CacheStore] opened with Disabled: true.
// [Executor] never surfaces it: [Executor.TryHit] always misses and
// [Executor.Record] always no-ops on a disabled store instead of calling
// into these methods.
var ErrDisabled = errors.New("execcache: cache disabled")

// ErrMissingWrite reports that [Executor.Record] was called for an
// operation whose declared write does not exist in the workspace — the
// operation lied about what it produced. This is always fatal: it names
// the operation, the missing path, and the write key that couldn't be
// created.
type ErrMissingWrite struct {
	OpID int64
	Path string
	Key  Digest
}

func (e *ErrMissingWrite) Error() string {
	return "execcache: operation " + strconv.FormatInt(e.OpID, 10) + ": declared write " + e.Path +
		" (key " + e.Key.Hex() + ") does not exist in the workspace"
}

// ErrMaterialize reports a fatal (non-miss) failure while placing a cache
// entry into the workspace or a workspace file into the store.
type ErrMaterialize struct {
	Src, Dst string
	Err      error
}

func (e *ErrMaterialize) Error() string {
	return "execcache: materialize " + e.Src + " -> " + e.Dst + ": " + e.Err.Error()
}

func (e *ErrMaterialize) Unwrap() error { return e.Err }
