package execcache

import (
	"fmt"
	"time"
)

// Executor is the cache-hit/miss facade: it turns an [Operation] plus a
// [CacheStore] and a [FileStampTable] into a cache hit/miss decision, and
// later absorbs the results of a real execution back into the store.
//
// An Executor holds no state of its own beyond its collaborators — all
// mutable state lives on the [Operation] passed to each call, so one
// Executor can drive an unbounded number of operations sequentially.
type Executor struct {
	store    *CacheStore
	memo     *FileStampTable
	notifier Notifier
}

// NewExecutor builds an Executor over store and memo. notifier may be nil,
// in which case diagnostics are discarded via [NopNotifier].
func NewExecutor(store *CacheStore, memo *FileStampTable, notifier Notifier) *Executor {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Executor{store: store, memo: memo, notifier: notifier}
}

// TryHit attempts to satisfy op entirely from the cache.
//
// For a non-spawn op, when the store is disabled, or when op declares no
// writes, TryHit always returns false without touching op's status — an
// operation with nothing to materialize can never be a meaningful cache
// hit. For a spawn op with at least one declared write, TryHit computes the
// fingerprint, derives a [WriteKey] per declared write, and attempts to
// materialize every write from the store. If any write is missing, every
// write already materialized in this attempt is rolled back (removed) so a
// partial hit never leaves the workspace in a mixed state, and TryHit
// reports false. If every write materializes, op transitions to
// [Cached]/cached=true and TryHit reports true.
func (e *Executor) TryHit(op *Operation) bool {
	writes := op.Writes()

	if op.Kind() != KindSpawn || e.store.Disabled() || len(writes) == 0 {
		return false
	}

	op.SetExecStart(time.Now())

	stamp, err := op.Fingerprint(e.memo)
	if err != nil {
		e.notifier.Error(op.ID(), fmt.Sprintf("fingerprint: %v", err))
		op.SetExecStart(time.Time{})

		return false
	}

	materialized := make([]string, 0, len(writes))

	ok := true

	for _, w := range writes {
		key := WriteKey(stamp, w)

		hit, putErr := e.store.Put(key, w)
		if putErr != nil {
			e.notifier.Error(op.ID(), fmt.Sprintf("TryHit: put %q: %v", w, putErr))
			ok = false

			break
		}

		if !hit {
			ok = false

			break
		}

		materialized = append(materialized, w)
	}

	if !ok {
		e.rollback(op, materialized)
		op.SetExecStart(time.Time{})

		return false
	}

	op.SetExecEnd(time.Now())
	op.SetStatus(Cached)
	op.SetCached(true)
	e.notifier.Debug(op.ID(), fmt.Sprintf("cache hit: %d writes materialized", len(writes)))

	return true
}

// rollback removes every workspace path in paths, best-effort. A failure to
// remove a rolled-back file is reported via Notifier.Error but does not
// panic — the caller's next real execution of op is expected to overwrite
// or recreate the path anyway.
func (e *Executor) rollback(op *Operation, paths []string) {
	for _, p := range paths {
		if err := e.store.fs.Remove(p); err != nil {
			e.notifier.Error(op.ID(), fmt.Sprintf("rollback: remove %q: %v", p, err))
		}
	}
}

// Record absorbs op's outputs into the store after a real execution.
//
// Record is only meaningful for spawn operations that were actually
// executed (Status() == [Executed]); calling it on any other status is a
// caller error and returns nil without effect, since there is nothing to
// absorb. If the store is disabled, Record is a no-op that still marks the
// operation cached=false and returns nil — the caller ran the work, but
// nothing is persisted for future hits.
//
// For every declared write, Record computes its [WriteKey] from op's
// (already-computed) fingerprint and absorbs the workspace file into the
// store. A write that doesn't exist in the workspace is fatal: it means the
// operation didn't produce what it declared, and is reported as
// [ErrMissingWrite] without absorbing any further writes.
func (e *Executor) Record(op *Operation) error {
	if op.Kind() != KindSpawn || op.Status() != Executed {
		return nil
	}

	if e.store.Disabled() {
		op.SetCached(false)

		return nil
	}

	stamp := op.Stamp()
	if stamp.IsZero() {
		var err error

		stamp, err = op.Fingerprint(e.memo)
		if err != nil {
			return fmt.Errorf("execcache: record operation %d: %w", op.ID(), err)
		}
	}

	for _, w := range op.Writes() {
		key := WriteKey(stamp, w)

		absorbed, err := e.store.Absorb(w, key)
		if err != nil {
			op.SetStatus(Failed)

			return fmt.Errorf("execcache: record operation %d: absorb %q: %w", op.ID(), w, err)
		}

		if !absorbed {
			op.SetStatus(Failed)

			return &ErrMissingWrite{OpID: op.ID(), Path: w, Key: key}
		}
	}

	op.SetCached(true)
	e.notifier.Debug(op.ID(), fmt.Sprintf("recorded: %d writes absorbed", len(op.Writes())))

	return nil
}
