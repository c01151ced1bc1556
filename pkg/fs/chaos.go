package fs

import (
	"errors"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often Open/Create/OpenFile fail outright.
	// Returns EIO. Never used to simulate a missing file — ENOENT always
	// comes from the wrapped [FS], and Open of a missing file returns that
	// ENOENT even when this rate would inject a fault.
	OpenFailRate float64

	// ReadFailRate controls how often ReadFile fails after a successful open.
	// Returns EIO.
	ReadFailRate float64

	// LinkFailRate controls how often Link fails with a plain, non-EINTR
	// error (EIO), independent of the one-shot EXDEV behavior below.
	LinkFailRate float64

	// LinkEXDEVOnce, when true, makes exactly the first call to Link return
	// syscall.EXDEV; every later call passes through to the underlying FS.
	// This models a workspace and cache store living on different devices.
	LinkEXDEVOnce bool

	// EINTRBeforeSuccess makes the first N calls to each of Open and Link
	// return syscall.EINTR before the (N+1)th call is allowed to proceed.
	// Set to 0 to disable.
	EINTRBeforeSuccess int
}

// chaosError marks an error as intentionally injected by [Chaos].
// It wraps the underlying error so errors.Is/As keep working.
type chaosError struct{ Err error }

func (e *chaosError) Error() string { return "chaos: " + e.Err.Error() }
func (e *chaosError) Unwrap() error { return e.Err }

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects deterministic failures for testing.
//
// Unlike a full filesystem simulator, Chaos only injects the handful of
// errno classes the cache store's materialize/absorb protocol has to
// handle: EINTR (retry), EXDEV (cross-device, one-shot per handle), ENOENT
// (surfaced only by the wrapped FS, never injected), and plain EIO for
// "something else went wrong."
//
// Chaos is safe for concurrent use.
type Chaos struct {
	fs     FS
	rng    *rand.Rand
	rngMu  sync.Mutex
	config ChaosConfig

	linkEXDEVUsed atomic.Bool
	openEINTRLeft atomic.Int64
	linkEINTRLeft atomic.Int64

	openFails atomic.Int64
	readFails atomic.Int64
	linkFails atomic.Int64
	exdevHits atomic.Int64
}

// NewChaos creates a [Chaos] filesystem wrapping the given [FS].
// The seed controls fault selection for reproducibility. Panics if
// underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	c := &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: config,
	}
	c.openEINTRLeft.Store(int64(config.EINTRBeforeSuccess))
	c.linkEINTRLeft.Store(int64(config.EINTRBeforeSuccess))

	return c
}

// ChaosStats reports how many faults have been injected so far.
type ChaosStats struct {
	OpenFails int64
	ReadFails int64
	LinkFails int64
	EXDEVHits int64
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails: c.openFails.Load(),
		ReadFails: c.readFails.Load(),
		LinkFails: c.linkFails.Load(),
		EXDEVHits: c.exdevHits.Load(),
	}
}

func (c *Chaos) chance(rate float64) bool {
	if rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

func linkError(op, oldpath, newpath string, errno syscall.Errno) error {
	return &chaosError{Err: &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: errno}}
}

// Open opens a file for reading, injecting EINTR/open faults first.
func (c *Chaos) Open(path string) (File, error) {
	if left := c.openEINTRLeft.Load(); left > 0 {
		c.openEINTRLeft.Add(-1)
		return nil, pathError("open", path, syscall.EINTR)
	}

	if c.chance(c.config.OpenFailRate) {
		// A missing file reports the wrapped FS's own ENOENT, never an
		// injected fault.
		if exists, err := c.fs.Exists(path); err == nil && !exists {
			return c.fs.Open(path)
		}

		c.openFails.Add(1)
		return nil, pathError("open", path, syscall.EIO)
	}

	return c.fs.Open(path)
}

// Create creates a file for writing, injecting open faults first.
func (c *Chaos) Create(path string) (File, error) {
	if c.chance(c.config.OpenFailRate) {
		c.openFails.Add(1)
		return nil, pathError("open", path, syscall.EIO)
	}

	return c.fs.Create(path)
}

// OpenFile opens a file with flags, injecting open faults first.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.chance(c.config.OpenFailRate) {
		c.openFails.Add(1)
		return nil, pathError("open", path, syscall.EIO)
	}

	return c.fs.OpenFile(path, flag, perm)
}

// ReadFile reads a whole file, injecting a post-open read fault first.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.chance(c.config.ReadFailRate) {
		c.readFails.Add(1)
		return nil, pathError("read", path, syscall.EIO)
	}

	return c.fs.ReadFile(path)
}

// WriteFile is a passthrough to the wrapped [FS].
func (c *Chaos) WriteFile(path string, data []byte, perm os.FileMode) error {
	return c.fs.WriteFile(path, data, perm)
}

// ReadDir is a passthrough to the wrapped [FS].
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// MkdirAll is a passthrough to the wrapped [FS].
func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	return c.fs.MkdirAll(path, perm)
}

// Stat is a passthrough to the wrapped [FS].
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Exists is a passthrough to the wrapped [FS].
func (c *Chaos) Exists(path string) (bool, error) {
	return c.fs.Exists(path)
}

// Remove is a passthrough to the wrapped [FS].
func (c *Chaos) Remove(path string) error {
	return c.fs.Remove(path)
}

// RemoveAll is a passthrough to the wrapped [FS].
func (c *Chaos) RemoveAll(path string) error {
	return c.fs.RemoveAll(path)
}

// Rename is a passthrough to the wrapped [FS].
func (c *Chaos) Rename(oldpath, newpath string) error {
	return c.fs.Rename(oldpath, newpath)
}

// Link creates a hard link, injecting EINTR, a one-shot EXDEV, and plain
// link faults, in that order, before delegating to the wrapped [FS].
func (c *Chaos) Link(oldname, newname string) error {
	if left := c.linkEINTRLeft.Load(); left > 0 {
		c.linkEINTRLeft.Add(-1)
		return linkError("link", oldname, newname, syscall.EINTR)
	}

	if c.config.LinkEXDEVOnce && c.linkEXDEVUsed.CompareAndSwap(false, true) {
		c.exdevHits.Add(1)
		return linkError("link", oldname, newname, syscall.EXDEV)
	}

	if c.chance(c.config.LinkFailRate) {
		c.linkFails.Add(1)
		return linkError("link", oldname, newname, syscall.EIO)
	}

	return c.fs.Link(oldname, newname)
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)
