package execcache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/mikkelnl/execcache/pkg/fs"
)

// CacheStore is an on-disk, content-addressed store. Every regular file in
// its directory whose basename hex-decodes to a valid [Digest] is an
// immutable cache entry named by [WriteKey]; anything else is a
// "suspicious" file, ignored by hit logic and surfaced by
// [CacheStore.SuspiciousFiles].
//
// A CacheStore is not safe for two handles on the same directory in the
// same process, and not safe for concurrent eviction from multiple
// processes — see DESIGN.md. It is safe for one handle to be used from one
// goroutine at a time, matching the single-threaded-cooperative scheduling
// model this cache is designed for.
type CacheStore struct {
	fs       fs.FS
	dir      string
	disabled bool
	notifier Notifier
	warn     *warnOnce

	// copyingMode latches to true after the first cross-device link
	// failure. It is a per-handle latch, not per-call: once cross-device
	// has been observed, every later materialize/absorb goes straight to
	// copy, avoiding a doomed link syscall on every call.
	copyingMode bool
}

// Open creates dir if it doesn't exist and returns a handle to it, using the
// real filesystem.
func Open(opts Options) (*CacheStore, error) {
	return OpenFS(fs.NewReal(), opts)
}

// OpenFS is [Open] with an injectable [fs.FS], for tests.
func OpenFS(fsys fs.FS, opts Options) (*CacheStore, error) {
	if opts.Directory == "" {
		return nil, errors.New("execcache: open: directory is empty")
	}

	dir := filepath.Clean(opts.Directory)

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("execcache: open %q: %w", dir, err)
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &CacheStore{
		fs:       fsys,
		dir:      dir,
		disabled: opts.Disabled,
		notifier: notifier,
		warn:     &warnOnce{n: notifier},
	}, nil
}

// Disabled reports whether the store was opened with Disabled: true.
func (s *CacheStore) Disabled() bool { return s.disabled }

// CopyingMode reports whether the store has latched into copy-only mode
// after observing a cross-device link failure.
func (s *CacheStore) CopyingMode() bool { return s.copyingMode }

// pathForKey returns the on-disk path of the entry named by key. There are
// no subdirectories and no sidecar files — content-addressing on key is the
// only index.
func (s *CacheStore) pathForKey(key Digest) string {
	return filepath.Join(s.dir, key.Hex())
}

// Put places the cache entry named by key into the workspace at dst. It is
// [CacheStore.materialize] under the store's own naming.
//
// [Executor] never calls Put on a disabled store — it treats disabled as a
// soft miss instead. A caller that goes around the executor and calls Put
// directly gets a hard [ErrDisabled] rather than a silent no-op, since there
// is no cache entry to report a miss against.
func (s *CacheStore) Put(key Digest, dst string) (bool, error) {
	if s.disabled {
		return false, ErrDisabled
	}

	return s.materialize(s.pathForKey(key), dst)
}

// Absorb places the workspace file at src into the store under key. It is
// [CacheStore.materialize] in reverse: a hard link from the workspace into
// the store, falling back to a copy across devices.
//
// As with [CacheStore.Put], a disabled store returns [ErrDisabled] rather
// than absorbing anyway; [Executor] never reaches this path because it
// no-ops before calling Absorb.
func (s *CacheStore) Absorb(src string, key Digest) (bool, error) {
	if s.disabled {
		return false, ErrDisabled
	}

	return s.materialize(src, s.pathForKey(key))
}

// materialize places the file at src at workspace path dst via hardlink,
// falling back to a copy if src and dst are on different devices.
//
//  1. Ensures dst's parent directory exists.
//  2. If not in copying mode: attempts a hard link, unlinking any
//     pre-existing dst first so a second materialize/absorb of the same key
//     is a re-linking no-op rather than an EEXIST failure. ENOENT
//     for src is a plain miss (false, nil). EINTR is retried transparently.
//     EXDEV latches copying mode (with a one-shot warning) and falls
//     through to step 3. Any other error is fatal.
//  3. In copying mode: opens src, creates dst with src's permission bits,
//     and streams its contents across. ENOENT is a miss; EINTR is
//     retried; any other error is fatal.
func (s *CacheStore) materialize(src, dst string) (bool, error) {
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, &ErrMaterialize{Src: src, Dst: dst, Err: err}
	}

	if !s.copyingMode {
		ok, hitEXDEV, err := s.tryLink(src, dst)
		if err != nil {
			return false, err
		}

		if ok {
			return true, nil
		}

		if !hitEXDEV {
			// Plain miss (ENOENT for src): nothing further to try.
			return false, nil
		}

		s.copyingMode = true
		s.warn.warn(fmt.Sprintf("execcache: cross-device link from %q to %q; falling back to copy", src, dst))
	}

	return s.copyFallback(src, dst)
}

// tryLink attempts a hard link, unlinking a pre-existing dst and retrying
// once that happens, and retrying transparently on EINTR. Returns
// (true, false, nil) on success, (false, false, nil) on a plain ENOENT miss
// (src doesn't exist), (false, true, nil) if the link failed with EXDEV
// (caller should fall back to copy), or (false, false, err) for any other
// error.
func (s *CacheStore) tryLink(src, dst string) (ok bool, hitEXDEV bool, err error) {
	for range maxEINTRRetries {
		linkErr := s.fs.Link(src, dst)
		if linkErr == nil {
			return true, false, nil
		}

		if errors.Is(linkErr, syscall.EINTR) {
			continue
		}

		if errors.Is(linkErr, syscall.EEXIST) {
			if rmErr := s.fs.Remove(dst); rmErr != nil && !errors.Is(rmErr, syscall.ENOENT) {
				return false, false, &ErrMaterialize{Src: src, Dst: dst, Err: rmErr}
			}

			continue
		}

		if errors.Is(linkErr, syscall.ENOENT) {
			return false, false, nil
		}

		if errors.Is(linkErr, syscall.EXDEV) {
			return false, true, nil
		}

		return false, false, &ErrMaterialize{Src: src, Dst: dst, Err: linkErr}
	}

	return false, false, &ErrMaterialize{Src: src, Dst: dst, Err: errors.New("exhausted EINTR retries on link")}
}

func (s *CacheStore) copyFallback(src, dst string) (bool, error) {
	srcFile, err := openRetryEINTR(s.fs, src)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, &ErrMaterialize{Src: src, Dst: dst, Err: err}
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return false, &ErrMaterialize{Src: src, Dst: dst, Err: err}
	}

	dstFile, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return false, &ErrMaterialize{Src: src, Dst: dst, Err: err}
	}

	_, copyErr := io.Copy(dstFile, srcFile)
	closeErr := dstFile.Close()

	if copyErr != nil {
		return false, &ErrMaterialize{Src: src, Dst: dst, Err: copyErr}
	}

	if closeErr != nil {
		return false, &ErrMaterialize{Src: src, Dst: dst, Err: closeErr}
	}

	return true, nil
}
