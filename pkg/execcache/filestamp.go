package execcache

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/mikkelnl/execcache/pkg/fs"
)

const maxEINTRRetries = 10000

// FileStampTable memoizes path -> [Digest] for one cache instance's
// lifetime. Entries are inserted on first computation and never invalidated
// within the table's lifetime — the caller guarantees no concurrent external
// mutation of a file it has stamped.
type FileStampTable struct {
	fs fs.FS
	st Stamper

	mu      sync.Mutex
	entries map[string]Digest
	elapsed time.Duration
}

// NewFileStampTable creates an empty table backed by fsys.
func NewFileStampTable(fsys fs.FS) *FileStampTable {
	return &FileStampTable{
		fs:      fsys,
		entries: make(map[string]Digest),
	}
}

// Stamp returns the digest of the file at path.
//
// If path is already in the table, its cached digest is returned without
// touching the filesystem. Otherwise the file is opened read-only and
// stream-hashed:
//   - if the open fails because the file doesn't exist, Stamp returns
//     (Digest{}, false, nil) — an absent file is not an error to upper
//     layers.
//   - if the open fails for any other reason, Stamp returns the OS error
//     wrapped with path.
//   - on success, the digest is memoized and returned as (digest, true, nil).
//
// EINTR is retried transparently. Time spent in this call (including
// retries) accumulates into a running total available via [FileStampTable.Elapsed].
func (t *FileStampTable) Stamp(path string) (Digest, bool, error) {
	start := time.Now()
	defer func() {
		t.mu.Lock()
		t.elapsed += time.Since(start)
		t.mu.Unlock()
	}()

	t.mu.Lock()
	if d, ok := t.entries[path]; ok {
		t.mu.Unlock()
		return d, true, nil
	}
	t.mu.Unlock()

	f, err := openRetryEINTR(t.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, false, nil
		}

		return Digest{}, false, fmt.Errorf("execcache: stamp %q: %w", path, err)
	}

	d, hashErr := t.st.OfFD(f)

	closeErr := f.Close()

	if hashErr != nil {
		return Digest{}, false, fmt.Errorf("execcache: stamp %q: %w", path, hashErr)
	}

	if closeErr != nil {
		return Digest{}, false, fmt.Errorf("execcache: stamp %q: close: %w", path, closeErr)
	}

	t.mu.Lock()
	t.entries[path] = d
	t.mu.Unlock()

	return d, true, nil
}

// Elapsed returns cumulative wall-clock time spent inside [FileStampTable.Stamp],
// for diagnostics.
func (t *FileStampTable) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.elapsed
}

func openRetryEINTR(fsys fs.FS, path string) (fs.File, error) {
	var lastErr error

	for range maxEINTRRetries {
		f, err := fsys.Open(path)
		if err == nil {
			return f, nil
		}

		if !errors.Is(err, syscall.EINTR) {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}
