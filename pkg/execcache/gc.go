package execcache

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// entryInfo is one classified directory entry underneath a [CacheStore]'s
// directory.
type entryInfo struct {
	path  string
	key   Digest
	nlink uint64
	size  int64
	atime time.Time
}

// ListFiles returns the path of every regular file directly under the
// store's directory, valid or not.
func (s *CacheStore) ListFiles() ([]string, error) {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("execcache: list files: %w", err)
	}

	out := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		out = append(out, filepath.Join(s.dir, e.Name()))
	}

	return out, nil
}

// SuspiciousFiles returns every entry under the store's directory whose
// basename does not hex-decode to a valid [Digest] — anything GC and hit
// logic must ignore, and an operator likely wants to know about.
func (s *CacheStore) SuspiciousFiles() ([]string, error) {
	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0)

	for _, f := range files {
		if _, err := DigestFromHex(filepath.Base(f)); err != nil {
			out = append(out, f)
		}
	}

	return out, nil
}

// validEntries lists every regular file whose basename is a valid digest,
// with its link count, size, and access time, via a raw stat — data
// [os.FileInfo] doesn't expose.
func (s *CacheStore) validEntries() ([]entryInfo, error) {
	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}

	out := make([]entryInfo, 0, len(files))

	for _, f := range files {
		key, err := DigestFromHex(filepath.Base(f))
		if err != nil {
			continue
		}

		var st unix.Stat_t
		if err := unix.Stat(f, &st); err != nil {
			return nil, fmt.Errorf("execcache: stat %q: %w", f, err)
		}

		out = append(out, entryInfo{
			path:  f,
			key:   key,
			nlink: uint64(st.Nlink),
			size:  st.Size,
			atime: time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)),
		})
	}

	return out, nil
}

// DeleteUnused removes every valid entry whose link count is 1 — meaning no
// workspace path currently holds a hard link to it. See DESIGN.md
// open-question (b) for why this is nlink-restricted while [CacheStore.Evict]
// is not. It returns the number of files removed.
//
// On a filesystem that can't hardlink (the store latched into
// [CacheStore.CopyingMode]), nlink can never distinguish a live workspace
// reference from an unreferenced entry — every entry's nlink is permanently
// 1. Rather than treat that as "everything is unused" and delete
// indiscriminately, DeleteUnused degrades to a no-op in this mode: it
// requires a hardlink-capable filesystem for correctness, and silently
// evicting live entries would be worse than not collecting at all. Callers
// on such filesystems should manage cache size with an external retention
// policy instead.
func (s *CacheStore) DeleteUnused() (int, error) {
	if s.copyingMode {
		return 0, nil
	}

	entries, err := s.validEntries()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, e := range entries {
		if e.nlink != 1 {
			continue
		}

		if err := s.fs.Remove(e.path); err != nil {
			return removed, fmt.Errorf("execcache: delete unused %q: %w", e.path, err)
		}

		removed++
	}

	return removed, nil
}

// Stats summarizes a store's directory.
type Stats struct {
	TotalFiles  int
	TotalBytes  int64
	UnusedFiles int
	UnusedBytes int64
}

// Stats computes a [Stats] snapshot by scanning the store's directory once.
func (s *CacheStore) Stats() (Stats, error) {
	entries, err := s.validEntries()
	if err != nil {
		return Stats{}, err
	}

	var st Stats

	for _, e := range entries {
		st.TotalFiles++
		st.TotalBytes += e.size

		if e.nlink == 1 {
			st.UnusedFiles++
			st.UnusedBytes += e.size
		}
	}

	return st, nil
}

// evictionAtime returns the access time Evict sorts e by. An entry with
// nlink==1 (no workspace link holds it) is treated as infinitely old, so it
// always sorts before every still-linked entry regardless of its real
// atime.
func evictionAtime(e entryInfo) time.Time {
	if e.nlink == 1 {
		return time.Time{}
	}

	return e.atime
}

// Evict removes entries, oldest access time first, until the store's total
// footprint is at or under both budgets: percent (0-100, of total bytes
// before eviction) and, if maxBytes is non-nil, an absolute byte ceiling. A
// nil maxBytes means no absolute ceiling. Every valid entry is a candidate,
// not only unused ones — a still-linked entry with a genuinely old atime is
// evicted just like an unlinked one; only [CacheStore.DeleteUnused]
// restricts itself to nlink==1. Entries with nlink==1 sort as infinitely
// old (see [evictionAtime]) so they're always evicted before any
// still-linked entry. Ties are broken by evicting the larger file first, so
// a single large stale entry is preferred over many small ones for
// reclaiming space quickly.
func (s *CacheStore) Evict(percent int, maxBytes *int64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("execcache: evict: percent %d out of range [0,100]", percent)
	}

	entries, err := s.validEntries()
	if err != nil {
		return err
	}

	var totalBytes int64

	for _, e := range entries {
		totalBytes += e.size
	}

	budget := totalBytes * int64(percent) / 100
	if maxBytes != nil && *maxBytes < budget {
		budget = *maxBytes
	}

	sort.Slice(entries, func(i, j int) bool {
		ai, aj := evictionAtime(entries[i]), evictionAtime(entries[j])
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}

		return entries[i].size > entries[j].size
	})

	remaining := totalBytes

	for _, e := range entries {
		if remaining <= budget {
			break
		}

		if err := s.fs.Remove(e.path); err != nil {
			return fmt.Errorf("execcache: evict %q: %w", e.path, err)
		}

		remaining -= e.size
	}

	return nil
}
