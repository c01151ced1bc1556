package execcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/mikkelnl/execcache/pkg/fs"
)

// stampHasher returns a fresh hash.Hash producing [Digest]-sized sums,
// shared by the spawn fingerprint (operation.go) and [WriteKey].
func stampHasher() hash.Hash {
	return sha256.New()
}

// DigestSize is the width, in bytes, of a [Digest]. All digests in one
// [CacheStore] directory must share this width; mixing widths is user-visible
// corruption detected by [CacheStore.SuspiciousFiles].
const DigestSize = sha256.Size

// Digest is a fixed-width cryptographic hash of a byte sequence or file.
//
// Distinct inputs produce distinct digests with overwhelming probability;
// identical byte content always produces identical digests. The zero Digest
// is not a valid hash of anything and is only used as a not-yet-computed
// placeholder (see [Operation.Stamp]).
type Digest [DigestSize]byte

// IsZero reports whether d is the unset placeholder value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hex encodes the digest as a lowercase hex string. This is also the
// filename [CacheStore] uses for the entry keyed by d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements [fmt.Stringer].
func (d Digest) String() string {
	return d.Hex()
}

// Equal reports whether d and other are the same digest.
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// Compare returns -1, 0, or 1 depending on whether d sorts before, the same
// as, or after other, byte by byte. Used to give write sets and read sets a
// stable, deterministic order.
func (d Digest) Compare(other Digest) int {
	for i := range d {
		if d[i] != other[i] {
			if d[i] < other[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}

// ErrInvalidDigest is returned by [DigestFromHex] when the input isn't a
// valid hex encoding of a [Digest].
var ErrInvalidDigest = fmt.Errorf("execcache: invalid digest")

// DigestFromHex decodes a hex string produced by [Digest.Hex].
// Returns [ErrInvalidDigest] wrapped with details on non-hex input or a
// string of the wrong length.
func DigestFromHex(s string) (Digest, error) {
	var d Digest

	if len(s) != DigestSize*2 {
		return d, fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidDigest, s, len(s), DigestSize*2)
	}

	n, err := hex.Decode(d[:], []byte(s))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %q: %w", ErrInvalidDigest, s, err)
	}

	if n != DigestSize {
		return Digest{}, fmt.Errorf("%w: %q decoded to %d bytes, want %d", ErrInvalidDigest, s, n, DigestSize)
	}

	return d, nil
}

// Stamper computes digests over bytes, strings, and files.
//
// The zero value is ready to use; Stamper carries no state of its own (the
// per-path memoization lives in [FileStampTable]).
type Stamper struct{}

// OfBytes hashes b directly.
func (Stamper) OfBytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// OfString hashes s without an intermediate []byte copy of meaningful size
// (sha256.Sum256 requires one internally, but callers avoid allocating their
// own conversion).
func (Stamper) OfString(s string) Digest {
	h := sha256.New()
	_, _ = io.WriteString(h, s)

	var d Digest
	h.Sum(d[:0])

	return d
}

// OfFile hashes the contents of the file at path, streaming it rather than
// loading it entirely into memory.
func (s Stamper) OfFile(fsys fs.FS, path string) (Digest, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	return s.OfFD(f)
}

// OfFD hashes the contents of an already-open file descriptor, streaming it.
// The caller retains ownership of f and is responsible for closing it.
func (Stamper) OfFD(f fs.File) (Digest, error) {
	h := sha256.New()

	_, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, fmt.Errorf("execcache: hash file: %w", err)
	}

	var d Digest
	h.Sum(d[:0])

	return d, nil
}
