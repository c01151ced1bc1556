package execcache

// WriteKey names the cache entry for one declared write of one operation.
//
// It's derived from both the operation's fingerprint and the write's own
// path, so that two operations producing byte-identical output to different
// logical destinations still get distinct cache entries, and two writes of
// the same operation never collide with each other.
func WriteKey(stamp Digest, path string) Digest {
	h := stampHasher()
	w := &fingerprintWriter{h: h}

	w.writeDigest(stamp, true)
	w.writeString(path)

	var out Digest
	h.Sum(out[:0])

	return out
}
