// Package execcache implements a content-addressed build execution cache.
//
// The package memoizes the outputs of external process invocations so that
// re-running a build with unchanged inputs reuses prior outputs instead of
// re-executing the underlying tool. The core pieces are:
//
//   - [Stamper]: cryptographic digests over bytes, files, and strings.
//   - [FileStampTable]: memoizes path -> digest for one process run.
//   - [Operation]: describes one unit of externally observable work.
//   - [CacheStore]: a content-addressed on-disk store with hardlink-first,
//     copy-fallback materialization.
//   - [Executor]: binds an [Operation] to a [CacheStore] — decides
//     hit/miss, materializes writes, records results.
//   - GC helpers ([CacheStore.Stats], [CacheStore.Evict],
//     [CacheStore.DeleteUnused]) reclaim space out of band.
//
// Scheduling, toolchain-specific command construction, and dependency-graph
// ordering across operations are the caller's concern; this package handles
// one operation at a time.
package execcache
