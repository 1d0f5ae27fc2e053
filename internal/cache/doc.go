// Package cache stores HTTP response snapshots in named, versioned
// generations on disk.
//
// Each generation is a directory under the manager root; each entry is one
// JSON file named by the sha256 of its key (method and absolute URL) and
// written atomically, so a crash mid-write leaves the previous entry intact.
// Writers are serialized per generation and the last write for a key wins.
//
// The package does not decide what is cacheable. The fetch interceptor only
// stores 200 responses and the lifecycle manager only precaches assets that
// answered 200.
package cache
