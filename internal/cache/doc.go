// Package cache defines the disk-backed image store used by the forward proxy.
// Each entry is addressed by (host, path) and persisted as two artifacts under
// the cache root: <root>/<host>/<path> holds the raw body (original extension
// preserved) and <root>/<host>/<path>.meta holds a JSON sidecar with the
// response header bytes and the storage timestamp. Writes go through a temp
// file + rename under a per-key lock, so readers never observe a header from
// one fetch paired with the body of another. Lookups honour a TTL lazily:
// expired artifacts stay on disk until the next successful fetch overwrites
// them. An optional in-memory mirror short-circuits repeated lookups.
package cache
