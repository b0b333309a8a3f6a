// Package permcache caches per-user permission and restriction snapshots.
//
// Snapshots are stored as JSON in a Store under "perm:" and "restr:"
// prefixed keys of the form account~user. MemoryStore keeps them in process,
// RedisStore shares them across instances, and TieredStore combines both,
// publishing deletes so an Invalidator on every instance can drop its local
// copy.
//
// The cache never fails a request because of its store: read and write
// errors are logged and the snapshot is recomputed through the Loader.
package permcache
