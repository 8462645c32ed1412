// Package tiercache is a two-tier cache facade: a process-local tier in front
// of a shared distributed tier, plus a short-lived advisory lock kept in the
// shared tier.
//
// Reads are local-first. A local hit never touches the remote tier; a remote
// hit repopulates the local copy with a TTL no longer than what the remote entry
// has left. Writes go remote first and only then local, so the local tier never
// holds a value the remote did not accept.
//
// Every operation except lock acquisition fails open. Tier errors are logged,
// reported through Hooks and counted in Metrics, and the caller sees a miss or
// a no-op.
//
// TTLs come from Policy. Keys in high-churn namespaces ("comments",
// "post-guid") live 2m remote / 1m local; everything else 10m / 5m.
//
// GetOrSet runs at most one factory at a time in the process. With
// Options.DistributedSingleFlight it also takes the shared lock so only one
// replica computes a key. Removal bumps a per-key generation (see genstore) and
// a factory result is dropped if the generation moved while it ran.
//
// Stored values are framed (see internal/wire) with their absolute expiry, so a
// copy that outlived its deadline is detected and deleted on read.
//
// Keys:
//
//	lock:<resource>             advisory locks
//	lock:getorset:<key>         cross-process getOrSet guard
//	feed:global:page:<p>:size:<s>  paginated listing (see FeedLayout)
//
// Typed[V] adds a codec.Codec[V] on top of the byte-level API.
package tiercache
