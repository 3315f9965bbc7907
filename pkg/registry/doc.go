/*
Package registry implements the authoritative service directory: the
(service-name, attributes, producer-bundle) tuples that bundles publish
and consume, reference-counted handles onto them, and filter-matched
listener delivery.

# Architecture

	┌─────────────────────────── Registry ───────────────────────────┐
	│                                                                   │
	│  byID   map[int64]*entry          byName map[string][]*entry     │
	│         (guarded by mu, read-many/write-few)                     │
	│                                                                   │
	│  Register/RegisterFactory ──► assign id, insert, notify(REGISTERED)
	│  Unregister ──► mark unregistering, notify(UNREGISTERING), remove │
	│  GetServiceReferences ──► snapshot + filter.Match, acquire handle │
	│  GetService/UngetService ──► per-Reference use-count, factory     │
	│                              dispatch                             │
	│                                                                   │
	│  listeners []*serviceListener (guarded by listenersMu)            │
	│  notify() snapshots listeners, releases the lock, then invokes    │
	│  each matching callback on the calling goroutine - never holds    │
	│  the write lock while a listener runs.                           │
	└───────────────────────────────────────────────────────────────────┘

# Ownership

Each entry is owned by exactly one Registry. A Reference is a shared
handle onto an entry with its own refcount.Handle-backed lifetime -
bundles own references, never entries directly, so there is no side
table of "deleted but still referenced" registrations to maintain. An
entry's own handle starts at 1 (representing "still registered"),
gains one Acquire per outstanding Reference, and is Released by
Unregister and by every Reference's teardown; the entry's payload stays
addressable until that count reaches zero.

# Ranking

service.ranking defaults to 0. GetServiceReference (singular) and
tracker "highest" selection both define "highest" as: greatest ranking,
ties broken by lowest service.id.
*/
package registry
