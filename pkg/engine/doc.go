/*
Package engine implements TegDB's storage engine: an in-memory sorted index
over a walfile.File, plus the buffered-write transaction layer on top of it.

	Tx.Commit ──append+index update──▶ Engine ──▶ walfile.File

The index is a github.com/google/btree tree keyed by the raw row/catalog
key, mapping to a shared immutable value slice. Readers that retrieve a
value retain it even if the key is later overwritten, since a mutation
replaces the index slot with a new slice rather than mutating in place.

Engine assumes a single writer, matching the rest of the core: concurrent
calls from multiple goroutines against one Engine are not supported. The
facade in pkg/tegdb owns its Engine exclusively and adds no locking of its
own.
*/
package engine
