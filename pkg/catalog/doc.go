/*
Package catalog is the schema registry: it persists table definitions as
YAML-encoded blobs under reserved key prefixes in the same log the row data
lives in, and it computes the storage metadata (per-column byte offsets and
sizes) that pkg/rowcodec needs to encode and decode rows without touching
the rest of this core.

Reserved prefixes, all living in one flat keyspace with user row data:

	S:<table>            schema blob
	I:<table>:<column>   index descriptor blob
	UX:<table>:<column>:<value>   unique secondary index -> one-byte 0x01 marker (the owning row's PK is not stored)
	<table>:<pk-encoding>          a row of <table>

The trailing '~' in a range scan's upper bound (e.g. "S:".."S~") is this
core's sentinel for "anything lexicographically past every key under this
prefix" — see engine.PrefixUpperBound.
*/
package catalog
