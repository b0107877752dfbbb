/*
Package walfile implements TegDB's append-only log file: the 64-byte magic
header plus the {klen, vlen, key, value} entry stream that every other
component is ultimately layered on top of.

	┌─────────────────────────────────────────────────────────────┐
	│ Header (64 bytes): magic, version, flags, size limits,       │
	│                    endianness marker, valid_data_end          │
	├─────────────────────────────────────────────────────────────┤
	│ Entry: klen(4) vlen(4) key(klen) value(vlen)                  │
	├─────────────────────────────────────────────────────────────┤
	│ Entry: ...                                                     │
	├─────────────────────────────────────────────────────────────┤
	│ ... (bytes past valid_data_end are preallocated or stale)     │
	└─────────────────────────────────────────────────────────────┘

File is the only component that performs raw file I/O; pkg/engine builds the
in-memory index on top of it and never touches the file descriptor directly.
*/
package walfile
