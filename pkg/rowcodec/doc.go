/*
Package rowcodec encodes and decodes the fixed-width row value described by
a catalog.Schema's computed storage metadata.

	┌──────────────┬────────────┬────────────┬─────┐
	│ null bitmap  │ column 0   │ column 1   │ ... │
	│ (BitmapBytes)│ slot       │ slot       │     │
	└──────────────┴────────────┴────────────┴─────┘

Primary-key columns occupy no slot: they live only in the row's storage
key (see catalog.EncodeRowKey/DecodeRowKey) and are reconstructed from it,
not from the value bytes this package produces.
*/
package rowcodec
