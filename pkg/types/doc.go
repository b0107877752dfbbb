/*
Package types defines the scalar value model shared by every TegDB
component: the parser's literals, the row codec's column slots, the
planner's constant folding, and the executor's expression evaluation all
operate on the same DataType/Value pair defined here.

There is deliberately no schema or row type in this package — those live in
pkg/catalog and pkg/rowcodec, which depend on types but add storage-layout
concerns types itself knows nothing about.
*/
package types
