// Package ast defines the typed statement tree the parser produces.
package ast

import "github.com/minifish-org/tegdb/pkg/types"

// Statement is implemented by every top-level SQL statement.
type Statement interface{ statementNode() }

// ColumnDef is one column in a CREATE TABLE statement.
type ColumnDef struct {
	Name       string
	DataType   types.DataType
	MaxLen     uint32 // TEXT(n) / BLOB(n)
	Dim        uint32 // VECTOR(n)
	PrimaryKey bool
	NotNull    bool
	Unique     bool
}

// CreateTable is `CREATE TABLE t (col TYPE [constraints], …)`.
type CreateTable struct {
	Table   string
	Columns []ColumnDef
}

// CreateIndex is `CREATE INDEX name ON table (col) [USING HNSW]`.
type CreateIndex struct {
	Name   string
	Table  string
	Column string
	HNSW   bool
}

// DropTable is `DROP TABLE [IF EXISTS] t`.
type DropTable struct {
	Table    string
	IfExists bool
}

// CreateExtension is `CREATE EXTENSION name;` — opaque to the parser,
// handed verbatim to the extension registry.
type CreateExtension struct {
	Name string
}

// Insert is `INSERT INTO t (cols) VALUES (expr, …), (expr, …) …`.
type Insert struct {
	Table   string
	Columns []string
	Rows    [][]Expr
}

// Assignment is one `col = expr` in an UPDATE's SET clause.
type Assignment struct {
	Column string
	Value  Expr
}

// Update is `UPDATE t SET col = expr [, …] [WHERE predicate]`.
type Update struct {
	Table       string
	Assignments []Assignment
	Where       Expr // nil if absent
}

// Delete is `DELETE FROM t [WHERE predicate]`.
type Delete struct {
	Table string
	Where Expr
}

// OrderTerm is one `col [ASC|DESC]` in an ORDER BY clause.
type OrderTerm struct {
	Column string
	Desc   bool
}

// SelectItem is one entry in a SELECT's select-list.
type SelectItem struct {
	Star  bool
	Expr  Expr
	Alias string // "" if unaliased
}

// Select is `SELECT select_list FROM t [WHERE] [ORDER BY] [LIMIT]`.
type Select struct {
	Items   []SelectItem
	Table   string
	Where   Expr
	OrderBy []OrderTerm
	Limit   *int64
}

// Begin is `BEGIN` or `START TRANSACTION`.
type Begin struct{}

// Commit is `COMMIT`.
type Commit struct{}

// Rollback is `ROLLBACK`.
type Rollback struct{}

func (*CreateTable) statementNode()     {}
func (*CreateIndex) statementNode()     {}
func (*DropTable) statementNode()       {}
func (*CreateExtension) statementNode() {}
func (*Insert) statementNode()          {}
func (*Update) statementNode()          {}
func (*Delete) statementNode()          {}
func (*Select) statementNode()          {}
func (*Begin) statementNode()           {}
func (*Commit) statementNode()          {}
func (*Rollback) statementNode()        {}
