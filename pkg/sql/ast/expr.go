package ast

import "github.com/minifish-org/tegdb/pkg/types"

// Expr is implemented by every expression node.
type Expr interface{ exprNode() }

// Literal is a constant value: integer, real, string, NULL, or (via
// VectorLiteral) a vector.
type Literal struct{ Value types.Value }

// VectorLiteral is `[e1, e2, …]`; the planner's constant-folding pass folds
// each element, but the node stays a VectorLiteral until evaluation.
type VectorLiteral struct{ Elements []Expr }

// ColumnRef is a bare column name reference.
type ColumnRef struct{ Name string }

// Param is a `?` or `?N` placeholder. Index is 1-based; a bare `?` gets
// its index by traversal order at parse time.
type Param struct{ Index int }

// UnaryExpr is `-x` or `NOT x`.
type UnaryExpr struct {
	Op string // "-" | "NOT"
	X  Expr
}

// BinaryExpr covers arithmetic, comparison, and logical binary operators:
// "+" "-" "*" "/" "=" "!=" "<" "<=" ">" ">=" "LIKE" "AND" "OR".
type BinaryExpr struct {
	Op   string
	L, R Expr
}

// BetweenExpr is `x BETWEEN lo AND hi`, kept as its own node (rather than
// desugared at parse time) so the planner can still recognize it as a
// PK-range predicate; the executor expands it to `x >= lo AND x <= hi`.
type BetweenExpr struct {
	X, Lo, Hi Expr
}

// IsNullExpr is `x IS NULL` / `x IS NOT NULL`.
type IsNullExpr struct {
	X   Expr
	Not bool
}

// FuncCall is a scalar or aggregate function call resolved via the
// extension registry at execution time.
type FuncCall struct {
	Name string
	Args []Expr
}

func (*Literal) exprNode()       {}
func (*VectorLiteral) exprNode() {}
func (*ColumnRef) exprNode()     {}
func (*Param) exprNode()         {}
func (*UnaryExpr) exprNode()     {}
func (*BinaryExpr) exprNode()    {}
func (*BetweenExpr) exprNode()   {}
func (*IsNullExpr) exprNode()    {}
func (*FuncCall) exprNode()      {}
