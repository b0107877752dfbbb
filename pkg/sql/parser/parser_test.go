package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// TestParseCreateTable tests column definitions, constraints, and typed
// length/dimension arguments.
func TestParseCreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE widgets (
		id INTEGER PRIMARY KEY,
		name TEXT(32) NOT NULL UNIQUE,
		price REAL,
		embedding VECTOR(3)
	)`)
	require.NoError(t, err)
	ct, ok := stmt.(*ast.CreateTable)
	require.True(t, ok)
	assert.Equal(t, "widgets", ct.Table)
	require.Len(t, ct.Columns, 4)

	assert.True(t, ct.Columns[0].PrimaryKey)
	assert.Equal(t, types.Integer, ct.Columns[0].DataType)

	assert.Equal(t, types.Text, ct.Columns[1].DataType)
	assert.Equal(t, uint32(32), ct.Columns[1].MaxLen)
	assert.True(t, ct.Columns[1].NotNull)
	assert.True(t, ct.Columns[1].Unique)

	assert.Equal(t, types.Vector, ct.Columns[3].DataType)
	assert.Equal(t, uint32(3), ct.Columns[3].Dim)
}

// TestParseCreateIndex tests plain and HNSW index creation.
func TestParseCreateIndex(t *testing.T) {
	stmt, err := Parse(`CREATE INDEX ux_name ON widgets (name)`)
	require.NoError(t, err)
	ci := stmt.(*ast.CreateIndex)
	assert.Equal(t, "widgets", ci.Table)
	assert.Equal(t, "name", ci.Column)
	assert.False(t, ci.HNSW)

	stmt, err = Parse(`CREATE INDEX vx_emb ON widgets (embedding) USING HNSW`)
	require.NoError(t, err)
	ci = stmt.(*ast.CreateIndex)
	assert.True(t, ci.HNSW)
}

// TestParseCreateExtension tests the opaque CREATE EXTENSION statement.
func TestParseCreateExtension(t *testing.T) {
	stmt, err := Parse(`CREATE EXTENSION vector_ops`)
	require.NoError(t, err)
	ce := stmt.(*ast.CreateExtension)
	assert.Equal(t, "vector_ops", ce.Name)
}

// TestParseDropTable tests the optional IF EXISTS clause.
func TestParseDropTable(t *testing.T) {
	stmt, err := Parse(`DROP TABLE widgets`)
	require.NoError(t, err)
	dt := stmt.(*ast.DropTable)
	assert.False(t, dt.IfExists)

	stmt, err = Parse(`DROP TABLE IF EXISTS widgets`)
	require.NoError(t, err)
	dt = stmt.(*ast.DropTable)
	assert.True(t, dt.IfExists)
}

// TestParseInsertMultiRow tests a multi-row INSERT with an explicit column
// list and parameter placeholders.
func TestParseInsertMultiRow(t *testing.T) {
	stmt, err := Parse(`INSERT INTO widgets (id, name) VALUES (1, 'bolt'), (?, ?2)`)
	require.NoError(t, err)
	ins := stmt.(*ast.Insert)
	assert.Equal(t, "widgets", ins.Table)
	assert.Equal(t, []string{"id", "name"}, ins.Columns)
	require.Len(t, ins.Rows, 2)

	lit := ins.Rows[0][0].(*ast.Literal)
	assert.True(t, types.IntValue(1).Equal(lit.Value))

	param := ins.Rows[1][0].(*ast.Param)
	assert.Equal(t, 1, param.Index)
	param2 := ins.Rows[1][1].(*ast.Param)
	assert.Equal(t, 2, param2.Index)
}

// TestParseUpdateWithWhere tests SET assignments and a WHERE predicate.
func TestParseUpdateWithWhere(t *testing.T) {
	stmt, err := Parse(`UPDATE widgets SET price = price + 1, name = 'x' WHERE id = 5`)
	require.NoError(t, err)
	upd := stmt.(*ast.Update)
	assert.Equal(t, "widgets", upd.Table)
	require.Len(t, upd.Assignments, 2)
	assert.Equal(t, "price", upd.Assignments[0].Column)
	require.NotNil(t, upd.Where)
}

// TestParseDeleteWithWhere tests a DELETE with and without a WHERE clause.
func TestParseDeleteWithWhere(t *testing.T) {
	stmt, err := Parse(`DELETE FROM widgets WHERE id = 1`)
	require.NoError(t, err)
	del := stmt.(*ast.Delete)
	assert.Equal(t, "widgets", del.Table)
	require.NotNil(t, del.Where)

	stmt, err = Parse(`DELETE FROM widgets`)
	require.NoError(t, err)
	del = stmt.(*ast.Delete)
	assert.Nil(t, del.Where)
}

// TestParseSelectStar tests the `SELECT *` select-list shape.
func TestParseSelectStar(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM widgets`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.Items, 1)
	assert.True(t, sel.Items[0].Star)
}

// TestParseSelectAliasOrderLimit tests aliases, ORDER BY direction, and
// LIMIT together.
func TestParseSelectAliasOrderLimit(t *testing.T) {
	stmt, err := Parse(`SELECT name AS n FROM widgets WHERE price > 1 ORDER BY name DESC, price LIMIT 10`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.Items, 1)
	assert.Equal(t, "n", sel.Items[0].Alias)
	require.Len(t, sel.OrderBy, 2)
	assert.True(t, sel.OrderBy[0].Desc)
	assert.False(t, sel.OrderBy[1].Desc)
	require.NotNil(t, sel.Limit)
	assert.Equal(t, int64(10), *sel.Limit)
}

// TestParseCountStar tests that COUNT(*) parses to a FuncCall whose sole
// argument is the ColumnRef{"*"} sentinel, not a ParseError.
func TestParseCountStar(t *testing.T) {
	stmt, err := Parse(`SELECT COUNT(*) FROM widgets`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	require.Len(t, sel.Items, 1)
	fc := sel.Items[0].Expr.(*ast.FuncCall)
	assert.Equal(t, "COUNT", fc.Name)
	require.Len(t, fc.Args, 1)
	ref := fc.Args[0].(*ast.ColumnRef)
	assert.Equal(t, "*", ref.Name)
}

// TestParseFuncCallWithArgs tests an ordinary scalar function call.
func TestParseFuncCallWithArgs(t *testing.T) {
	stmt, err := Parse(`SELECT ABS(price - 1) FROM widgets`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	fc := sel.Items[0].Expr.(*ast.FuncCall)
	assert.Equal(t, "ABS", fc.Name)
	require.Len(t, fc.Args, 1)
	_, ok := fc.Args[0].(*ast.BinaryExpr)
	assert.True(t, ok)
}

// TestOperatorPrecedence tests OR < AND < NOT < comparison < additive <
// multiplicative < unary, via the resulting tree shape.
func TestOperatorPrecedence(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM widgets WHERE a = 1 AND b = 2 OR c = 3`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)

	// (a=1 AND b=2) OR (c=3): top node is OR.
	top := sel.Where.(*ast.BinaryExpr)
	assert.Equal(t, "OR", top.Op)
	left := top.L.(*ast.BinaryExpr)
	assert.Equal(t, "AND", left.Op)
}

// TestArithmeticPrecedence tests that * binds tighter than +.
func TestArithmeticPrecedence(t *testing.T) {
	stmt, err := Parse(`SELECT 1 + 2 * 3 FROM widgets`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	top := sel.Items[0].Expr.(*ast.BinaryExpr)
	assert.Equal(t, "+", top.Op)
	right := top.R.(*ast.BinaryExpr)
	assert.Equal(t, "*", right.Op)
}

// TestParseBetweenAndIsNull tests the dedicated BETWEEN and IS [NOT] NULL
// nodes.
func TestParseBetweenAndIsNull(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM widgets WHERE price BETWEEN 1 AND 10`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	between := sel.Where.(*ast.BetweenExpr)
	assert.NotNil(t, between.Lo)
	assert.NotNil(t, between.Hi)

	stmt, err = Parse(`SELECT * FROM widgets WHERE price IS NOT NULL`)
	require.NoError(t, err)
	sel = stmt.(*ast.Select)
	isNull := sel.Where.(*ast.IsNullExpr)
	assert.True(t, isNull.Not)
}

// TestParseVectorLiteral tests `[e1, e2, …]` vector literal syntax.
func TestParseVectorLiteral(t *testing.T) {
	stmt, err := Parse(`INSERT INTO widgets (embedding) VALUES ([1, 2, 3.5])`)
	require.NoError(t, err)
	ins := stmt.(*ast.Insert)
	vec := ins.Rows[0][0].(*ast.VectorLiteral)
	require.Len(t, vec.Elements, 3)
}

// TestParseTransactionStatements tests BEGIN/START TRANSACTION/COMMIT/
// ROLLBACK.
func TestParseTransactionStatements(t *testing.T) {
	for sql, want := range map[string]ast.Statement{
		"BEGIN":             &ast.Begin{},
		"START TRANSACTION": &ast.Begin{},
		"COMMIT":            &ast.Commit{},
		"ROLLBACK":          &ast.Rollback{},
	} {
		stmt, err := Parse(sql)
		require.NoError(t, err)
		assert.IsType(t, want, stmt)
	}
}

// TestParseRejectsTrailingGarbage tests that content after a complete
// statement is a ParseError.
func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse(`SELECT * FROM widgets GARBAGE`)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindParseError))
}

// TestParseRejectsUnterminatedString tests the lexer's error path for an
// unterminated string literal.
func TestParseRejectsUnterminatedString(t *testing.T) {
	_, err := Parse(`SELECT * FROM widgets WHERE name = 'oops`)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindParseError))
}

// TestParseKeywordsCaseInsensitive tests that lowercase keywords parse
// identically to uppercase.
func TestParseKeywordsCaseInsensitive(t *testing.T) {
	stmt, err := Parse(`select * from widgets where id = 1`)
	require.NoError(t, err)
	_, ok := stmt.(*ast.Select)
	assert.True(t, ok)
}

// TestParseStringLiteralEscaping tests the '' escape for a literal quote
// inside a string.
func TestParseStringLiteralEscaping(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM widgets WHERE name = 'O''Brien'`)
	require.NoError(t, err)
	sel := stmt.(*ast.Select)
	cmp := sel.Where.(*ast.BinaryExpr)
	lit := cmp.R.(*ast.Literal)
	assert.Equal(t, "O'Brien", lit.Value.S)
}
