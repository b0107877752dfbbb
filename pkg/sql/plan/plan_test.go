package plan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/config"
	"github.com/minifish-org/tegdb/pkg/engine"
	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/sql/parser"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.teg")
	e, err := engine.Open(path, config.EngineConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	cat, err := catalog.LoadAll(e)
	require.NoError(t, err)

	schema := &catalog.Schema{
		Table: "widgets",
		Columns: []catalog.Column{
			{Name: "id", DataType: types.Integer, PrimaryKey: true},
			{Name: "name", DataType: types.Text, MaxLen: 32},
			{Name: "price", DataType: types.Real},
		},
	}
	tx := e.BeginTransaction()
	require.NoError(t, cat.CreateTable(tx, schema))
	require.NoError(t, tx.Commit())
	return cat
}

func parseAndBuild(t *testing.T, cat *catalog.Catalog, sql string) Plan {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	p, err := Build(cat, stmt)
	require.NoError(t, err)
	return p
}

// TestBuildCreateTable tests that CreateTable computes metadata up front.
func TestBuildCreateTable(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `CREATE TABLE gadgets (id INTEGER PRIMARY KEY, tag TEXT(8))`)
	ct := p.(*CreateTable)
	assert.Equal(t, "gadgets", ct.Schema.Table)
	assert.Greater(t, ct.Schema.ValueSize, uint32(0))
}

// TestBuildCreateIndexRejectsUnknownColumn tests error propagation for a
// missing column reference.
func TestBuildCreateIndexRejectsUnknownColumn(t *testing.T) {
	cat := testCatalog(t)
	stmt, err := parser.Parse(`CREATE INDEX ix ON widgets (nope)`)
	require.NoError(t, err)
	_, err = Build(cat, stmt)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindColumnNotFound))
}

// TestBuildDropTableMissingWithoutIfExists tests that a missing table
// without IF EXISTS is a build-time error.
func TestBuildDropTableMissingWithoutIfExists(t *testing.T) {
	cat := testCatalog(t)
	stmt, err := parser.Parse(`DROP TABLE nope`)
	require.NoError(t, err)
	_, err = Build(cat, stmt)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindTableNotFound))

	stmt2, err := parser.Parse(`DROP TABLE IF EXISTS nope`)
	require.NoError(t, err)
	_, err = Build(cat, stmt2)
	require.NoError(t, err)
}

// TestBuildInsertFillsImplicitColumns tests that an omitted column list
// expands to the schema's declared column order.
func TestBuildInsertFillsImplicitColumns(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)
	ins := p.(*Insert)
	assert.Equal(t, []string{"id", "name", "price"}, ins.Columns)
}

// TestBuildInsertRejectsColumnCountMismatch tests the row/column arity
// check.
func TestBuildInsertRejectsColumnCountMismatch(t *testing.T) {
	cat := testCatalog(t)
	stmt, err := parser.Parse(`INSERT INTO widgets (id, name) VALUES (1)`)
	require.NoError(t, err)
	_, err = Build(cat, stmt)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindPlanError))
}

// TestBuildSelectChoosesPrimaryKeyLookup tests rule 2: a full equality
// predicate over every PK column becomes a point lookup.
func TestBuildSelectChoosesPrimaryKeyLookup(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets WHERE id = 5`)
	lookup, ok := p.(*PrimaryKeyLookup)
	require.True(t, ok)
	require.Len(t, lookup.PKValues, 1)
	lit := lookup.PKValues[0].(*ast.Literal)
	assert.True(t, types.IntValue(5).Equal(lit.Value))
}

// TestBuildSelectChoosesPrimaryKeyRange tests rule 3: a comparison on the
// PK becomes a range scan, not a table scan.
func TestBuildSelectChoosesPrimaryKeyRange(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets WHERE id > 5`)
	rng, ok := p.(*PrimaryKeyRange)
	require.True(t, ok)
	assert.Equal(t, "id", rng.Column)
	assert.False(t, rng.LoInclusive)
}

// TestBuildSelectChoosesPrimaryKeyRangeBetween tests BETWEEN folding into
// an inclusive two-sided range.
func TestBuildSelectChoosesPrimaryKeyRangeBetween(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets WHERE id BETWEEN 1 AND 10`)
	rng, ok := p.(*PrimaryKeyRange)
	require.True(t, ok)
	assert.True(t, rng.LoInclusive)
	assert.True(t, rng.HiInclusive)
}

// TestBuildSelectFallsBackToTableScan tests rule 4: a non-PK predicate
// forces a full table scan.
func TestBuildSelectFallsBackToTableScan(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets WHERE name = 'bolt'`)
	_, ok := p.(*TableScan)
	assert.True(t, ok)
}

// TestBuildSelectFoldsOrderByIntoScanDirection tests rule 6: ORDER BY on
// the single-column PK is absorbed into scan direction rather than kept as
// a post-scan sort.
func TestBuildSelectFoldsOrderByIntoScanDirection(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets ORDER BY id DESC`)
	scan := p.(*TableScan)
	assert.True(t, scan.ReverseScan)
	assert.Nil(t, scan.OrderBy)
}

// TestBuildSelectKeepsOrderByOnNonPKColumn tests that ordering by a
// non-PK column is left as an explicit post-scan sort.
func TestBuildSelectKeepsOrderByOnNonPKColumn(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets ORDER BY name`)
	scan := p.(*TableScan)
	assert.False(t, scan.ReverseScan)
	require.Len(t, scan.OrderBy, 1)
}

// TestComputeProjectionNarrowsToReferencedColumns tests that a selective
// SELECT list plus a WHERE clause narrows the decode projection.
func TestComputeProjectionNarrowsToReferencedColumns(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT name FROM widgets WHERE price > 1`)
	scan := p.(*TableScan)
	assert.ElementsMatch(t, []string{"name", "price"}, scan.Projection)
}

// TestComputeProjectionStarMeansAllColumns tests that a `*` item disables
// projection narrowing.
func TestComputeProjectionStarMeansAllColumns(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT * FROM widgets`)
	scan := p.(*TableScan)
	assert.Nil(t, scan.Projection)
}

// TestEvalArithConstantFolding tests that the planner folds a constant
// arithmetic expression in the SELECT list into a single Literal.
func TestEvalArithConstantFolding(t *testing.T) {
	cat := testCatalog(t)
	p := parseAndBuild(t, cat, `SELECT 1 + 2 FROM widgets`)
	scan := p.(*TableScan)
	lit := scan.Items[0].Expr.(*ast.Literal)
	assert.True(t, types.IntValue(3).Equal(lit.Value))
}

// TestEvalArithDivisionByZero tests the DivisionByZero error kind for a
// constant-folded division.
func TestEvalArithDivisionByZero(t *testing.T) {
	_, err := EvalArith("/", types.IntValue(1), types.IntValue(0))
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindDivisionByZero))
}

// TestEvalArithTextConcatenation tests the `+` overload for TEXT operands.
func TestEvalArithTextConcatenation(t *testing.T) {
	v, err := EvalArith("+", types.TextValue("foo"), types.TextValue("bar"))
	require.NoError(t, err)
	assert.Equal(t, "foobar", v.S)
}

// TestEvalArithRejectsNonNumeric tests the TypeMismatch error kind for a
// non-numeric, non-text-concat operand pairing.
func TestEvalArithRejectsNonNumeric(t *testing.T) {
	_, err := EvalArith("+", types.TextValue("foo"), types.IntValue(1))
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindTypeMismatch))
}
