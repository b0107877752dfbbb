package exec

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/config"
	"github.com/minifish-org/tegdb/pkg/engine"
	"github.com/minifish-org/tegdb/pkg/extension"
	"github.com/minifish-org/tegdb/pkg/sql/parser"
	"github.com/minifish-org/tegdb/pkg/sql/plan"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/metrics"
	"github.com/minifish-org/tegdb/pkg/types"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type testDB struct {
	e   *engine.Engine
	cat *catalog.Catalog
	ex  *Executor
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.teg")
	e, err := engine.Open(path, config.EngineConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	cat, err := catalog.LoadAll(e)
	require.NoError(t, err)
	reg := extension.NewRegistry(nil)
	return &testDB{e: e, cat: cat, ex: New(cat, reg)}
}

// run parses sql, builds a plan against db's catalog, and executes it
// inside its own transaction, committing on success.
func (db *testDB) run(t *testing.T, sql string, params ...types.Value) Result {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	p, err := plan.Build(db.cat, stmt)
	require.NoError(t, err)
	tx := db.e.BeginTransaction()
	res, err := db.ex.Exec(context.Background(), tx, p, params, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return res
}

func (db *testDB) runErr(t *testing.T, sql string, params ...types.Value) error {
	t.Helper()
	stmt, err := parser.Parse(sql)
	require.NoError(t, err)
	p, err := plan.Build(db.cat, stmt)
	if err != nil {
		return err
	}
	tx := db.e.BeginTransaction()
	_, err = db.ex.Exec(context.Background(), tx, p, params, nil)
	if err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func createWidgets(t *testing.T, db *testDB) {
	t.Helper()
	db.run(t, `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT(32) UNIQUE, price REAL)`)
}

func collectRows(it *RowIter) []Row {
	var out []Row
	for it.Next() {
		out = append(out, it.Row())
	}
	return out
}

// TestExecCreateTableInsertSelect tests the basic DDL + DML round trip.
func TestExecCreateTableInsertSelect(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)

	res := db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)
	assert.Equal(t, int64(1), res.RowsAffected)

	res = db.run(t, `SELECT * FROM widgets WHERE id = 1`)
	rows := collectRows(res.Rows)
	require.Len(t, rows, 1)
	assert.True(t, types.TextValue("bolt").Equal(rows[0]["name"]))
}

// TestExecInsertRejectsDuplicatePrimaryKey tests the unique-constraint
// error kind for a colliding primary key.
func TestExecInsertRejectsDuplicatePrimaryKey(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	err := db.runErr(t, `INSERT INTO widgets VALUES (1, 'nut', 1.0)`)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindConstraintViolation))
}

// TestExecInsertRejectsDuplicateUniqueColumn tests the UX: index collision
// path for a non-PK UNIQUE column.
func TestExecInsertRejectsDuplicateUniqueColumn(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	err := db.runErr(t, `INSERT INTO widgets VALUES (2, 'bolt', 1.0)`)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindConstraintViolation))
}

// TestExecUpdateChangesValue tests a non-PK UPDATE.
func TestExecUpdateChangesValue(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	res := db.run(t, `UPDATE widgets SET price = 9.0 WHERE id = 1`)
	assert.Equal(t, int64(1), res.RowsAffected)

	sel := db.run(t, `SELECT * FROM widgets WHERE id = 1`)
	rows := collectRows(sel.Rows)
	assert.Equal(t, 9.0, rows[0]["price"].F)
}

// TestExecUpdatePrimaryKeyMovesRow tests that an UPDATE changing the PK
// relocates the storage key rather than leaving a stale one behind.
func TestExecUpdatePrimaryKeyMovesRow(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	db.run(t, `UPDATE widgets SET id = 2 WHERE id = 1`)

	sel := db.run(t, `SELECT * FROM widgets WHERE id = 1`)
	assert.Empty(t, collectRows(sel.Rows))

	sel2 := db.run(t, `SELECT * FROM widgets WHERE id = 2`)
	rows := collectRows(sel2.Rows)
	require.Len(t, rows, 1)
	assert.True(t, types.TextValue("bolt").Equal(rows[0]["name"]))
}

// TestExecDeleteRemovesRowAndIndexEntry tests that DELETE drops both the
// row and its UX: entry so the name can be reused.
func TestExecDeleteRemovesRowAndIndexEntry(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)
	db.run(t, `DELETE FROM widgets WHERE id = 1`)

	sel := db.run(t, `SELECT * FROM widgets WHERE id = 1`)
	assert.Empty(t, collectRows(sel.Rows))

	db.run(t, `INSERT INTO widgets VALUES (2, 'bolt', 1.0)`)
}

// TestExecSelectOrderByAndLimit tests post-scan ordering on a non-PK
// column together with a row limit.
func TestExecSelectOrderByAndLimit(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'c', 1.0)`)
	db.run(t, `INSERT INTO widgets VALUES (2, 'a', 2.0)`)
	db.run(t, `INSERT INTO widgets VALUES (3, 'b', 3.0)`)

	res := db.run(t, `SELECT name FROM widgets ORDER BY name LIMIT 2`)
	rows := collectRows(res.Rows)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["name"].S)
	assert.Equal(t, "b", rows[1]["name"].S)
}

// TestExecSelectAggregateCount tests that COUNT(*) collapses the row
// stream into a single aggregate row.
func TestExecSelectAggregateCount(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'a', 1.0)`)
	db.run(t, `INSERT INTO widgets VALUES (2, 'b', 2.0)`)

	res := db.run(t, `SELECT COUNT(*) FROM widgets`)
	rows := collectRows(res.Rows)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0]["count"].I)
}

// TestExecSelectWithParams tests that ?N placeholders resolve against the
// params slice passed to Exec.
func TestExecSelectWithParams(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	res := db.run(t, `SELECT * FROM widgets WHERE id = ?`, types.IntValue(1))
	rows := collectRows(res.Rows)
	require.Len(t, rows, 1)
}

// TestExecSelectLikeAndIsNull tests the LIKE operator and IS NULL against
// an unset nullable column.
func TestExecSelectLikeAndIsNull(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets (id, name) VALUES (1, 'bolt')`)

	res := db.run(t, `SELECT * FROM widgets WHERE name LIKE 'bo%'`)
	assert.Len(t, collectRows(res.Rows), 1)

	res = db.run(t, `SELECT * FROM widgets WHERE price IS NULL`)
	assert.Len(t, collectRows(res.Rows), 1)
}

// TestExecCreateIndexAndDropTable tests that CREATE INDEX succeeds on a
// populated table and that DROP TABLE then removes it from the catalog.
func TestExecCreateIndexAndDropTable(t *testing.T) {
	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `CREATE INDEX ux_name ON widgets (name)`)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	db.run(t, `DROP TABLE widgets`)
	_, ok := db.cat.Get("widgets")
	assert.False(t, ok)
}

// TestExecCreateExtensionUnknownName tests that an unrecognized extension
// name surfaces a FunctionError through the plan/exec path.
func TestExecCreateExtensionUnknownName(t *testing.T) {
	db := newTestDB(t)
	err := db.runErr(t, `CREATE EXTENSION nope`)
	require.Error(t, err)
	assert.True(t, tegerr.Is(err, tegerr.KindFunctionError))
}

// TestExecSelectDrivesRowsReturnedAndQueryDuration tests that a real
// SELECT through Exec, not a direct .WithLabelValues call, moves
// RowsReturnedTotal and QueryDuration for the TableScan plan kind.
func TestExecSelectDrivesRowsReturnedAndQueryDuration(t *testing.T) {
	metrics.RowsReturnedTotal.Reset()

	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)
	db.run(t, `INSERT INTO widgets VALUES (2, 'nut', 1.0)`)

	res := db.run(t, `SELECT * FROM widgets`)
	require.Len(t, collectRows(res.Rows), 2)

	assert.Equal(t, 2.0, counterValue(t, metrics.RowsReturnedTotal.WithLabelValues("TableScan")))

	hist := metrics.QueryDuration.WithLabelValues("TableScan")
	var m dto.Metric
	require.NoError(t, hist.(prometheus.Histogram).Write(&m))
	assert.GreaterOrEqual(t, m.GetHistogram().GetSampleCount(), uint64(1))
}

// TestExecInsertDrivesConstraintViolationsTotal tests that a real duplicate
// primary key insert through Exec, not a direct .Inc() call, moves
// ConstraintViolationsTotal for the PrimaryKey sub-kind.
func TestExecInsertDrivesConstraintViolationsTotal(t *testing.T) {
	metrics.ConstraintViolationsTotal.Reset()

	db := newTestDB(t)
	createWidgets(t, db)
	db.run(t, `INSERT INTO widgets VALUES (1, 'bolt', 2.5)`)

	err := db.runErr(t, `INSERT INTO widgets VALUES (1, 'nut', 1.0)`)
	require.Error(t, err)

	assert.Equal(t, 1.0, counterValue(t, metrics.ConstraintViolationsTotal.WithLabelValues("PrimaryKey")))
}
