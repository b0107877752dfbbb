// Package exec runs a compiled plan.Plan against a single engine transaction
// (spec §4.H): it evaluates expressions, enforces constraints, maintains
// secondary-index entries, and streams rows back to the caller.
package exec

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/engine"
	"github.com/minifish-org/tegdb/pkg/extension"
	"github.com/minifish-org/tegdb/pkg/rowcodec"
	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/sql/plan"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/telemetry/metrics"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Executor runs plans against the catalog and extension registry shared by
// a database handle; it carries no per-call state of its own.
type Executor struct {
	Catalog  *catalog.Catalog
	Registry *extension.Registry
}

// New returns an Executor bound to cat and reg.
func New(cat *catalog.Catalog, reg *extension.Registry) *Executor {
	return &Executor{Catalog: cat, Registry: reg}
}

// Result is the outcome of executing one plan: exactly one of RowsAffected
// (DDL/Insert/Update/Delete) or Rows (SELECT) is meaningful.
type Result struct {
	RowsAffected int64
	Rows         *RowIter
}

// RowIter streams decoded, projected rows one at a time. Its backing slice
// is a fully materialized snapshot (the engine's Scan already returns one),
// so the "stream" is in the evaluation/decoding sense rather than true
// lazy I/O: a known, accepted simplification given the engine's Scan
// contract.
type RowIter struct {
	rows   []Row
	cols   []string
	idx    int
	closer func() error
}

func newRowIter(rows []Row, cols []string, closer func() error) *RowIter {
	return &RowIter{rows: rows, cols: cols, closer: closer}
}

// Next advances to the next row, returning false once exhausted.
func (it *RowIter) Next() bool {
	if it.idx >= len(it.rows) {
		return false
	}
	it.idx++
	return true
}

// Row returns the current row. Valid only after a Next call returned true.
func (it *RowIter) Row() Row { return it.rows[it.idx-1] }

// Columns returns the output column/alias names in select-list order.
func (it *RowIter) Columns() []string { return it.cols }

// Err always returns nil: materialization errors surface from Next's
// caller via the Executor.Exec error return instead.
func (it *RowIter) Err() error { return nil }

// Close releases the iterator's backing transaction, if Executor.Exec gave
// it one (an implicit, read-only statement owns and must drop its own
// transaction once the caller is done consuming rows).
func (it *RowIter) Close() error {
	if it.closer == nil {
		return nil
	}
	c := it.closer
	it.closer = nil
	return c()
}

// planLabel returns the metrics label for a selection plan kind, matching
// the Go type name of the plan node.
func planLabel(p plan.Plan) string {
	switch p.(type) {
	case *plan.PrimaryKeyLookup:
		return "PrimaryKeyLookup"
	case *plan.PrimaryKeyRange:
		return "PrimaryKeyRange"
	case *plan.TableScan:
		return "TableScan"
	default:
		return "Other"
	}
}

// recordConstraintViolation increments ConstraintViolationsTotal when err is
// a constraint violation, tagged by its sub-kind (PrimaryKey/Unique/NotNull).
// It is a no-op for nil or non-constraint errors.
func recordConstraintViolation(err error) {
	e, ok := err.(*tegerr.Error)
	if !ok || e.Kind != tegerr.KindConstraintViolation {
		return
	}
	metrics.ConstraintViolationsTotal.WithLabelValues(string(e.Constraint)).Inc()
}

// Exec runs p against tx, using params to resolve ?/?N placeholders.
// closeTx, if non-nil, is attached to the returned RowIter's Close (used by
// callers that opened an implicit transaction just to run one query).
func (ex *Executor) Exec(ctx context.Context, tx *engine.Tx, p plan.Plan, params []types.Value, closeTx func() error) (Result, error) {
	switch n := p.(type) {
	case *plan.CreateTable:
		if err := ex.Catalog.CreateTable(tx, n.Schema); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case *plan.DropTable:
		if err := ex.Catalog.DropTable(tx, n.Table); err != nil {
			if n.IfExists && tegerr.Is(err, tegerr.KindTableNotFound) {
				return Result{}, nil
			}
			return Result{}, err
		}
		return Result{}, nil

	case *plan.CreateIndex:
		if err := ex.Catalog.CreateIndex(tx, n.Desc); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case *plan.CreateExtension:
		if err := ex.Registry.LoadExtension(n.Name); err != nil {
			return Result{}, err
		}
		return Result{}, nil

	case *plan.Insert:
		affected, err := ex.execInsert(ctx, tx, n, params)
		recordConstraintViolation(err)
		return Result{RowsAffected: affected}, err

	case *plan.Update:
		affected, err := ex.execUpdate(ctx, tx, n, params)
		recordConstraintViolation(err)
		return Result{RowsAffected: affected}, err

	case *plan.Delete:
		affected, err := ex.execDelete(ctx, tx, n, params)
		recordConstraintViolation(err)
		return Result{RowsAffected: affected}, err

	case *plan.PrimaryKeyLookup, *plan.PrimaryKeyRange, *plan.TableScan:
		label := planLabel(p)
		start := time.Now()
		rows, cols, err := ex.execSelection(ctx, tx, p, params)
		metrics.QueryDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if err != nil {
			return Result{}, err
		}
		metrics.RowsReturnedTotal.WithLabelValues(label).Add(float64(len(rows)))
		return Result{Rows: newRowIter(rows, cols, closeTx)}, nil

	case *plan.Begin, *plan.Commit, *plan.Rollback:
		// Transaction-control plans carry no work of their own: the
		// database handle opens/commits/rolls back the real engine.Tx
		// around statement dispatch.
		return Result{}, nil

	default:
		return Result{}, tegerr.New(tegerr.KindPlanError, "executor: unrecognized plan node")
	}
}

// --- INSERT ---

func (ex *Executor) execInsert(ctx context.Context, tx *engine.Tx, n *plan.Insert, params []types.Value) (int64, error) {
	var count int64
	for _, row := range n.Rows {
		values := make(map[string]types.Value, len(n.Columns))
		for i, colName := range n.Columns {
			v, err := evalExpr(ctx, row[i], nil, params, ex.Registry)
			if err != nil {
				return count, err
			}
			values[colName] = v
		}

		pkCols := n.Schema.PrimaryKeyColumns()
		pkValues := make([]types.Value, len(pkCols))
		for i, col := range pkCols {
			v, ok := values[col.Name]
			if !ok || v.IsNull() {
				return count, tegerr.Constraint(tegerr.ConstraintNotNull, "primary key column "+col.Name+" cannot be NULL")
			}
			pkValues[i] = v
		}

		key, err := catalog.EncodeRowKey(n.Schema, pkValues)
		if err != nil {
			return count, err
		}
		if _, exists := tx.Get([]byte(key)); exists {
			return count, tegerr.Constraint(tegerr.ConstraintPrimaryKey, "duplicate primary key for table "+n.Schema.Table)
		}

		var uxKeys []string
		for _, col := range n.Schema.NonPrimaryKeyColumns() {
			if !col.Unique {
				continue
			}
			v := values[col.Name]
			if v.IsNull() {
				continue
			}
			token, err := catalog.EncodeValueToken(v)
			if err != nil {
				return count, err
			}
			uxKey := "UX:" + n.Schema.Table + ":" + col.Name + ":" + token
			if _, exists := tx.Get([]byte(uxKey)); exists {
				return count, tegerr.Constraint(tegerr.ConstraintUnique, "duplicate value for unique column "+col.Name)
			}
			uxKeys = append(uxKeys, uxKey)
		}

		data, err := rowcodec.Serialize(values, n.Schema)
		if err != nil {
			return count, err
		}
		if err := tx.Set([]byte(key), data); err != nil {
			return count, err
		}
		for _, uxKey := range uxKeys {
			if err := tx.Set([]byte(uxKey), []byte{1}); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// --- SELECT / source rows shared by SELECT, UPDATE, DELETE ---

// fetchedRow is a decoded row plus the storage key it came from, needed by
// UPDATE (to detect a PK change) and DELETE (to remove the right entries).
type fetchedRow struct {
	key    string
	values Row
}

func (ex *Executor) execSelection(ctx context.Context, tx *engine.Tx, p plan.Plan, params []types.Value) ([]Row, []string, error) {
	fetched, base, err := ex.fetchRows(ctx, tx, p, params)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]Row, len(fetched))
	for i, f := range fetched {
		rows[i] = f.values
	}
	return ex.project(ctx, rows, base, params)
}

// fetchRows runs the structural part of a selection plan (PK lookup, PK
// range scan, or full table scan) plus its residual/filter predicate, and
// returns every matching row undecorated by projection or ORDER BY/LIMIT.
func (ex *Executor) fetchRows(ctx context.Context, tx *engine.Tx, p plan.Plan, params []types.Value) ([]fetchedRow, plan.Base, error) {
	switch n := p.(type) {
	case *plan.PrimaryKeyLookup:
		pkValues := make([]types.Value, len(n.PKValues))
		for i, e := range n.PKValues {
			v, err := evalExpr(ctx, e, nil, params, ex.Registry)
			if err != nil {
				return nil, n.Base, err
			}
			pkValues[i] = v
		}
		key, err := catalog.EncodeRowKey(n.Schema, pkValues)
		if err != nil {
			return nil, n.Base, err
		}
		data, ok := tx.Get([]byte(key))
		if !ok {
			return nil, n.Base, nil
		}
		row, err := ex.decodeRow(n.Schema, key, data, n.Projection)
		if err != nil {
			return nil, n.Base, err
		}
		if n.Filter != nil {
			keep, err := evalPredicate(ctx, n.Filter, row, params, ex.Registry)
			if err != nil {
				return nil, n.Base, err
			}
			if !keep.bool() {
				return nil, n.Base, nil
			}
		}
		return []fetchedRow{{key: key, values: row}}, n.Base, nil

	case *plan.PrimaryKeyRange:
		lo, hi, err := ex.rangeBounds(ctx, n, params)
		if err != nil {
			return nil, n.Base, err
		}
		pairs := tx.Scan([]byte(lo), []byte(hi))
		var out []fetchedRow
		for _, pr := range pairs {
			row, err := ex.decodeRow(n.Schema, string(pr.Key), pr.Value, n.Projection)
			if err != nil {
				return nil, n.Base, err
			}
			if n.Filter != nil {
				keep, err := evalPredicate(ctx, n.Filter, row, params, ex.Registry)
				if err != nil {
					return nil, n.Base, err
				}
				if !keep.bool() {
					continue
				}
			}
			out = append(out, fetchedRow{key: string(pr.Key), values: row})
		}
		return out, n.Base, nil

	case *plan.TableScan:
		prefix := n.Schema.Table + ":"
		pairs := tx.Scan([]byte(prefix), engine.PrefixUpperBound(prefix))
		if n.ReverseScan {
			for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
		var out []fetchedRow
		for _, pr := range pairs {
			row, err := ex.decodeRow(n.Schema, string(pr.Key), pr.Value, n.Projection)
			if err != nil {
				return nil, n.Base, err
			}
			if n.Filter != nil {
				keep, err := evalPredicate(ctx, n.Filter, row, params, ex.Registry)
				if err != nil {
					return nil, n.Base, err
				}
				if !keep.bool() {
					continue
				}
			}
			out = append(out, fetchedRow{key: string(pr.Key), values: row})
		}
		if len(n.OrderBy) > 0 {
			sortRows(out, n.OrderBy)
		}
		return out, n.Base, nil

	default:
		return nil, plan.Base{}, tegerr.New(tegerr.KindPlanError, "executor: not a selection plan")
	}
}

// decodeRow merges the PK columns recovered from key with the non-PK
// columns decoded from data, restricted to projection when non-nil.
func (ex *Executor) decodeRow(schema *catalog.Schema, key string, data []byte, projection []string) (Row, error) {
	pkValues, err := catalog.DecodeRowKey(schema, key)
	if err != nil {
		return nil, err
	}
	row := make(Row, len(schema.Columns))
	pkCols := schema.PrimaryKeyColumns()
	for i, col := range pkCols {
		row[col.Name] = pkValues[i]
	}

	var nonPK map[string]types.Value
	if projection == nil {
		nonPK, err = rowcodec.DeserializeFull(data, schema)
	} else {
		var want []string
		for _, c := range projection {
			if col, ok := schema.Column(c); ok && !col.PrimaryKey {
				want = append(want, c)
			}
		}
		nonPK, err = rowcodec.DeserializeColumns(data, schema, want)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range nonPK {
		row[k] = v
	}
	return row, nil
}

// rangeBounds computes the [lo, hi) storage-key bounds for a PrimaryKeyRange
// plan, folding LoInclusive/HiInclusive into whether the bound string
// includes continuations of equal-valued keys (see pkg/catalog/pkkey.go).
func (ex *Executor) rangeBounds(ctx context.Context, n *plan.PrimaryKeyRange, params []types.Value) (lo, hi string, err error) {
	prefixValues := make([]types.Value, len(n.Prefix))
	for i, e := range n.Prefix {
		v, err := evalExpr(ctx, e, nil, params, ex.Registry)
		if err != nil {
			return "", "", err
		}
		prefixValues[i] = v
	}

	if n.Lo == nil {
		lo, err = catalog.EncodeRowKeyPrefix(n.Schema, prefixValues)
		if err != nil {
			return "", "", err
		}
	} else {
		loVal, err := evalExpr(ctx, n.Lo, nil, params, ex.Registry)
		if err != nil {
			return "", "", err
		}
		lo, err = catalog.EncodeRowKeyBound(n.Schema, prefixValues, loVal)
		if err != nil {
			return "", "", err
		}
		if !n.LoInclusive {
			lo += "~"
		}
	}

	if n.Hi == nil {
		prefix, err := catalog.EncodeRowKeyPrefix(n.Schema, prefixValues)
		if err != nil {
			return "", "", err
		}
		hi = string(engine.PrefixUpperBound(prefix))
	} else {
		hiVal, err := evalExpr(ctx, n.Hi, nil, params, ex.Registry)
		if err != nil {
			return "", "", err
		}
		hi, err = catalog.EncodeRowKeyBound(n.Schema, prefixValues, hiVal)
		if err != nil {
			return "", "", err
		}
		if n.HiInclusive {
			hi += "~"
		}
	}
	return lo, hi, nil
}

func sortRows(rows []fetchedRow, orderBy []ast.OrderTerm) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range orderBy {
			a, aok := lookupColumn(rows[i].values, term.Column)
			b, bok := lookupColumn(rows[j].values, term.Column)
			if !aok || !bok || a.IsNull() || b.IsNull() {
				continue
			}
			c := a.Compare(b)
			if c == 0 {
				continue
			}
			if term.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// --- projection, including the whole-result-set aggregate path ---

func (ex *Executor) project(ctx context.Context, rows []Row, base plan.Base, params []types.Value) ([]Row, []string, error) {
	if base.Items == nil {
		return rows, nil, nil // backing an UPDATE/DELETE
	}

	if hasAggregate(base.Items, ex.Registry) {
		row, cols, err := ex.projectAggregate(ctx, rows, base.Items, params)
		if err != nil {
			return nil, nil, err
		}
		return []Row{row}, cols, nil
	}

	if base.Limit != nil && int64(len(rows)) > *base.Limit {
		rows = rows[:*base.Limit]
	}

	var cols []string
	out := make([]Row, len(rows))
	for i, r := range rows {
		projected, names, err := projectRow(ctx, r, base.Items, params, ex.Registry)
		if err != nil {
			return nil, nil, err
		}
		out[i] = projected
		cols = names
	}
	return out, cols, nil
}

func hasAggregate(items []ast.SelectItem, reg *extension.Registry) bool {
	for _, it := range items {
		if fc, ok := it.Expr.(*ast.FuncCall); ok && reg.IsAggregate(fc.Name) {
			return true
		}
	}
	return false
}

func projectRow(ctx context.Context, row Row, items []ast.SelectItem, params []types.Value, reg *extension.Registry) (Row, []string, error) {
	if items[0].Star {
		names := make([]string, 0, len(row))
		for k := range row {
			names = append(names, k)
		}
		sort.Strings(names)
		return row, names, nil
	}
	out := make(Row, len(items))
	names := make([]string, len(items))
	for i, it := range items {
		v, err := evalExpr(ctx, it.Expr, row, params, reg)
		if err != nil {
			return nil, nil, err
		}
		name := it.Alias
		if name == "" {
			name = exprLabel(it.Expr)
		}
		out[name] = v
		names[i] = name
	}
	return out, names, nil
}

func exprLabel(e ast.Expr) string {
	if ref, ok := e.(*ast.ColumnRef); ok {
		return ref.Name
	}
	if fc, ok := e.(*ast.FuncCall); ok {
		return strings.ToLower(fc.Name)
	}
	return "?column?"
}

func (ex *Executor) projectAggregate(ctx context.Context, rows []Row, items []ast.SelectItem, params []types.Value) (Row, []string, error) {
	states := make([]extension.AggState, len(items))
	funcs := make([]extension.AggregateFunc, len(items))
	names := make([]string, len(items))
	for i, it := range items {
		fc, ok := it.Expr.(*ast.FuncCall)
		if !ok || !ex.Registry.IsAggregate(fc.Name) {
			return nil, nil, tegerr.New(tegerr.KindPlanError, "cannot mix aggregate and non-aggregate columns without GROUP BY")
		}
		f, _ := ex.Registry.LookupAggregate(fc.Name)
		funcs[i] = f
		states[i] = f.Init()
		name := it.Alias
		if name == "" {
			name = strings.ToLower(fc.Name)
		}
		names[i] = name
	}

	for _, row := range rows {
		for i, it := range items {
			fc := it.Expr.(*ast.FuncCall)
			args := make([]types.Value, len(fc.Args))
			for j, a := range fc.Args {
				if ref, ok := a.(*ast.ColumnRef); ok && ref.Name == "*" {
					args[j] = types.IntValue(1)
					continue
				}
				v, err := evalExpr(ctx, a, row, params, ex.Registry)
				if err != nil {
					return nil, nil, err
				}
				args[j] = v
			}
			next, err := funcs[i].Accumulate(states[i], args)
			if err != nil {
				return nil, nil, err
			}
			states[i] = next
		}
	}

	out := make(Row, len(items))
	for i, name := range names {
		v, err := funcs[i].Finalize(states[i])
		if err != nil {
			return nil, nil, err
		}
		out[name] = v
	}
	return out, names, nil
}

// --- UPDATE ---

func (ex *Executor) execUpdate(ctx context.Context, tx *engine.Tx, n *plan.Update, params []types.Value) (int64, error) {
	fetched, base, err := ex.fetchRows(ctx, tx, n.Source, params)
	if err != nil {
		return 0, err
	}
	schema := base.Schema
	pkCols := schema.PrimaryKeyColumns()
	pkNames := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pkNames[c.Name] = true
	}

	var count int64
	for _, f := range fetched {
		newValues := make(Row, len(f.values))
		for k, v := range f.values {
			newValues[k] = v
		}
		pkChanged := false
		for _, a := range n.Assignments {
			v, err := evalExpr(ctx, a.Value, f.values, params, ex.Registry)
			if err != nil {
				return count, err
			}
			if pkNames[a.Column] && !v.Equal(f.values[a.Column]) {
				pkChanged = true
			}
			newValues[a.Column] = v
		}

		if err := ex.replaceUniqueEntries(tx, schema, f.values, newValues); err != nil {
			return count, err
		}

		if pkChanged {
			newPK := make([]types.Value, len(pkCols))
			for i, c := range pkCols {
				newPK[i] = newValues[c.Name]
			}
			newKey, err := catalog.EncodeRowKey(schema, newPK)
			if err != nil {
				return count, err
			}
			if newKey != f.key {
				if _, exists := tx.Get([]byte(newKey)); exists {
					return count, tegerr.Constraint(tegerr.ConstraintPrimaryKey, "duplicate primary key for table "+schema.Table)
				}
				if err := tx.Del([]byte(f.key)); err != nil {
					return count, err
				}
			}
			data, err := rowcodec.Serialize(newValues, schema)
			if err != nil {
				return count, err
			}
			if err := tx.Set([]byte(newKey), data); err != nil {
				return count, err
			}
		} else {
			data, err := rowcodec.Serialize(newValues, schema)
			if err != nil {
				return count, err
			}
			if err := tx.Set([]byte(f.key), data); err != nil {
				return count, err
			}
		}
		count++
	}
	return count, nil
}

// replaceUniqueEntries drops the UX: entries for any UNIQUE column whose
// value changed and re-checks/re-inserts the new ones.
func (ex *Executor) replaceUniqueEntries(tx *engine.Tx, schema *catalog.Schema, oldValues, newValues Row) error {
	for _, col := range schema.NonPrimaryKeyColumns() {
		if !col.Unique {
			continue
		}
		oldV, newV := oldValues[col.Name], newValues[col.Name]
		if oldV.Equal(newV) {
			continue
		}
		if !oldV.IsNull() {
			oldToken, err := catalog.EncodeValueToken(oldV)
			if err != nil {
				return err
			}
			if err := tx.Del([]byte("UX:" + schema.Table + ":" + col.Name + ":" + oldToken)); err != nil {
				return err
			}
		}
		if !newV.IsNull() {
			newToken, err := catalog.EncodeValueToken(newV)
			if err != nil {
				return err
			}
			uxKey := "UX:" + schema.Table + ":" + col.Name + ":" + newToken
			if _, exists := tx.Get([]byte(uxKey)); exists {
				return tegerr.Constraint(tegerr.ConstraintUnique, "duplicate value for unique column "+col.Name)
			}
			if err := tx.Set([]byte(uxKey), []byte{1}); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- DELETE ---

func (ex *Executor) execDelete(ctx context.Context, tx *engine.Tx, n *plan.Delete, params []types.Value) (int64, error) {
	fetched, base, err := ex.fetchRows(ctx, tx, n.Source, params)
	if err != nil {
		return 0, err
	}
	schema := base.Schema

	var count int64
	for _, f := range fetched {
		for _, col := range schema.NonPrimaryKeyColumns() {
			if !col.Unique {
				continue
			}
			v := f.values[col.Name]
			if v.IsNull() {
				continue
			}
			token, err := catalog.EncodeValueToken(v)
			if err != nil {
				return count, err
			}
			if err := tx.Del([]byte("UX:" + schema.Table + ":" + col.Name + ":" + token)); err != nil {
				return count, err
			}
		}
		if err := tx.Del([]byte(f.key)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
