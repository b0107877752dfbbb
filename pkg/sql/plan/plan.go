// Package plan compiles a parsed ast.Statement into an execution plan,
// choosing between a primary-key lookup, a primary-key range scan, and a
// full table scan the way spec §4.G describes. The planner never consults
// runtime statistics: its choices are purely structural.
package plan

import (
	"strings"

	"github.com/minifish-org/tegdb/pkg/catalog"
	"github.com/minifish-org/tegdb/pkg/sql/ast"
	"github.com/minifish-org/tegdb/pkg/tegerr"
	"github.com/minifish-org/tegdb/pkg/types"
)

// Plan is implemented by every plan node the query processor knows how to
// run.
type Plan interface{ planNode() }

// Base holds the fields shared by every row-producing plan: the table and
// its schema, the original select-list (nil for a plan built to back an
// UPDATE/DELETE, which needs full rows rather than a projection), a decode
// projection hint, and a row limit.
type Base struct {
	Table      string
	Schema     *catalog.Schema
	Items      []ast.SelectItem // nil outside of SELECT
	Projection []string         // raw column names to decode; nil means "all"
	Limit      *int64
}

func (Base) planNode() {}

// PrimaryKeyLookup looks up exactly one row by its full primary key.
type PrimaryKeyLookup struct {
	Base
	PKValues []ast.Expr
	Filter   ast.Expr // residual predicate re-checked after the point lookup, if any
}

// PrimaryKeyRange scans a contiguous slice of the keyspace bounded by an
// equality prefix over the leading PK columns and a comparison/BETWEEN on
// the next PK column.
type PrimaryKeyRange struct {
	Base
	Prefix       []ast.Expr
	Column       string
	Lo, Hi       ast.Expr // nil when that side is unbounded
	LoInclusive  bool
	HiInclusive  bool
	Filter       ast.Expr
}

// TableScan iterates every row of the table's keyspace, the fallback plan
// when no PK-based narrowing applies.
type TableScan struct {
	Base
	Filter      ast.Expr
	OrderBy     []ast.OrderTerm // non-empty means a post-scan sort is required
	ReverseScan bool            // ORDER BY folded into scan direction (rule 6)
}

// CreateTable persists a new schema.
type CreateTable struct{ Schema *catalog.Schema }

// DropTable removes a table and all of its rows and secondary indexes.
type DropTable struct {
	Table    string
	IfExists bool
}

// CreateIndex persists an index descriptor. HNSW indexes are metadata-only:
// they never change plan selection.
type CreateIndex struct{ Desc catalog.IndexDescriptor }

// CreateExtension hands an extension name to the registry, opaque to the
// planner.
type CreateExtension struct{ Name string }

// Insert evaluates and writes one or more rows.
type Insert struct {
	Table   string
	Schema  *catalog.Schema
	Columns []string
	Rows    [][]ast.Expr
}

// Update wraps a selection plan; each row it produces is overwritten with
// Assignments applied.
type Update struct {
	Source      Plan
	Assignments []ast.Assignment
}

// Delete wraps a selection plan; each row it produces is removed.
type Delete struct{ Source Plan }

// Begin, Commit, Rollback are transaction-control plans.
type Begin struct{}
type Commit struct{}
type Rollback struct{}

func (*CreateTable) planNode()     {}
func (*DropTable) planNode()       {}
func (*CreateIndex) planNode()     {}
func (*CreateExtension) planNode() {}
func (*Insert) planNode()          {}
func (*Update) planNode()          {}
func (*Delete) planNode()          {}
func (*Begin) planNode()           {}
func (*Commit) planNode()          {}
func (*Rollback) planNode()        {}

// Build compiles stmt into a Plan against the current catalog.
func Build(cat *catalog.Catalog, stmt ast.Statement) (Plan, error) {
	switch s := stmt.(type) {
	case *ast.CreateTable:
		return buildCreateTable(s)
	case *ast.CreateIndex:
		return buildCreateIndex(cat, s)
	case *ast.DropTable:
		return buildDropTable(cat, s)
	case *ast.CreateExtension:
		return &CreateExtension{Name: s.Name}, nil
	case *ast.Insert:
		return buildInsert(cat, s)
	case *ast.Update:
		return buildUpdate(cat, s)
	case *ast.Delete:
		return buildDelete(cat, s)
	case *ast.Select:
		return buildSelect(cat, s)
	case *ast.Begin:
		return &Begin{}, nil
	case *ast.Commit:
		return &Commit{}, nil
	case *ast.Rollback:
		return &Rollback{}, nil
	default:
		return nil, tegerr.New(tegerr.KindPlanError, "unrecognized statement")
	}
}

func lookupSchema(cat *catalog.Catalog, table string) (*catalog.Schema, error) {
	schema, ok := cat.Get(table)
	if !ok {
		return nil, tegerr.New(tegerr.KindTableNotFound, "table "+table+" does not exist")
	}
	return schema, nil
}

func buildCreateTable(s *ast.CreateTable) (Plan, error) {
	schema := &catalog.Schema{Table: s.Table}
	for _, c := range s.Columns {
		schema.Columns = append(schema.Columns, catalog.Column{
			Name:       c.Name,
			DataType:   c.DataType,
			MaxLen:     c.MaxLen,
			Dim:        c.Dim,
			PrimaryKey: c.PrimaryKey,
			NotNull:    c.NotNull,
			Unique:     c.Unique,
		})
	}
	if err := catalog.ComputeMetadata(schema); err != nil {
		return nil, err
	}
	return &CreateTable{Schema: schema}, nil
}

func buildCreateIndex(cat *catalog.Catalog, s *ast.CreateIndex) (Plan, error) {
	schema, err := lookupSchema(cat, s.Table)
	if err != nil {
		return nil, err
	}
	if _, ok := schema.Column(s.Column); !ok {
		return nil, tegerr.New(tegerr.KindColumnNotFound, "column "+s.Column+" does not exist on table "+s.Table)
	}
	kind := catalog.IndexUnique
	if s.HNSW {
		kind = catalog.IndexHNSW
	}
	return &CreateIndex{Desc: catalog.IndexDescriptor{Name: s.Name, Table: s.Table, Column: s.Column, Kind: kind}}, nil
}

func buildDropTable(cat *catalog.Catalog, s *ast.DropTable) (Plan, error) {
	if _, ok := cat.Get(s.Table); !ok && !s.IfExists {
		return nil, tegerr.New(tegerr.KindTableNotFound, "table "+s.Table+" does not exist")
	}
	return &DropTable{Table: s.Table, IfExists: s.IfExists}, nil
}

func buildInsert(cat *catalog.Catalog, s *ast.Insert) (Plan, error) {
	schema, err := lookupSchema(cat, s.Table)
	if err != nil {
		return nil, err
	}
	columns := s.Columns
	if len(columns) == 0 {
		for _, c := range schema.Columns {
			columns = append(columns, c.Name)
		}
	}
	rows := make([][]ast.Expr, len(s.Rows))
	for i, row := range s.Rows {
		if len(row) != len(columns) {
			return nil, tegerr.New(tegerr.KindPlanError, "value count does not match column count")
		}
		folded := make([]ast.Expr, len(row))
		for j, e := range row {
			folded[j] = foldConstants(e)
		}
		rows[i] = folded
	}
	return &Insert{Table: s.Table, Schema: schema, Columns: columns, Rows: rows}, nil
}

func buildUpdate(cat *catalog.Catalog, s *ast.Update) (Plan, error) {
	schema, err := lookupSchema(cat, s.Table)
	if err != nil {
		return nil, err
	}
	source, err := buildSelection(schema, s.Where, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	assigns := make([]ast.Assignment, len(s.Assignments))
	for i, a := range s.Assignments {
		assigns[i] = ast.Assignment{Column: a.Column, Value: foldConstants(a.Value)}
	}
	return &Update{Source: source, Assignments: assigns}, nil
}

func buildDelete(cat *catalog.Catalog, s *ast.Delete) (Plan, error) {
	schema, err := lookupSchema(cat, s.Table)
	if err != nil {
		return nil, err
	}
	source, err := buildSelection(schema, s.Where, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return &Delete{Source: source}, nil
}

func buildSelect(cat *catalog.Catalog, s *ast.Select) (Plan, error) {
	schema, err := lookupSchema(cat, s.Table)
	if err != nil {
		return nil, err
	}
	items := make([]ast.SelectItem, len(s.Items))
	for i, it := range s.Items {
		if it.Expr != nil {
			it.Expr = foldConstants(it.Expr)
		}
		items[i] = it
	}
	return buildSelection(schema, s.Where, items, s.Limit, s.OrderBy)
}

// buildSelection implements planner rules 2-6: PK-equality detection,
// PK-range detection, table-scan fallback, LIMIT pushdown, and ORDER BY
// folding into scan direction.
func buildSelection(schema *catalog.Schema, where ast.Expr, items []ast.SelectItem, limit *int64, orderBy []ast.OrderTerm) (Plan, error) {
	if where != nil {
		where = foldConstants(where)
	}
	projection := computeProjection(schema, items, where, orderBy)
	base := Base{Table: schema.Table, Schema: schema, Items: items, Projection: projection, Limit: limit}

	if where != nil {
		if pkValues, ok := tryPKEquality(schema, where); ok {
			return &PrimaryKeyLookup{Base: base, PKValues: pkValues}, nil
		}
		if rm, ok := tryPKRange(schema, where); ok {
			return &PrimaryKeyRange{
				Base: base, Prefix: rm.prefix, Column: rm.column,
				Lo: rm.lo, Hi: rm.hi, LoInclusive: rm.loInclusive, HiInclusive: rm.hiInclusive,
				Filter: rm.residual,
			}, nil
		}
	}

	scan := &TableScan{Base: base, Filter: where, OrderBy: orderBy}
	foldOrderByIntoScanDirection(schema, scan)
	return scan, nil
}

// foldOrderByIntoScanDirection implements rule 6: a single-column ORDER BY
// on the (single-column) primary key needs no post-sort, since AscendRange
// already visits rows in PK order.
func foldOrderByIntoScanDirection(schema *catalog.Schema, scan *TableScan) {
	pkCols := schema.PrimaryKeyColumns()
	if len(pkCols) != 1 || len(scan.OrderBy) != 1 {
		return
	}
	term := scan.OrderBy[0]
	if !strings.EqualFold(term.Column, pkCols[0].Name) {
		return
	}
	scan.ReverseScan = term.Desc
	scan.OrderBy = nil
}

// --- constant folding ---

func foldConstants(e ast.Expr) ast.Expr {
	switch v := e.(type) {
	case *ast.BinaryExpr:
		l := foldConstants(v.L)
		r := foldConstants(v.R)
		if isArithOp(v.Op) {
			if ll, ok := l.(*ast.Literal); ok {
				if rl, ok := r.(*ast.Literal); ok {
					if folded, err := EvalArith(v.Op, ll.Value, rl.Value); err == nil {
						return &ast.Literal{Value: folded}
					}
				}
			}
		}
		return &ast.BinaryExpr{Op: v.Op, L: l, R: r}
	case *ast.UnaryExpr:
		x := foldConstants(v.X)
		if v.Op == "-" {
			if lit, ok := x.(*ast.Literal); ok && (lit.Value.Type == types.Integer || lit.Value.Type == types.Real) {
				return &ast.Literal{Value: negateValue(lit.Value)}
			}
		}
		return &ast.UnaryExpr{Op: v.Op, X: x}
	case *ast.BetweenExpr:
		return &ast.BetweenExpr{X: foldConstants(v.X), Lo: foldConstants(v.Lo), Hi: foldConstants(v.Hi)}
	case *ast.IsNullExpr:
		return &ast.IsNullExpr{X: foldConstants(v.X), Not: v.Not}
	case *ast.FuncCall:
		args := make([]ast.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = foldConstants(a)
		}
		return &ast.FuncCall{Name: v.Name, Args: args}
	case *ast.VectorLiteral:
		elems := make([]ast.Expr, len(v.Elements))
		for i, el := range v.Elements {
			elems[i] = foldConstants(el)
		}
		return &ast.VectorLiteral{Elements: elems}
	default:
		return e
	}
}

func isArithOp(op string) bool {
	return op == "+" || op == "-" || op == "*" || op == "/"
}

func negateValue(v types.Value) types.Value {
	if v.Type == types.Integer {
		return types.IntValue(-v.I)
	}
	return types.RealValue(-v.F)
}

func EvalArith(op string, a, b types.Value) (types.Value, error) {
	if op == "+" && a.Type == types.Text && b.Type == types.Text {
		return types.TextValue(a.S + b.S), nil
	}
	if a.Type != types.Integer && a.Type != types.Real {
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, "non-numeric constant in arithmetic expression")
	}
	if b.Type != types.Integer && b.Type != types.Real {
		return types.Value{}, tegerr.New(tegerr.KindTypeMismatch, "non-numeric constant in arithmetic expression")
	}
	if a.Type == types.Integer && b.Type == types.Integer {
		switch op {
		case "+":
			return types.IntValue(a.I + b.I), nil
		case "-":
			return types.IntValue(a.I - b.I), nil
		case "*":
			return types.IntValue(a.I * b.I), nil
		case "/":
			if b.I == 0 {
				return types.Value{}, tegerr.New(tegerr.KindDivisionByZero, "division by zero")
			}
			return types.IntValue(a.I / b.I), nil
		}
	}
	af, bf := a.AsFloat64(), b.AsFloat64()
	switch op {
	case "+":
		return types.RealValue(af + bf), nil
	case "-":
		return types.RealValue(af - bf), nil
	case "*":
		return types.RealValue(af * bf), nil
	case "/":
		if bf == 0 {
			return types.Value{}, tegerr.New(tegerr.KindDivisionByZero, "division by zero")
		}
		return types.RealValue(af / bf), nil
	}
	return types.Value{}, tegerr.New(tegerr.KindOther, "unknown arithmetic operator "+op)
}

// --- projection ---

func computeProjection(schema *catalog.Schema, items []ast.SelectItem, where ast.Expr, orderBy []ast.OrderTerm) []string {
	if items == nil {
		return nil // backing an UPDATE/DELETE: need every column
	}
	set := map[string]bool{}
	for _, it := range items {
		if it.Star {
			return nil
		}
		collectColumnRefs(it.Expr, set)
	}
	if where != nil {
		collectColumnRefs(where, set)
	}
	for _, t := range orderBy {
		set[strings.ToLower(t.Column)] = true
	}
	if len(set) == 0 {
		return nil
	}
	cols := make([]string, 0, len(set))
	for _, c := range schema.Columns {
		if set[strings.ToLower(c.Name)] {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

func collectColumnRefs(e ast.Expr, set map[string]bool) {
	switch v := e.(type) {
	case *ast.ColumnRef:
		set[strings.ToLower(v.Name)] = true
	case *ast.UnaryExpr:
		collectColumnRefs(v.X, set)
	case *ast.BinaryExpr:
		collectColumnRefs(v.L, set)
		collectColumnRefs(v.R, set)
	case *ast.BetweenExpr:
		collectColumnRefs(v.X, set)
		collectColumnRefs(v.Lo, set)
		collectColumnRefs(v.Hi, set)
	case *ast.IsNullExpr:
		collectColumnRefs(v.X, set)
	case *ast.FuncCall:
		for _, a := range v.Args {
			collectColumnRefs(a, set)
		}
	case *ast.VectorLiteral:
		for _, el := range v.Elements {
			collectColumnRefs(el, set)
		}
	}
}

// --- PK predicate detection ---

func conjuncts(e ast.Expr) []ast.Expr {
	if be, ok := e.(*ast.BinaryExpr); ok && be.Op == "AND" {
		return append(conjuncts(be.L), conjuncts(be.R)...)
	}
	return []ast.Expr{e}
}

func andAll(exprs []ast.Expr) ast.Expr {
	result := exprs[0]
	for _, e := range exprs[1:] {
		result = &ast.BinaryExpr{Op: "AND", L: result, R: e}
	}
	return result
}

func isConstantLike(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Literal, *ast.Param:
		return true
	default:
		return false
	}
}

// tryPKEquality succeeds only when every PK column has exactly one equality
// conjunct and there are no other conjuncts.
func tryPKEquality(schema *catalog.Schema, where ast.Expr) ([]ast.Expr, bool) {
	pkCols := schema.PrimaryKeyColumns()
	conj := conjuncts(where)
	if len(conj) != len(pkCols) {
		return nil, false
	}
	used := make([]bool, len(conj))
	values := make([]ast.Expr, len(pkCols))
	for i, col := range pkCols {
		idx, val := findEquality(conj, used, col.Name)
		if idx < 0 {
			return nil, false
		}
		used[idx] = true
		values[i] = val
	}
	return values, true
}

func findEquality(conj []ast.Expr, used []bool, colName string) (int, ast.Expr) {
	for i, c := range conj {
		if used[i] {
			continue
		}
		be, ok := c.(*ast.BinaryExpr)
		if !ok || be.Op != "=" {
			continue
		}
		if ref, ok := be.L.(*ast.ColumnRef); ok && strings.EqualFold(ref.Name, colName) && isConstantLike(be.R) {
			return i, be.R
		}
		if ref, ok := be.R.(*ast.ColumnRef); ok && strings.EqualFold(ref.Name, colName) && isConstantLike(be.L) {
			return i, be.L
		}
	}
	return -1, nil
}

type rangeMatch struct {
	prefix               []ast.Expr
	column               string
	lo, hi               ast.Expr
	loInclusive, hiInclusive bool
	residual             ast.Expr
}

// tryPKRange matches an equality prefix over the leading PK columns
// followed by a comparison or BETWEEN on the next PK column.
func tryPKRange(schema *catalog.Schema, where ast.Expr) (rangeMatch, bool) {
	pkCols := schema.PrimaryKeyColumns()
	conj := conjuncts(where)
	used := make([]bool, len(conj))

	var prefix []ast.Expr
	colIdx := 0
	for colIdx < len(pkCols) {
		idx, val := findEquality(conj, used, pkCols[colIdx].Name)
		if idx < 0 {
			break
		}
		used[idx] = true
		prefix = append(prefix, val)
		colIdx++
	}
	if colIdx >= len(pkCols) {
		return rangeMatch{}, false // full equality; tryPKEquality already owns this shape
	}

	rangeCol := pkCols[colIdx]
	lo, hi, loInc, hiInc, consumed, ok := findRangeBound(conj, used, rangeCol.Name)
	if !ok {
		return rangeMatch{}, false
	}
	for _, i := range consumed {
		used[i] = true
	}

	var residualParts []ast.Expr
	for i, c := range conj {
		if !used[i] {
			residualParts = append(residualParts, c)
		}
	}
	var residual ast.Expr
	if len(residualParts) > 0 {
		residual = andAll(residualParts)
	}

	return rangeMatch{
		prefix: prefix, column: rangeCol.Name,
		lo: lo, hi: hi, loInclusive: loInc, hiInclusive: hiInc,
		residual: residual,
	}, true
}

func findRangeBound(conj []ast.Expr, used []bool, colName string) (lo, hi ast.Expr, loInc, hiInc bool, consumed []int, ok bool) {
	for i, c := range conj {
		if used[i] {
			continue
		}
		switch be := c.(type) {
		case *ast.BetweenExpr:
			ref, isCol := be.X.(*ast.ColumnRef)
			if !isCol || !strings.EqualFold(ref.Name, colName) {
				continue
			}
			return be.Lo, be.Hi, true, true, []int{i}, true

		case *ast.BinaryExpr:
			bound, flippedOp, matched := columnAndBound(be, colName)
			if !matched {
				continue
			}
			switch flippedOp {
			case ">":
				if lo == nil {
					lo, loInc, consumed = bound, false, append(consumed, i)
				}
			case ">=":
				if lo == nil {
					lo, loInc, consumed = bound, true, append(consumed, i)
				}
			case "<":
				if hi == nil {
					hi, hiInc, consumed = bound, false, append(consumed, i)
				}
			case "<=":
				if hi == nil {
					hi, hiInc, consumed = bound, true, append(consumed, i)
				}
			default:
				continue
			}
		}
	}
	if lo == nil && hi == nil {
		return nil, nil, false, false, nil, false
	}
	return lo, hi, loInc, hiInc, consumed, true
}

// columnAndBound recognizes `col OP const` or `const OP col` against
// colName, normalizing to the column-on-the-left operator spelling (e.g.
// `5 < col` becomes `col > 5`).
func columnAndBound(be *ast.BinaryExpr, colName string) (ast.Expr, string, bool) {
	if !isComparisonOp(be.Op) {
		return nil, "", false
	}
	if ref, ok := be.L.(*ast.ColumnRef); ok && strings.EqualFold(ref.Name, colName) && isConstantLike(be.R) {
		return be.R, be.Op, true
	}
	if ref, ok := be.R.(*ast.ColumnRef); ok && strings.EqualFold(ref.Name, colName) && isConstantLike(be.L) {
		return be.L, flipOp(be.Op), true
	}
	return nil, "", false
}

func isComparisonOp(op string) bool {
	switch op {
	case "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func flipOp(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	default:
		return op
	}
}
